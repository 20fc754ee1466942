package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"missioncontrol/pkg/config"
)

func newSecretsCmd(opts *globalOptions) *cobra.Command {
	secrets := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file",
	}
	secrets.AddCommand(&cobra.Command{
		Use:   "set <NAME> [VALUE]",
		Short: "Store a secret (prompted for when VALUE is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := readSecretValue(name)
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return fmt.Errorf("empty value for %s", name)
			}

			exists := config.SecretsFileExists(opts.projectDir)
			password, err := projectPassword(!exists)
			if err != nil {
				return err
			}
			stored := map[string]string{}
			if exists {
				if stored, err = config.DecryptSecretsFile(opts.projectDir, password); err != nil {
					return fmt.Errorf("failed to decrypt secrets: %w", err)
				}
			}
			if stored == nil {
				stored = map[string]string{}
			}
			stored[name] = value
			if err := config.EncryptSecretsFile(opts.projectDir, password, stored); err != nil {
				return fmt.Errorf("failed to encrypt secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔐 Stored %s in %s\n", name, config.SecretsFilePath(opts.projectDir))
			return nil
		},
	})
	return secrets
}

func readSecretValue(name string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no value given for %s and stdin is not a terminal", name)
	}
	fmt.Fprintf(os.Stderr, "%s: ", name)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	return string(b), nil
}
