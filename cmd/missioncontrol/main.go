// Command missioncontrol runs the agent task queue and its control API, and
// offers one-shot commands for seeding, task intake and maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"missioncontrol/internal/kernel"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/logx"
)

type globalOptions struct {
	projectDir string
	tee        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "missioncontrol",
		Short: "Agent task queue and control API",
		Long: `Mission Control runs a fleet of LLM agents against a shared task board:
a single queue executes todo tasks one at a time, results are auto-reviewed,
and a Producer agent refills the board when it runs dry.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.projectDir, "projectdir", ".", "Project directory (holds .missioncontrol/)")
	root.PersistentFlags().BoolVar(&opts.tee, "tee", false, "Serve: write logs to the console as well as the log file")

	root.AddCommand(
		newServeCmd(opts),
		newQueueCmd(opts),
		newTaskCmd(opts),
		newProduceCmd(opts),
		newSeedCmd(opts),
		newHealthCmd(opts),
		newSecretsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadProject loads the project config and unlocks the secrets file if one
// exists.
func loadProject(dir string) (config.Config, error) {
	if err := config.LoadConfig(dir); err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := unlockSecrets(dir); err != nil {
		return config.Config{}, err
	}
	return config.GetConfig()
}

func unlockSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password, err := projectPassword(false)
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	// The unlock password doubles as the control API password.
	if _, ok := secrets[config.EnvServerPassword]; !ok {
		secrets[config.EnvServerPassword] = password
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// projectPassword returns the project password from the environment or the
// terminal. confirm asks twice, for new secrets files.
func projectPassword(confirm bool) (string, error) {
	if p := os.Getenv(config.EnvServerPassword); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("secrets are encrypted: set %s or run interactively", config.EnvServerPassword)
	}

	fmt.Fprint(os.Stderr, "Project password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if !confirm {
		return string(first), nil
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

// withKernel wires a kernel for one command and closes it afterwards.
func withKernel(ctx context.Context, opts *globalOptions, fn func(context.Context, *kernel.Kernel) error) error {
	cfg, err := loadProject(opts.projectDir)
	if err != nil {
		return err
	}
	k, err := kernel.New(cfg, kernel.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := k.Close(); cerr != nil {
			logx.NewLogger("cli").Warn("failed to close: %v", cerr)
		}
	}()
	return fn(ctx, k)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
