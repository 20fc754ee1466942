package config

import (
	"os"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	password := "test-password-12345"
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	if err := EncryptSecretsFile(tmpDir, password, secrets); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	info, err := os.Stat(SecretsFilePath(tmpDir))
	if err != nil {
		t.Fatalf("Failed to stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	decrypted, err := DecryptSecretsFile(tmpDir, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	for key, want := range secrets {
		if got := decrypted[key]; got != want {
			t.Errorf("Secret %s: expected %q, got %q", key, want, got)
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EncryptSecretsFile(tmpDir, "correct-password", map[string]string{"K": "v"}); err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecretsFile(tmpDir, "wrong-password"); err == nil {
		t.Fatal("Expected decryption to fail with wrong password")
	}
}

func TestDecryptFixesPermissions(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{"K": "v"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(SecretsFilePath(tmpDir), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecretsFile(tmpDir, "pw"); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	info, _ := os.Stat(SecretsFilePath(tmpDir))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected permissions reset to 0600, got %04o", info.Mode().Perm())
	}
}

func TestSecretsFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	if SecretsFileExists(tmpDir) {
		t.Error("Expected no secrets file in empty dir")
	}
	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if !SecretsFileExists(tmpDir) {
		t.Error("Expected secrets file to exist after encrypt")
	}
}

func TestGetSecretPrefersDecrypted(t *testing.T) {
	t.Setenv("MC_TEST_SECRET", "from-env")
	SetDecryptedSecrets(map[string]string{"MC_TEST_SECRET": "from-file"})
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	got, err := GetSecret("MC_TEST_SECRET")
	if err != nil || got != "from-file" {
		t.Fatalf("expected from-file, got %q (%v)", got, err)
	}

	SetDecryptedSecrets(nil)
	got, err = GetSecret("MC_TEST_SECRET")
	if err != nil || got != "from-env" {
		t.Fatalf("expected from-env, got %q (%v)", got, err)
	}

	if _, err := GetSecret("MC_TEST_SECRET_MISSING"); err == nil {
		t.Error("expected error for missing secret")
	}
}
