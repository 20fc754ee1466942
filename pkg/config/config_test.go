package config

import (
	"math"
	"os"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Cleanup(func() { SetConfigForTesting(nil) })

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, err := os.Stat(ConfigPath(tmpDir)); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg, err := GetConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Loop.MaxTodoPerAgent != 2 || cfg.Loop.MaxReviewPerContentCategory != 3 || cfg.Loop.StagingBlockThreshold != 6 {
		t.Errorf("unexpected loop defaults: %+v", cfg.Loop)
	}
	if cfg.Executor.MaxToolRounds != 10 {
		t.Errorf("expected 10 tool rounds, got %d", cfg.Executor.MaxToolRounds)
	}
	if cfg.Loop.DuplicateWindow != 14*24*time.Hour {
		t.Errorf("unexpected duplicate window %v", cfg.Loop.DuplicateWindow)
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	tmpDir := t.TempDir()
	t.Cleanup(func() { SetConfigForTesting(nil) })

	if err := os.MkdirAll(tmpDir+"/"+ProjectConfigDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(tmpDir), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadConfig(tmpDir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUpdateLoopClampsAndPersists(t *testing.T) {
	tmpDir := t.TempDir()
	t.Cleanup(func() { SetConfigForTesting(nil) })

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatal(err)
	}
	if err := UpdateLoop(&LoopConfig{MaxTodoPerAgent: 99, MaxReviewPerContentCategory: 5, StagingBlockThreshold: 0}); err != nil {
		t.Fatal(err)
	}
	if err := Reload(); err != nil {
		t.Fatal(err)
	}
	cfg, _ := GetConfig()
	if cfg.Loop.MaxTodoPerAgent != 10 {
		t.Errorf("expected clamp to 10, got %d", cfg.Loop.MaxTodoPerAgent)
	}
	if cfg.Loop.MaxReviewPerContentCategory != 5 {
		t.Errorf("expected 5, got %d", cfg.Loop.MaxReviewPerContentCategory)
	}
	if cfg.Loop.StagingBlockThreshold != 6 {
		t.Errorf("expected default 6, got %d", cfg.Loop.StagingBlockThreshold)
	}
}

func TestLoopLimitsEnvOverride(t *testing.T) {
	SetConfigForTesting(&Config{})
	t.Cleanup(func() { SetConfigForTesting(nil) })

	t.Setenv(EnvMaxTodoPerAgent, "4")
	t.Setenv(EnvMaxReviewPerContentCategory, "100")
	t.Setenv(EnvStagingBlockThreshold, "abc")

	limits := LoopLimits()
	if limits.MaxTodoPerAgent != 4 {
		t.Errorf("expected 4, got %d", limits.MaxTodoPerAgent)
	}
	if limits.MaxReviewPerContentCategory != 20 {
		t.Errorf("expected clamp to 20, got %d", limits.MaxReviewPerContentCategory)
	}
	if limits.StagingBlockThreshold != 6 {
		t.Errorf("expected fallback 6, got %d", limits.StagingBlockThreshold)
	}
}

func TestLoopLimitsWithoutConfig(t *testing.T) {
	SetConfigForTesting(nil)
	limits := LoopLimits()
	if limits.MaxTodoPerAgent != 2 {
		t.Errorf("expected default 2, got %d", limits.MaxTodoPerAgent)
	}
}

func TestCalculateCost(t *testing.T) {
	got := CalculateCost("claude-sonnet-4-5", 1_000_000, 1_000_000)
	if math.Abs(got-18.0) > 1e-9 {
		t.Errorf("expected 18.0, got %f", got)
	}
	got = CalculateCost("some-unknown-model", 600, 400)
	if math.Abs(got-0.005) > 1e-12 {
		t.Errorf("expected fallback 0.005, got %f", got)
	}
}

func TestNormalizeProviderType(t *testing.T) {
	cases := map[string]string{
		"claude":     ProviderAnthropic,
		"Anthropic":  ProviderAnthropic,
		"kimi":       ProviderOpenAI,
		"openrouter": ProviderOpenAI,
		"gemini":     ProviderGoogle,
		"ollama":     ProviderOllama,
		"":           ProviderOpenAI,
	}
	for in, want := range cases {
		if got := NormalizeProviderType(in); got != want {
			t.Errorf("NormalizeProviderType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaxOutputTokens(t *testing.T) {
	if got := MaxOutputTokens("gpt-4o", 8192); got != 4096 {
		t.Errorf("expected cap 4096, got %d", got)
	}
	if got := MaxOutputTokens("unknown", 8192); got != 8192 {
		t.Errorf("expected passthrough, got %d", got)
	}
}
