// Package config manages the project configuration file, loop limits, model
// pricing and secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"missioncontrol/pkg/logx"
)

const (
	// SchemaVersion must be bumped for breaking changes to Config.
	SchemaVersion = "1.0"

	// ProjectConfigDir holds config.json, the database and secrets.
	ProjectConfigDir = ".missioncontrol"

	configFileName = "config.json"
)

// Environment overrides for loop limits.
const (
	EnvMaxTodoPerAgent             = "LOOP_MAX_TODO_PER_AGENT"
	EnvMaxReviewPerContentCategory = "LOOP_MAX_REVIEW_PER_CONTENT_CATEGORY"
	EnvStagingBlockThreshold       = "LOOP_STAGING_BLOCK_THRESHOLD"
)

//nolint:gochecknoglobals // config singleton
var (
	config     *Config
	projectDir string
	logger     = logx.NewLogger("config")
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	return logger
}

// LogInfo logs through the config logger so cmd/ output matches the rest of the system.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Config is the persisted project configuration.
type Config struct {
	SchemaVersion string `json:"schema_version"`

	Database   *DatabaseConfig   `json:"database"`
	Loop       *LoopConfig       `json:"loop"`
	Executor   *ExecutorConfig   `json:"executor"`
	Resilience *ResilienceConfig `json:"resilience"`
	Metrics    *MetricsConfig    `json:"metrics"`
	Server     *ServerConfig     `json:"server"`
	Export     *ExportConfig     `json:"export"`
	Refill     *RefillConfig     `json:"refill"`
	Logs       *LogsConfig       `json:"logs"`
}

// DatabaseConfig locates the SQLite file, relative to the config directory
// unless absolute.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// LoopConfig holds the backpressure limits.
type LoopConfig struct {
	MaxTodoPerAgent             int           `json:"max_todo_per_agent"`
	MaxReviewPerContentCategory int           `json:"max_review_per_content_category"`
	StagingBlockThreshold       int           `json:"staging_block_threshold"`
	DuplicateWindow             time.Duration `json:"duplicate_window"`
	DuplicatePrefixLength       int           `json:"duplicate_prefix_length"`
}

// ExecutorConfig bounds one execution.
type ExecutorConfig struct {
	MaxToolRounds    int           `json:"max_tool_rounds"`
	DefaultMaxTokens int           `json:"default_max_tokens"`
	Temperature      float32       `json:"temperature"`
	ToolTimeout      time.Duration `json:"tool_timeout"`
	MaxRetries       int           `json:"max_review_retries"`
}

// CircuitBreakerConfig configures the per-provider breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// ResilienceConfig bundles the provider middleware settings.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Timeout        time.Duration        `json:"timeout"`
}

// MetricsConfig toggles prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	User    string `json:"user"`
}

// ExportConfig locates exporter and notification output.
type ExportConfig struct {
	Dir              string `json:"dir"`
	NotificationsDir string `json:"notifications_dir"`
	SocialEnabled    bool   `json:"social_enabled"`
}

// RefillConfig controls the idle Producer refill.
type RefillConfig struct {
	Enabled       bool          `json:"enabled"`
	IdleThreshold time.Duration `json:"idle_threshold"`
	Cooldown      time.Duration `json:"cooldown"`
	PollInterval  time.Duration `json:"poll_interval"`
}

// LogsConfig controls log file rotation.
type LogsConfig struct {
	Dir  string `json:"dir"`
	Keep int    `json:"keep"`
}

// GetConfig returns a copy of the loaded config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting installs cfg (defaults applied) as the global config.
// Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg != nil {
		applyDefaults(cfg)
	}
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// ProjectDir returns the directory passed to LoadConfig.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// ConfigPath returns <dir>/.missioncontrol/config.json.
func ConfigPath(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, configFileName)
}

// LoadConfig loads <dir>/.missioncontrol/config.json into the singleton,
// creating it with defaults when missing. An unparseable file is an error so
// user edits are never overwritten.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	path := ConfigPath(dir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating %s", path)
		config = createDefaultConfig()
		return saveConfigLocked()
	}

	loaded, err := loadConfigFromFile(path)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed: %w", err)
	}
	applyDefaults(loaded)
	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded

	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}
	getLogger().Info("✅ Config loaded from %s", path)
	return nil
}

// Reload re-reads the config file. Used by Watch.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	loaded, err := loadConfigFromFile(ConfigPath(projectDir))
	if err != nil {
		return err
	}
	applyDefaults(loaded)
	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded
	return nil
}

// UpdateLoop replaces the loop limits and persists them.
func UpdateLoop(loop *LoopConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	updated := *loop
	config.Loop = &updated
	applyDefaults(config)
	if projectDir == "" {
		return nil
	}
	return saveConfigLocked()
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
	}
	return &cfg, nil
}

func saveConfigLocked() error {
	if config == nil {
		return fmt.Errorf("no config to save")
	}
	path := ConfigPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func createDefaultConfig() *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. Loop limits are clamped after defaults.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "missioncontrol.db"
	}

	if cfg.Loop == nil {
		cfg.Loop = &LoopConfig{}
	}
	if cfg.Loop.MaxTodoPerAgent == 0 {
		cfg.Loop.MaxTodoPerAgent = 2
	}
	if cfg.Loop.MaxReviewPerContentCategory == 0 {
		cfg.Loop.MaxReviewPerContentCategory = 3
	}
	if cfg.Loop.StagingBlockThreshold == 0 {
		cfg.Loop.StagingBlockThreshold = 6
	}
	if cfg.Loop.DuplicateWindow == 0 {
		cfg.Loop.DuplicateWindow = 14 * 24 * time.Hour
	}
	if cfg.Loop.DuplicatePrefixLength == 0 {
		cfg.Loop.DuplicatePrefixLength = 32
	}
	cfg.Loop.MaxTodoPerAgent = clamp(cfg.Loop.MaxTodoPerAgent, 1, 10)
	cfg.Loop.MaxReviewPerContentCategory = clamp(cfg.Loop.MaxReviewPerContentCategory, 1, 20)
	cfg.Loop.StagingBlockThreshold = clamp(cfg.Loop.StagingBlockThreshold, 1, 50)

	if cfg.Executor == nil {
		cfg.Executor = &ExecutorConfig{}
	}
	if cfg.Executor.MaxToolRounds == 0 {
		cfg.Executor.MaxToolRounds = 10
	}
	if cfg.Executor.DefaultMaxTokens == 0 {
		cfg.Executor.DefaultMaxTokens = 8192
	}
	if cfg.Executor.Temperature == 0 {
		cfg.Executor.Temperature = 0.7
	}
	if cfg.Executor.ToolTimeout == 0 {
		cfg.Executor.ToolTimeout = 60 * time.Second
	}
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 3
	}

	if cfg.Resilience == nil {
		cfg.Resilience = &ResilienceConfig{}
	}
	if cfg.Resilience.Timeout == 0 {
		cfg.Resilience.Timeout = 3 * time.Minute
	}
	if cfg.Resilience.Retry.MaxAttempts == 0 {
		cfg.Resilience.Retry.MaxAttempts = 3
	}
	if cfg.Resilience.Retry.InitialDelay == 0 {
		cfg.Resilience.Retry.InitialDelay = time.Second
	}
	if cfg.Resilience.Retry.MaxDelay == 0 {
		cfg.Resilience.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Resilience.CircuitBreaker.FailureThreshold == 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.Resilience.CircuitBreaker.Timeout == 0 {
		cfg.Resilience.CircuitBreaker.Timeout = 30 * time.Second
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{Enabled: true}
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "missioncontrol"
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{Enabled: true}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:3003"
	}
	if cfg.Server.User == "" {
		cfg.Server.User = "missioncontrol"
	}

	if cfg.Export == nil {
		cfg.Export = &ExportConfig{}
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "export"
	}
	if cfg.Export.NotificationsDir == "" {
		cfg.Export.NotificationsDir = "notifications"
	}

	if cfg.Refill == nil {
		cfg.Refill = &RefillConfig{Enabled: true}
	}
	if cfg.Refill.IdleThreshold == 0 {
		cfg.Refill.IdleThreshold = 10 * time.Minute
	}
	if cfg.Refill.Cooldown == 0 {
		cfg.Refill.Cooldown = 30 * time.Minute
	}
	if cfg.Refill.PollInterval == 0 {
		cfg.Refill.PollInterval = time.Minute
	}

	if cfg.Logs == nil {
		cfg.Logs = &LogsConfig{}
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = "logs"
	}
	if cfg.Logs.Keep == 0 {
		cfg.Logs.Keep = 4
	}
}

func validateConfig(cfg *Config) error {
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q (expected %s)", cfg.SchemaVersion, SchemaVersion)
	}
	if cfg.Resilience.Retry.MaxDelay < cfg.Resilience.Retry.InitialDelay {
		return fmt.Errorf("resilience.retry.max_delay must be >= initial_delay")
	}
	if cfg.Executor.MaxToolRounds < 1 {
		return fmt.Errorf("executor.max_tool_rounds must be positive")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoopLimits returns the effective loop limits: config values with
// LOOP_* environment overrides applied and clamped.
func LoopLimits() LoopConfig {
	mu.RLock()
	var limits LoopConfig
	if config != nil && config.Loop != nil {
		limits = *config.Loop
	}
	mu.RUnlock()

	if limits.MaxTodoPerAgent == 0 {
		// Not loaded (tests, one-shot CLI calls): fall back to defaults.
		cfg := createDefaultConfig()
		limits = *cfg.Loop
	}

	limits.MaxTodoPerAgent = clamp(envInt(EnvMaxTodoPerAgent, limits.MaxTodoPerAgent), 1, 10)
	limits.MaxReviewPerContentCategory = clamp(envInt(EnvMaxReviewPerContentCategory, limits.MaxReviewPerContentCategory), 1, 20)
	limits.StagingBlockThreshold = clamp(envInt(EnvStagingBlockThreshold, limits.StagingBlockThreshold), 1, 50)
	return limits
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		getLogger().Warn("⚠️  ignoring %s=%q: %v", name, raw, err)
		return fallback
	}
	return v
}

// ResolvePath resolves p relative to the project config directory.
func ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ProjectDir(), ProjectConfigDir, p)
}
