package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-project config file looked up from the
// working directory upward.
const LocalConfigName = ".pulse-orch.toml"

// Config holds all application configuration
type Config struct {
	General      GeneralConfig      `toml:"general"`
	Verification VerificationConfig `toml:"verification"`
	Claude       ClaudeConfig       `toml:"claude"`
	Web          WebConfig          `toml:"web"`
	Maintenance  MaintenanceConfig  `toml:"maintenance"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot  string `toml:"project_root"`
	WorktreeDir  string `toml:"worktree_dir"`
	DatabasePath string `toml:"database_path"`
	Debug        bool   `toml:"debug"`
}

// VerificationConfig tunes verification command execution and the
// comparison cache.
type VerificationConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	CacheSize      int `toml:"cache_size"`
}

// Timeout returns the verification command timeout as a duration
func (v VerificationConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// ClaudeConfig holds Claude API settings for the equivalence judge
type ClaudeConfig struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// MaintenanceConfig holds background maintenance settings
type MaintenanceConfig struct {
	// Cron expression for pruning stale worktree registrations
	WorktreePruneSchedule string `toml:"worktree_prune_schedule"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			ProjectRoot:  "",
			WorktreeDir:  filepath.Join(home, ".pulse-orchestrator", "worktrees"),
			DatabasePath: filepath.Join(home, ".pulse-orchestrator", "pulses.db"),
		},
		Verification: VerificationConfig{
			TimeoutSeconds: 300,
			CacheSize:      512,
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Maintenance: MaintenanceConfig{
			WorktreePruneSchedule: "@hourly",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.WorktreeDir = ExpandPath(cfg.General.WorktreeDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// LoadWithLocalFallback loads an explicit config path when given, otherwise
// a per-project config found by walking up from the working directory,
// otherwise the global default location.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for a
// per-project config file. Returns "" when none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pulse-orchestrator", "config.toml")
}
