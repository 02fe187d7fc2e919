// Package config provides configuration management for the vaultlm
// application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the vaultlm application.
// Configuration precedence: CLI flags > Environment variables > Config file > Defaults
type Config struct {
	// VaultDir is the root of the Markdown vault to synchronize
	VaultDir string

	// BaseURL is the notebook service endpoint
	BaseURL string

	// AuthToken is the shared secret sent as a bearer token
	AuthToken string

	// NotebookID is the target notebook all notes sync into
	NotebookID string

	// StateFile is the path to the mapping index persistence file
	StateFile string

	// QueueFile is the path to the offline queue persistence file
	QueueFile string

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// LogFile, when set, routes logs to a rotating file instead of stderr
	LogFile string

	// SyncInterval is the duration between full syncs in daemon mode (0 = event-driven only)
	SyncInterval time.Duration

	// Debounce is the quiet period after a file event before syncing
	Debounce time.Duration

	// HTTPTimeout bounds every remote call
	HTTPTimeout time.Duration

	// Concurrency bounds parallel note syncs in a full vault sync
	Concurrency int

	// DaemonMode enables continuous watch-and-sync operation
	DaemonMode bool

	// VerifyOnStart runs the reconciliation pass before the daemon starts
	// serving file events
	VerifyOnStart bool
}

// Load reads configuration from multiple sources and returns a Config
// instance. Sources are checked in this order: CLI flags > env vars >
// config file > defaults
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigName(".vaultlm")
			v.SetConfigType("yaml")
		}
	}

	// Config file is optional; env vars and defaults cover the rest.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VAULTLM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	config := &Config{
		VaultDir:      v.GetString("vault-dir"),
		BaseURL:       v.GetString("base-url"),
		AuthToken:     v.GetString("auth-token"),
		NotebookID:    v.GetString("notebook-id"),
		StateFile:     v.GetString("state-file"),
		QueueFile:     v.GetString("queue-file"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
		SyncInterval:  v.GetDuration("sync-interval"),
		Debounce:      v.GetDuration("debounce"),
		HTTPTimeout:   v.GetDuration("http-timeout"),
		Concurrency:   v.GetInt("concurrency"),
		DaemonMode:    v.GetBool("daemon-mode"),
		VerifyOnStart: v.GetBool("verify-on-start"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("vault-dir", "")
	v.SetDefault("base-url", "")
	v.SetDefault("auth-token", "")
	v.SetDefault("notebook-id", "")
	v.SetDefault("state-file", filepath.Join(home, ".vaultlm-state.json"))
	v.SetDefault("queue-file", filepath.Join(home, ".vaultlm-queue.json"))
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("sync-interval", 0*time.Second)
	v.SetDefault("debounce", 2*time.Second)
	v.SetDefault("http-timeout", 30*time.Second)
	v.SetDefault("concurrency", 4)
	v.SetDefault("daemon-mode", false)
	v.SetDefault("verify-on-start", true)
}

// Validate checks that the configuration is valid and internally
// consistent, expanding ~ in paths and creating the state directories.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(c.LogLevel)

	if err := validation.ValidateStruct(c,
		validation.Field(&c.VaultDir, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.AuthToken, validation.Required),
		validation.Field(&c.NotebookID, validation.Required),
		validation.Field(&c.StateFile, validation.Required),
		validation.Field(&c.QueueFile, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Concurrency, validation.Min(1), validation.Max(64)),
	); err != nil {
		return err
	}

	for _, p := range []*string{&c.VaultDir, &c.StateFile, &c.QueueFile, &c.LogFile} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	info, err := os.Stat(c.VaultDir)
	if err != nil {
		return fmt.Errorf("vault-dir %s: %w", c.VaultDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault-dir %s is not a directory", c.VaultDir)
	}

	for _, p := range []string{c.StateFile, c.QueueFile} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand home directory in %s: %w", p, err)
	}
	return filepath.Join(home, p[2:]), nil
}
