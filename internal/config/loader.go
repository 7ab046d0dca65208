package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TICKETTRAIL_SHEETS_SPREADSHEET_ID.
const EnvPrefix = "TICKETTRAIL"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// CLI flags bound to it take precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (TICKETTRAIL_*)
// 3. Project config (.tickettrail/config.yaml)
// 4. User config (~/.config/tickettrail/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(ProjectDir)
		if dir, err := UserConfigDir(); err == nil {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadAndValidate loads and validates configuration.
func (l *Loader) LoadAndValidate() (*Config, error) {
	cfg, err := l.Load()
	if err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values. They mirror DefaultConfigYAML.
func (l *Loader) setDefaults() {
	l.v.SetDefault("instance_id", "")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", filepath.Join(ProjectDir, "state", "state.db"))
	l.v.SetDefault("state.backup_path", "")
	l.v.SetDefault("state.lock_path", filepath.Join(ProjectDir, "state", "tickettrail.lock"))

	l.v.SetDefault("sheets.spreadsheet_id", "")
	l.v.SetDefault("sheets.credentials_file", "")
	l.v.SetDefault("sheets.max_retries", 4)
	l.v.SetDefault("sheets.sheet_cache_ttl", "1m")
	l.v.SetDefault("sheets.rate_limit.max_tokens", 10)
	l.v.SetDefault("sheets.rate_limit.refill_rate", 1)

	l.v.SetDefault("browser.headless", false)
	l.v.SetDefault("browser.user_data_dir", filepath.Join(ProjectDir, "browser"))
	l.v.SetDefault("browser.navigation_timeout", "30s")
	l.v.SetDefault("browser.install_browsers", false)

	l.v.SetDefault("ticketing.list_urls.support", "")
	l.v.SetDefault("ticketing.list_urls.installation", "")
	l.v.SetDefault("ticketing.list_urls.relocation", "")
	l.v.SetDefault("ticketing.search_wait", "8s")
	l.v.SetDefault("ticketing.results_wait", "3s")

	l.v.SetDefault("mapping.support.id", "C")
	l.v.SetDefault("mapping.support.marker", "Z")
	l.v.SetDefault("mapping.support.ticket_id", "D")
	l.v.SetDefault("mapping.support.created", "E")
	l.v.SetDefault("mapping.support.escalated", "F")
	l.v.SetDefault("mapping.support.resolved", "G")
	l.v.SetDefault("mapping.installation.id", "K")
	l.v.SetDefault("mapping.installation.marker", "AA")
	l.v.SetDefault("mapping.installation.created", "L")
	l.v.SetDefault("mapping.installation.escalated", "M")
	l.v.SetDefault("mapping.installation.resolved", "N")
	l.v.SetDefault("mapping.relocation.id", "S")
	l.v.SetDefault("mapping.relocation.marker", "AB")
	l.v.SetDefault("mapping.relocation.created", "T")
	l.v.SetDefault("mapping.relocation.escalated", "U")
	l.v.SetDefault("mapping.relocation.secondary_escalated", "V")
	l.v.SetDefault("mapping.relocation.elapsed", "G")

	l.v.SetDefault("extractor.max_scan_time", "20s")
	l.v.SetDefault("extractor.stable_checks", 3)
	l.v.SetDefault("extractor.poll_interval", "500ms")
	l.v.SetDefault("extractor.timezone", "")

	l.v.SetDefault("writer.max_attempts", 5)
	l.v.SetDefault("writer.settle_delay", "1s")
	l.v.SetDefault("writer.retry_delay", "2s")

	l.v.SetDefault("recovery.threshold", 3)
	l.v.SetDefault("recovery.window", "1h")

	l.v.SetDefault("orchestrator.debounce", "10s")
	l.v.SetDefault("orchestrator.idle_poll", "2s")
	l.v.SetDefault("orchestrator.error_backoff", "5s")

	l.v.SetDefault("api.enabled", true)
	l.v.SetDefault("api.listen", "127.0.0.1:8765")
	l.v.SetDefault("api.allowed_origins", []string{})

	l.v.SetDefault("inbox.enabled", false)
	l.v.SetDefault("inbox.dir", filepath.Join(ProjectDir, "inbox"))

	l.v.SetDefault("telemetry.enabled", false)
	l.v.SetDefault("telemetry.interval", "1m")

	l.v.SetDefault("clipboard.copy_external_id", false)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

// UserConfigDir is ~/.config/tickettrail.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tickettrail"), nil
}
