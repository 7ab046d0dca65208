package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// Config holds all application configuration.
type Config struct {
	// InstanceID names this runner on the command channel. Empty means a
	// random id is generated at startup.
	InstanceID string `mapstructure:"instance_id"`

	Log          LogConfig          `mapstructure:"log"`
	State        StateConfig        `mapstructure:"state"`
	Sheets       SheetsConfig       `mapstructure:"sheets"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Ticketing    TicketingConfig    `mapstructure:"ticketing"`
	Mapping      MappingConfig      `mapstructure:"mapping"`
	Extractor    ExtractorConfig    `mapstructure:"extractor"`
	Writer       WriterConfig       `mapstructure:"writer"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	API          APIConfig          `mapstructure:"api"`
	Inbox        InboxConfig        `mapstructure:"inbox"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Clipboard    ClipboardConfig    `mapstructure:"clipboard"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StateConfig configures the durable store.
type StateConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	BackupPath string `mapstructure:"backup_path"`
	LockPath   string `mapstructure:"lock_path"`
}

// SheetsConfig configures the Google Sheets client.
type SheetsConfig struct {
	SpreadsheetID   string          `mapstructure:"spreadsheet_id"`
	CredentialsFile string          `mapstructure:"credentials_file"`
	MaxRetries      int             `mapstructure:"max_retries"`
	SheetCacheTTL   time.Duration   `mapstructure:"sheet_cache_ttl"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a token bucket.
type RateLimitConfig struct {
	MaxTokens  float64 `mapstructure:"max_tokens"`
	RefillRate float64 `mapstructure:"refill_rate"`
}

// BrowserConfig configures the Chromium session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserDataDir       string        `mapstructure:"user_data_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	InstallBrowsers   bool          `mapstructure:"install_browsers"`
}

// TicketingConfig points at the ticketing web application.
type TicketingConfig struct {
	ListURLs    ListURLsConfig `mapstructure:"list_urls"`
	SearchWait  time.Duration  `mapstructure:"search_wait"`
	ResultsWait time.Duration  `mapstructure:"results_wait"`
}

// ListURLsConfig holds the listing page of each record type.
type ListURLsConfig struct {
	Support      string `mapstructure:"support"`
	Installation string `mapstructure:"installation"`
	Relocation   string `mapstructure:"relocation"`
}

// MappingConfig holds the column layout of each record type.
type MappingConfig struct {
	Support      ColumnsConfig `mapstructure:"support"`
	Installation ColumnsConfig `mapstructure:"installation"`
	Relocation   ColumnsConfig `mapstructure:"relocation"`
}

// ColumnsConfig is one record type's columns. Empty columns are not written.
type ColumnsConfig struct {
	ID                 string `mapstructure:"id"`
	Marker             string `mapstructure:"marker"`
	TicketID           string `mapstructure:"ticket_id"`
	Created            string `mapstructure:"created"`
	Escalated          string `mapstructure:"escalated"`
	SecondaryEscalated string `mapstructure:"secondary_escalated"`
	Resolved           string `mapstructure:"resolved"`
	Elapsed            string `mapstructure:"elapsed"`
}

// ExtractorConfig configures timeline loading.
type ExtractorConfig struct {
	MaxScanTime  time.Duration `mapstructure:"max_scan_time"`
	StableChecks int           `mapstructure:"stable_checks"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timezone     string        `mapstructure:"timezone"`
}

// WriterConfig configures verified writes.
type WriterConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// RecoveryConfig configures the per-row circuit breaker.
type RecoveryConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// OrchestratorConfig configures the processing loop.
type OrchestratorConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	IdlePoll     time.Duration `mapstructure:"idle_poll"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// APIConfig configures the HTTP command channel.
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// InboxConfig configures the drop directory for row input files.
type InboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClipboardConfig configures clipboard integration.
type ClipboardConfig struct {
	CopyExternalID bool `mapstructure:"copy_external_id"`
}

// Mappings converts the column layout into core mappings.
func (c MappingConfig) Mappings() core.Mappings {
	return core.Mappings{
		core.RecordTypeSupport:      c.Support.toMapping(),
		core.RecordTypeInstallation: c.Installation.toMapping(),
		core.RecordTypeRelocation:   c.Relocation.toMapping(),
	}
}

func (c ColumnsConfig) toMapping() core.SheetMapping {
	return core.SheetMapping{
		IDColumn:                 c.ID,
		MarkerColumn:             c.Marker,
		TicketIDColumn:           c.TicketID,
		CreatedColumn:            c.Created,
		EscalatedColumn:          c.Escalated,
		SecondaryEscalatedColumn: c.SecondaryEscalated,
		ResolvedColumn:           c.Resolved,
		ElapsedColumn:            c.Elapsed,
	}
}

// ByType returns the configured list URLs keyed by record type. Empty URLs
// are omitted.
func (c ListURLsConfig) ByType() map[core.RecordType]string {
	out := make(map[core.RecordType]string, 3)
	for t, u := range map[core.RecordType]string{
		core.RecordTypeSupport:      c.Support,
		core.RecordTypeInstallation: c.Installation,
		core.RecordTypeRelocation:   c.Relocation,
	} {
		if u != "" {
			out[t] = u
		}
	}
	return out
}

// Location resolves the extractor timezone. Empty means local time.
func (c ExtractorConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
