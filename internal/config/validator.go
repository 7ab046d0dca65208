package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors  ValidationErrors
	runtime bool
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// RequireRuntime also checks the settings only `run` needs: the
// spreadsheet id and at least one list URL.
func (v *Validator) RequireRuntime() *Validator {
	v.runtime = true
	return v
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)
	v.validateSheets(&cfg.Sheets)
	v.validateBrowser(&cfg.Browser)
	v.validateTicketing(&cfg.Ticketing)
	v.validateMapping(&cfg.Mapping)
	v.validateExtractor(&cfg.Extractor)
	v.validateWriter(&cfg.Writer)
	v.validateRecovery(&cfg.Recovery)
	v.validateOrchestrator(&cfg.Orchestrator)
	v.validateAPI(&cfg.API)
	v.validateInbox(&cfg.Inbox)
	v.validateTelemetry(&cfg.Telemetry)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) positiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addError(field, d, "must be a positive duration")
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "sqlite", "json":
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: sqlite, json")
	}
	if cfg.Path == "" {
		v.addError("state.path", cfg.Path, "path required")
	} else if !isValidPath(cfg.Path) {
		v.addError("state.path", cfg.Path, "invalid file path")
	}
	if cfg.LockPath == "" {
		v.addError("state.lock_path", cfg.LockPath, "path required")
	}
}

func (v *Validator) validateSheets(cfg *SheetsConfig) {
	if v.runtime && strings.TrimSpace(cfg.SpreadsheetID) == "" {
		v.addError("sheets.spreadsheet_id", cfg.SpreadsheetID, "spreadsheet id required")
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			v.addError("sheets.credentials_file", cfg.CredentialsFile, "file not readable")
		}
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		v.addError("sheets.max_retries", cfg.MaxRetries, "must be between 0 and 10")
	}
	v.positiveDuration("sheets.sheet_cache_ttl", cfg.SheetCacheTTL)
	if cfg.RateLimit.MaxTokens <= 0 {
		v.addError("sheets.rate_limit.max_tokens", cfg.RateLimit.MaxTokens, "must be positive")
	}
	if cfg.RateLimit.RefillRate <= 0 {
		v.addError("sheets.rate_limit.refill_rate", cfg.RateLimit.RefillRate, "must be positive")
	}
}

func (v *Validator) validateBrowser(cfg *BrowserConfig) {
	if cfg.UserDataDir == "" {
		v.addError("browser.user_data_dir", cfg.UserDataDir, "directory required")
	}
	v.positiveDuration("browser.navigation_timeout", cfg.NavigationTimeout)
}

func (v *Validator) validateTicketing(cfg *TicketingConfig) {
	urls := map[string]string{
		"ticketing.list_urls.support":      cfg.ListURLs.Support,
		"ticketing.list_urls.installation": cfg.ListURLs.Installation,
		"ticketing.list_urls.relocation":   cfg.ListURLs.Relocation,
	}
	for field, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(field, raw, "must be an absolute http(s) URL")
		}
	}
	if v.runtime && len(cfg.ListURLs.ByType()) == 0 {
		v.addError("ticketing.list_urls", "", "at least one list URL required")
	}
	v.positiveDuration("ticketing.search_wait", cfg.SearchWait)
	v.positiveDuration("ticketing.results_wait", cfg.ResultsWait)
}

func (v *Validator) validateMapping(cfg *MappingConfig) {
	markers := make(map[string]core.RecordType)
	mappings := cfg.Mappings()
	for _, t := range core.AllRecordTypes() {
		m := mappings[t]
		prefix := "mapping." + strings.ToLower(string(t))

		if m.IDColumn == "" {
			v.addError(prefix+".id", m.IDColumn, "id column required")
		}
		if m.MarkerColumn == "" {
			v.addError(prefix+".marker", m.MarkerColumn, "marker column required")
		}

		columns := map[string]string{
			"id":                  m.IDColumn,
			"marker":              m.MarkerColumn,
			"ticket_id":           m.TicketIDColumn,
			"created":             m.CreatedColumn,
			"escalated":           m.EscalatedColumn,
			"secondary_escalated": m.SecondaryEscalatedColumn,
			"resolved":            m.ResolvedColumn,
			"elapsed":             m.ElapsedColumn,
		}
		for name, col := range columns {
			if col != "" && !isColumn(col) {
				v.addError(prefix+"."+name, col, "must be a column letter such as C or AB")
			}
		}
		if m.FailureColumn() == "" {
			v.addError(prefix+".created", "", "ticket_id or created column required")
		}

		if m.MarkerColumn == "" {
			continue
		}
		marker := strings.ToUpper(m.MarkerColumn)
		if other, ok := markers[marker]; ok {
			v.addError(prefix+".marker", m.MarkerColumn, fmt.Sprintf("marker column already used by %s", other))
		}
		markers[marker] = t
		for name, col := range columns {
			if name != "marker" && strings.EqualFold(col, marker) {
				v.addError(prefix+".marker", m.MarkerColumn, "marker column overlaps the "+name+" column")
			}
		}
	}
}

func (v *Validator) validateExtractor(cfg *ExtractorConfig) {
	v.positiveDuration("extractor.max_scan_time", cfg.MaxScanTime)
	v.positiveDuration("extractor.poll_interval", cfg.PollInterval)
	if cfg.StableChecks < 1 {
		v.addError("extractor.stable_checks", cfg.StableChecks, "must be at least 1")
	}
	if _, err := cfg.Location(); err != nil {
		v.addError("extractor.timezone", cfg.Timezone, "unknown timezone")
	}
}

func (v *Validator) validateWriter(cfg *WriterConfig) {
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 20 {
		v.addError("writer.max_attempts", cfg.MaxAttempts, "must be between 1 and 20")
	}
	if cfg.SettleDelay < 0 {
		v.addError("writer.settle_delay", cfg.SettleDelay, "must be non-negative")
	}
	if cfg.RetryDelay < 0 {
		v.addError("writer.retry_delay", cfg.RetryDelay, "must be non-negative")
	}
}

func (v *Validator) validateRecovery(cfg *RecoveryConfig) {
	if cfg.Threshold < 1 {
		v.addError("recovery.threshold", cfg.Threshold, "must be at least 1")
	}
	v.positiveDuration("recovery.window", cfg.Window)
}

func (v *Validator) validateOrchestrator(cfg *OrchestratorConfig) {
	if cfg.Debounce < 0 {
		v.addError("orchestrator.debounce", cfg.Debounce, "must be non-negative")
	}
	v.positiveDuration("orchestrator.idle_poll", cfg.IdlePoll)
	v.positiveDuration("orchestrator.error_backoff", cfg.ErrorBackoff)
}

func (v *Validator) validateAPI(cfg *APIConfig) {
	if !cfg.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		v.addError("api.listen", cfg.Listen, "must be host:port")
	}
}

func (v *Validator) validateInbox(cfg *InboxConfig) {
	if cfg.Enabled && cfg.Dir == "" {
		v.addError("inbox.dir", cfg.Dir, "directory required when enabled")
	}
}

func (v *Validator) validateTelemetry(cfg *TelemetryConfig) {
	if cfg.Enabled {
		v.positiveDuration("telemetry.interval", cfg.Interval)
	}
}

func isColumn(col string) bool {
	if len(col) == 0 || len(col) > 3 {
		return false
	}
	for _, r := range col {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
