package timeline

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
)

// Config bounds the history loading loop.
type Config struct {
	MaxScanTime  time.Duration
	PollInterval time.Duration
	StableChecks int
	Location     *time.Location
}

// DefaultConfig returns the scan limits used in production.
func DefaultConfig() Config {
	return Config{
		MaxScanTime:  20 * time.Second,
		PollInterval: 500 * time.Millisecond,
		StableChecks: 3,
	}
}

// Activity is a timeline entry tied to the date header above it.
type Activity struct {
	Text   string  `json:"text"`
	Y      float64 `json:"y"`
	Header string  `json:"header,omitempty"`
	Time   string  `json:"time,omitempty"`
}

// ScanResult is the structure read from a ticket page.
type ScanResult struct {
	Headers    []core.TextBlock `json:"headers"`
	Activities []Activity       `json:"activities"`
}

// Extractor mines a ticket's activity history through a content scanner.
type Extractor struct {
	scanner  core.ContentScanner
	parser   *DateParser
	mappings core.Mappings
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the time source for relative headers and the scan deadline.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// WithSleeper replaces the poll wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Extractor) {
		e.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithMappings overrides the default sheet mappings.
func WithMappings(m core.Mappings) Option {
	return func(e *Extractor) {
		e.mappings = m
	}
}

// New creates an extractor.
func New(scanner core.ContentScanner, cfg Config, opts ...Option) *Extractor {
	defaults := DefaultConfig()
	if cfg.MaxScanTime <= 0 {
		cfg.MaxScanTime = defaults.MaxScanTime
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.StableChecks <= 0 {
		cfg.StableChecks = defaults.StableChecks
	}

	e := &Extractor{
		scanner:  scanner,
		mappings: core.DefaultMappings(),
		cfg:      cfg,
		logger:   logging.NewNop(),
		now:      time.Now,
		sleep:    service.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parser = NewDateParser(e.now, cfg.Location)
	return e
}

// Parser exposes the date parser bound to the extractor's clock.
func (e *Extractor) Parser() *DateParser {
	return e.parser
}

// Extract loads the full history of the open ticket and turns it into a
// result for recordType. An empty recordType is detected from the page.
func (e *Extractor) Extract(ctx context.Context, recordType core.RecordType, externalID string) (*core.ExtractionResult, error) {
	if err := e.LoadFullHistory(ctx); err != nil {
		return nil, err
	}

	scan, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}
	text, err := e.scanner.VisibleText(ctx)
	if err != nil {
		return nil, scannerError("reading page text", err)
	}
	url, err := e.scanner.CurrentURL(ctx)
	if err != nil {
		return nil, scannerError("reading page url", err)
	}

	if !core.ValidRecordType(recordType) {
		recordType = DetectRecordType(url, text)
		e.logger.Debug("record type detected from page", "record_type", recordType)
	}

	events := e.ExtractEvents(scan, text, recordType)
	result, err := e.PrepareRowData(recordType, externalID, url, text, events)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("timeline extracted",
		"record_type", recordType,
		"record_id", result.RecordID,
		"activities", len(scan.Activities),
		"headers", len(scan.Headers),
		"events", len(result.Events),
	)
	return result, nil
}

// LoadFullHistory expands the timeline until the page height stops
// growing for StableChecks polls or MaxScanTime elapses.
func (e *Extractor) LoadFullHistory(ctx context.Context) error {
	start := e.now()
	var lastHeight float64
	stable := 0

	for e.now().Sub(start) < e.cfg.MaxScanTime {
		clicked, err := e.scanner.TriggerLoadMore(ctx)
		if err != nil {
			e.logger.Debug("load more failed", "error", err)
			clicked = false
		}
		if err := e.scanner.ScrollToBottom(ctx); err != nil {
			e.logger.Debug("scroll failed", "error", err)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return err
		}

		height, err := e.scanner.DocumentHeight(ctx)
		if err != nil {
			return scannerError("reading document height", err)
		}
		if height > lastHeight || clicked {
			lastHeight = height
			stable = 0
		} else {
			stable++
		}
		if stable >= e.cfg.StableChecks {
			break
		}
	}

	if err := e.scanner.ScrollToTop(ctx); err != nil {
		e.logger.Debug("scroll to top failed", "error", err)
	}
	return nil
}

// Scan collects date headers and activity blocks, both ordered by
// position, and attaches each activity to the closest header above it.
func (e *Extractor) Scan(ctx context.Context) (*ScanResult, error) {
	blocks, err := e.scanner.TextBlocks(ctx)
	if err != nil {
		return nil, scannerError("reading text blocks", err)
	}
	return BuildScan(blocks), nil
}

// BuildScan classifies raw blocks into headers and activities.
func BuildScan(blocks []core.TextBlock) *ScanResult {
	result := &ScanResult{}
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		switch b.Kind {
		case core.BlockText:
			if IsDateHeader(text) {
				result.Headers = append(result.Headers, core.TextBlock{Kind: b.Kind, Text: text, Y: b.Y})
			}
		case core.BlockGroup:
			if IsActivity(text) {
				result.Activities = append(result.Activities, Activity{Text: text, Y: b.Y})
			}
		}
	}

	sort.SliceStable(result.Headers, func(i, j int) bool { return result.Headers[i].Y < result.Headers[j].Y })
	sort.SliceStable(result.Activities, func(i, j int) bool { return result.Activities[i].Y < result.Activities[j].Y })

	for i := range result.Activities {
		a := &result.Activities[i]
		for _, h := range result.Headers {
			if h.Y >= a.Y {
				break
			}
			a.Header = h.Text
		}
		a.Time = FindTime(a.Text)
	}
	return result
}

// ExtractEvents fills the creation slot and every slot of recordType.
func (e *Extractor) ExtractEvents(scan *ScanResult, visibleText string, recordType core.RecordType) map[core.EventKind]time.Time {
	events := make(map[core.EventKind]time.Time)

	if ts, ok := e.findCreation(scan, visibleText); ok {
		events[core.EventCreation] = ts
	}
	for _, slot := range slotsFor(recordType) {
		ts, ok := e.firstMatch(scan, slot.patterns)
		if !ok && len(slot.fallback) > 0 {
			ts, ok = e.firstMatch(scan, slot.fallback)
			if ok {
				e.logger.Debug("slot matched by fallback", "slot", slot.kind)
			}
		}
		if ok {
			events[slot.kind] = ts
		}
	}
	return events
}

func (e *Extractor) findCreation(scan *ScanResult, visibleText string) (time.Time, bool) {
	if ts, ok := e.parser.ParseCreatedOn(visibleText); ok {
		return ts, true
	}
	for i := len(scan.Activities) - 1; i >= 0; i-- {
		a := scan.Activities[i]
		if !creationActivity(a.Text) {
			continue
		}
		if ts, ok := e.resolve(a); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// firstMatch walks activities in scan order; for each it tries the
// patterns in order. The first activity that matches and carries a
// resolvable date wins.
func (e *Extractor) firstMatch(scan *ScanResult, patterns []matcher) (time.Time, bool) {
	for _, a := range scan.Activities {
		for _, match := range patterns {
			if !match(a.Text) {
				continue
			}
			if ts, ok := e.resolve(a); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func (e *Extractor) resolve(a Activity) (time.Time, bool) {
	if a.Header == "" || a.Time == "" {
		return time.Time{}, false
	}
	return e.parser.Resolve(a.Header, a.Time)
}

// PrepareRowData assembles the result and its column updates.
func (e *Extractor) PrepareRowData(recordType core.RecordType, externalID, url, text string, events map[core.EventKind]time.Time) (*core.ExtractionResult, error) {
	mapping, err := e.mappings.For(recordType)
	if err != nil {
		return nil, err
	}

	result := &core.ExtractionResult{
		ExternalID: externalID,
		RecordID:   ExtractRecordID(url, text),
		RecordType: recordType,
		Events:     events,
	}
	if recordType == core.RecordTypeRelocation && result.Has(core.EventCreation) && result.Has(core.EventFinal) {
		hours := ElapsedHours(events[core.EventCreation], events[core.EventFinal])
		result.ElapsedHours = &hours
	}
	result.FieldUpdates = FieldUpdates(mapping, result)
	return result, nil
}

// FieldUpdates maps the result's events onto mapping's columns. Missing
// values produce no update.
func FieldUpdates(mapping core.SheetMapping, r *core.ExtractionResult) []core.FieldUpdate {
	var updates []core.FieldUpdate
	add := func(column, value string) {
		if column != "" && value != "" {
			updates = append(updates, core.FieldUpdate{Column: column, Value: value})
		}
	}
	event := func(kind core.EventKind) string {
		if !r.Has(kind) {
			return ""
		}
		return FormatTimestamp(r.Events[kind])
	}

	if r.HasRecordID() {
		add(mapping.TicketIDColumn, "Ticket ID: "+r.RecordID)
	}
	add(mapping.CreatedColumn, event(core.EventCreation))
	add(mapping.EscalatedColumn, event(core.EventEscalation))
	add(mapping.SecondaryEscalatedColumn, event(core.EventSecondaryEscalation))

	resolved := event(core.EventResolution)
	if resolved == "" {
		resolved = event(core.EventFinal)
	}
	add(mapping.ResolvedColumn, resolved)

	if r.ElapsedHours != nil {
		add(mapping.ElapsedColumn, FormatHours(*r.ElapsedHours))
	}
	return updates
}

// ElapsedHours returns the hours between two instants rounded to 2 decimals.
func ElapsedHours(from, to time.Time) float64 {
	return math.Round(to.Sub(from).Hours()*100) / 100
}

// FormatHours renders an elapsed value as "<hours> hours".
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64) + " hours"
}

var (
	detailIDPattern = regexp.MustCompile(`details/(\d+)`)
	textIDPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Installation ID:\s*(\d+)`),
		regexp.MustCompile(`(?i)Ticket ID:\s*(\d+)`),
	}
)

// ExtractRecordID reads the ticket id from the page URL or, failing that,
// from labelled text.
func ExtractRecordID(url, text string) string {
	if m := detailIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	for _, re := range textIDPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return core.UnknownRecordID
}

// DetectRecordType guesses the record type of an open ticket.
func DetectRecordType(url, text string) core.RecordType {
	switch {
	case strings.Contains(url, "/relocation/"):
		return core.RecordTypeRelocation
	case strings.Contains(url, "/type/188/"):
		return core.RecordTypeInstallation
	case strings.Contains(url, "/type/163/"):
		return core.RecordTypeSupport
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "installation") || strings.Contains(lower, "onboarding") {
		return core.RecordTypeInstallation
	}
	return core.RecordTypeSupport
}

func scannerError(action string, err error) error {
	return core.ErrInternal(core.CodeScannerFailed, fmt.Sprintf("%s failed", action)).WithCause(err)
}
