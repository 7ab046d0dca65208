// Package sheets implements core.TabularStore on the Google Sheets API v4.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
)

// Config configures the Sheets client.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string

	// Endpoint overrides the API base URL. Used by tests.
	Endpoint string
	// HTTPClient replaces the authenticated client. Used by tests.
	HTTPClient *http.Client

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SheetCacheTTL  time.Duration
	RateLimit      service.RateLimiterConfig
}

// DefaultConfig returns production retry and cache settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		SheetCacheTTL:  time.Minute,
		RateLimit:      service.DefaultRateLimiterConfig(),
	}
}

// Client is a core.TabularStore backed by one spreadsheet.
type Client struct {
	svc     *gsheets.Service
	id      string
	cfg     Config
	limiter *service.AdaptiveRateLimiter
	logger  *logging.Logger
	now     func() time.Time

	cacheMu    sync.Mutex
	sheets     []core.SheetInfo
	sheetsTime time.Time
}

var _ core.TabularStore = (*Client)(nil)

// New creates a client. Credentials come from cfg.CredentialsFile, or
// Application Default Credentials when it is empty.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "sheets.spreadsheet_id is required")
	}
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.SheetCacheTTL <= 0 {
		cfg.SheetCacheTTL = def.SheetCacheTTL
	}
	if cfg.RateLimit.MaxTokens <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(gsheets.SpreadsheetsScope))
	default:
		opts = append(opts, option.WithScopes(gsheets.SpreadsheetsScope))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, core.ErrAuth("creating sheets service").WithCause(err)
	}

	return &Client{
		svc:     svc,
		id:      cfg.SpreadsheetID,
		cfg:     cfg,
		limiter: service.NewAdaptiveRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "sheets"),
		now:     time.Now,
	}, nil
}

// QualifyRange prefixes an A1 range with a quoted sheet title.
func QualifyRange(sheet, a1 string) string {
	if sheet == "" {
		return a1
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + a1
}

// GetValues implements core.TabularStore. Values come back formatted, as
// shown in the sheet.
func (c *Client) GetValues(ctx context.Context, sheet string, ranges []string) ([][][]string, error) {
	qualified := make([]string, len(ranges))
	for i, r := range ranges {
		qualified[i] = QualifyRange(sheet, r)
	}

	var resp *gsheets.BatchGetValuesResponse
	err := c.call(ctx, "values.batchGet", func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.BatchGet(c.id).
			Ranges(qualified...).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([][][]string, len(ranges))
	for i := range out {
		if i >= len(resp.ValueRanges) || resp.ValueRanges[i] == nil {
			out[i] = [][]string{}
			continue
		}
		out[i] = toStrings(resp.ValueRanges[i].Values)
	}
	return out, nil
}

// BatchWrite implements core.TabularStore.
func (c *Client) BatchWrite(ctx context.Context, sheet string, writes []core.CellWrite, mode core.WriteMode) error {
	if len(writes) == 0 {
		return nil
	}
	if mode == "" {
		mode = core.WriteUserEntered
	}

	req := &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: string(mode),
		Data:             make([]*gsheets.ValueRange, 0, len(writes)),
	}
	for _, w := range writes {
		req.Data = append(req.Data, &gsheets.ValueRange{
			Range:  QualifyRange(sheet, w.Range),
			Values: [][]interface{}{{w.Value}},
		})
	}

	return c.call(ctx, "values.batchUpdate", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.BatchUpdate(c.id, req).Context(ctx).Do()
		return err
	})
}

// ListSheets implements core.TabularStore. Results are cached for
// Config.SheetCacheTTL.
func (c *Client) ListSheets(ctx context.Context) ([]core.SheetInfo, error) {
	c.cacheMu.Lock()
	if c.sheets != nil && c.now().Sub(c.sheetsTime) < c.cfg.SheetCacheTTL {
		cached := append([]core.SheetInfo(nil), c.sheets...)
		c.cacheMu.Unlock()
		return cached, nil
	}
	c.cacheMu.Unlock()

	var resp *gsheets.Spreadsheet
	err := c.call(ctx, "spreadsheets.get", func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Spreadsheets.Get(c.id).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	infos := make([]core.SheetInfo, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s == nil || s.Properties == nil {
			continue
		}
		infos = append(infos, core.SheetInfo{
			ID:    s.Properties.SheetId,
			Title: s.Properties.Title,
			Index: s.Properties.Index,
		})
	}

	c.cacheMu.Lock()
	c.sheets = infos
	c.sheetsTime = c.now()
	c.cacheMu.Unlock()
	return append([]core.SheetInfo(nil), infos...), nil
}

// InvalidateSheets drops the cached sheet list.
func (c *Client) InvalidateSheets() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.sheets = nil
}

// call rate-limits and retries op. Quota and server errors are retried with
// exponential backoff; everything else fails fast.
func (c *Client) call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		if err == nil {
			c.limiter.RecordSuccess()
			return nil
		}
		if isThrottle(err) {
			c.limiter.RecordThrottle()
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			c.logger.Warn("sheets call failed, retrying", "call", name, "attempt", attempt, "wait", wait, "error", err)
		})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(name, err)
	}
	return nil
}

func isThrottle(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classify maps an API failure onto the domain error taxonomy.
func classify(call string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("sheets %s: %d %s", call, apiErr.Code, apiErr.Message)
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return core.ErrRateLimit(msg).WithCause(err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return core.ErrAuth(msg).WithCause(err)
		case apiErr.Code == http.StatusNotFound:
			return core.ErrNotFound("spreadsheet range", call).WithCause(err)
		case apiErr.Code == http.StatusBadRequest:
			return core.ErrValidation(core.CodeInvalidConfig, msg).WithCause(err)
		}
		return core.ErrNetwork(msg).WithCause(err)
	}
	return core.ErrNetwork("sheets " + call).WithCause(err)
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				cells[j] = s
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out
}
