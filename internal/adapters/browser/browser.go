// Package browser implements core.ContentScanner with Playwright driving a
// Chromium persistent profile, so the ticketing login survives restarts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// Config configures the browser session.
type Config struct {
	Headless          bool
	UserDataDir       string
	NavigationTimeout time.Duration
	// InstallBrowsers downloads the Playwright driver and Chromium first.
	InstallBrowsers bool
	// PollInterval paces WaitForAnyElement.
	PollInterval time.Duration
}

// DefaultConfig returns a headed session with a 30s navigation timeout.
func DefaultConfig() Config {
	return Config{
		Headless:          false,
		UserDataDir:       ".tickettrail/browser",
		NavigationTimeout: 30 * time.Second,
		PollInterval:      250 * time.Millisecond,
	}
}

// Text blocks outside this length range are not timeline activities.
const (
	minBlockLen = 5
	maxBlockLen = 500
)

// Session is one Chromium context with a single working page.
type Session struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	cfg     Config
	logger  *logging.Logger

	mu     sync.Mutex
	closed bool
}

var _ core.ContentScanner = (*Session)(nil)

// Install downloads the Playwright driver and Chromium.
func Install() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

// Open starts Playwright and launches Chromium on cfg.UserDataDir.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (*Session, error) {
	def := DefaultConfig()
	if cfg.UserDataDir == "" {
		cfg.UserDataDir = def.UserDataDir
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.InstallBrowsers {
		if err := Install(); err != nil {
			return nil, core.ErrInternal("BROWSER_INSTALL", "installing playwright").WithCause(err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, core.ErrInternal("BROWSER_START", "starting playwright").WithCause(err)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(cfg.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, core.ErrInternal("BROWSER_START", "launching chromium").WithCause(err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		_ = pw.Stop()
		return nil, core.ErrInternal("BROWSER_START", "opening page").WithCause(err)
	}
	page.SetDefaultNavigationTimeout(millis(cfg.NavigationTimeout))

	logger.Info("browser session started", "user_data_dir", cfg.UserDataDir, "headless", cfg.Headless)
	return &Session{
		pw:      pw,
		context: bctx,
		page:    page,
		cfg:     cfg,
		logger:  logger.With("component", "browser"),
	}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing browser context: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping playwright: %w", err))
	}
	return errors.Join(errs...)
}

// CurrentURL implements core.ContentScanner.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

// Navigate implements core.ContentScanner. It returns once the DOM has
// loaded; list pages keep fetching after that.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(s.cfg.NavigationTimeout)),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return core.ErrTimeout("navigating to " + url).WithCause(err)
		}
		return core.ErrNetwork("navigating to " + url).WithCause(err)
	}
	s.logger.Debug("navigated", "url", url)
	return nil
}

// VisibleText implements core.ContentScanner.
func (s *Session) VisibleText(ctx context.Context) (string, error) {
	v, err := s.eval(ctx, scriptVisibleText)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// FindCandidateLinks implements core.ContentScanner.
func (s *Session) FindCandidateLinks(ctx context.Context, scope core.LinkScope) ([]core.CandidateLink, error) {
	containers := scope.Containers
	if containers == nil {
		containers = []string{}
	}
	v, err := s.eval(ctx, scriptCandidateLinks, map[string]interface{}{
		"containers": containers,
		"nearText":   scope.NearText,
	})
	if err != nil {
		return nil, err
	}
	return decodeLinks(v)
}

// TriggerLoadMore implements core.ContentScanner.
func (s *Session) TriggerLoadMore(ctx context.Context) (bool, error) {
	v, err := s.eval(ctx, scriptClickAll, LoadMoreSelectors)
	if err != nil {
		return false, err
	}
	n, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScrollToBottom implements core.ContentScanner.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	_, err := s.eval(ctx, scriptScrollToBottom)
	return err
}

// ScrollToTop implements core.ContentScanner.
func (s *Session) ScrollToTop(ctx context.Context) error {
	_, err := s.eval(ctx, scriptScrollToTop)
	return err
}

// DocumentHeight implements core.ContentScanner.
func (s *Session) DocumentHeight(ctx context.Context) (float64, error) {
	v, err := s.eval(ctx, scriptDocumentHeight)
	if err != nil {
		return 0, err
	}
	return toFloat(v)
}

// WaitForAnyElement implements core.ContentScanner.
func (s *Session) WaitForAnyElement(ctx context.Context, selectors []string, timeout time.Duration) (string, error) {
	if len(selectors) == 0 {
		return "", nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		v, err := s.eval(ctx, scriptFirstVisible, selectors)
		if err != nil {
			return "", err
		}
		if sel := toString(v); sel != "" {
			return sel, nil
		}
		if !time.Now().Before(deadline) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// ClearFilters implements core.ContentScanner.
func (s *Session) ClearFilters(ctx context.Context) error {
	v, err := s.eval(ctx, scriptClickAll, ClearFilterSelectors)
	if err != nil {
		return err
	}
	if n, _ := toFloat(v); n > 0 {
		s.logger.Debug("cleared list filters", "clicked", int(n))
	}
	return nil
}

// SubmitSearch implements core.ContentScanner. It fills the input, presses
// Enter and clicks a visible search button when the page has one.
func (s *Session) SubmitSearch(ctx context.Context, selector, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := s.page.Locator(selector).First()
	if err := input.Fill(query); err != nil {
		return s.wrap("filling search input", err)
	}
	if err := input.Press("Enter"); err != nil {
		return s.wrap("submitting search", err)
	}
	v, err := s.eval(ctx, scriptClickFirst, SearchButtonSelectors)
	if err != nil {
		return err
	}
	s.logger.Debug("search submitted", "selector", selector, "button_clicked", toBool(v))
	return nil
}

// TextBlocks implements core.ContentScanner.
func (s *Session) TextBlocks(ctx context.Context) ([]core.TextBlock, error) {
	v, err := s.eval(ctx, scriptTextBlocks, map[string]int{"minLen": minBlockLen, "maxLen": maxBlockLen})
	if err != nil {
		return nil, err
	}
	return decodeBlocks(v)
}

func (s *Session) eval(ctx context.Context, script string, arg ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := s.page.Evaluate(script, arg...)
	if err != nil {
		return nil, s.wrap("evaluating page script", err)
	}
	return v, nil
}

func (s *Session) wrap(op string, err error) error {
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return core.ErrTimeout(op).WithCause(err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return core.ErrState("BROWSER_CLOSED", op+": browser was closed").WithCause(err)
	}
	return core.ErrNetwork(op).WithCause(err)
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
