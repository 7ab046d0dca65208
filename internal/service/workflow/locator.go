package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
)

// SearchInputSelectors are the list page search boxes, in preference order.
var SearchInputSelectors = []string{
	`input[name="FIND"]`,
	"#CRM_TICKET_LIST_V12_search",
	".main-ui-filter-search-input",
	".ui-search-input input",
	`input[type="search"]`,
	".crm-filter-search-input",
	".search-input",
	`input[placeholder*="Search"]`,
}

// ResultContainerSelectors scope candidate links on a list page.
var ResultContainerSelectors = []string{
	".main-grid-container",
	".crm-kanban-items",
	".main-ui-content",
	".crm-entity-list",
	"#workarea-content",
}

// maxLinkTextLength filters out navigation links that wrap whole cards.
const maxLinkTextLength = 100

// LocatorConfig configures the ticket locator.
type LocatorConfig struct {
	ListURLs         map[core.RecordType]string
	SearchWait       time.Duration
	ResultsWait      time.Duration
	LoadMoreAttempts int
}

// DefaultLocatorConfig returns the search timings used in production.
// ListURLs must be filled from configuration.
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		ListURLs:         map[core.RecordType]string{},
		SearchWait:       8 * time.Second,
		ResultsWait:      3 * time.Second,
		LoadMoreAttempts: 3,
	}
}

// searchStrategy returns candidate links for externalID, or none.
type searchStrategy struct {
	name string
	run  func(ctx context.Context, listURL, externalID string) ([]core.CandidateLink, error)
}

// Locator resolves an external id to ranked ticket candidates and opens them.
type Locator struct {
	scanner    core.ContentScanner
	store      *StateStore
	cfg        LocatorConfig
	navigation *service.RetryPolicy
	logger     *logging.Logger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLocatorLogger sets the logger.
func WithLocatorLogger(logger *logging.Logger) LocatorOption {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithNavigationPolicy overrides the retry policy for page loads.
func WithNavigationPolicy(p *service.RetryPolicy) LocatorOption {
	return func(l *Locator) {
		l.navigation = p
	}
}

// NewLocator creates a locator.
func NewLocator(scanner core.ContentScanner, store *StateStore, cfg LocatorConfig, opts ...LocatorOption) *Locator {
	def := DefaultLocatorConfig()
	if cfg.SearchWait <= 0 {
		cfg.SearchWait = def.SearchWait
	}
	if cfg.ResultsWait <= 0 {
		cfg.ResultsWait = def.ResultsWait
	}
	if cfg.LoadMoreAttempts <= 0 {
		cfg.LoadMoreAttempts = def.LoadMoreAttempts
	}
	if cfg.ListURLs == nil {
		cfg.ListURLs = def.ListURLs
	}
	l := &Locator{
		scanner:    scanner,
		store:      store,
		cfg:        cfg,
		navigation: service.NavigationRetryPolicy(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListURL returns the listing page of a record type.
func (l *Locator) ListURL(t core.RecordType) (string, error) {
	u, ok := l.cfg.ListURLs[t]
	if !ok || u == "" {
		return "", core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("no list URL configured for %s", t))
	}
	return u, nil
}

// ClassifyPage tells listing pages from detail pages by URL.
func (l *Locator) ClassifyPage(pageURL string) core.PageKind {
	if _, ok := core.CandidateIDFromLocator(pageURL); ok {
		return core.PageDetail
	}
	for _, list := range l.cfg.ListURLs {
		if list != "" && strings.HasPrefix(pageURL, list) {
			return core.PageListing
		}
	}
	return core.PageOther
}

// Navigate loads a page, retrying transport failures.
func (l *Locator) Navigate(ctx context.Context, target string) error {
	return l.navigation.Execute(ctx, func(ctx context.Context, _ int) error {
		if err := l.scanner.Navigate(ctx, target); err != nil {
			var domErr *core.DomainError
			if errors.As(err, &domErr) {
				return err
			}
			return core.ErrNetwork("navigating to " + target).WithCause(err)
		}
		return nil
	})
}

// Locate searches for search.ExternalID and opens the best candidate.
// Status transitions are persisted as they happen. When every strategy comes
// back empty the context is saved as failed and ErrTicketNotFound returned.
func (l *Locator) Locate(ctx context.Context, search *core.SearchContext) (core.Candidate, error) {
	logger := l.logger.WithSheet(search.SheetID).WithRow(int(search.RowID)).With("external_id", search.ExternalID)

	listURL, err := l.ListURL(search.RecordType)
	if err != nil {
		return core.Candidate{}, err
	}

	search.Status = core.SearchStatusSearching
	if err := l.store.SaveSearch(ctx, search); err != nil {
		return core.Candidate{}, err
	}

	if err := l.Navigate(ctx, listURL); err != nil {
		return core.Candidate{}, err
	}
	search.Status = core.SearchStatusOnList
	if err := l.store.SaveSearch(ctx, search); err != nil {
		return core.Candidate{}, err
	}

	var candidates []core.Candidate
	for _, strategy := range l.strategies() {
		links, err := strategy.run(ctx, listURL, search.ExternalID)
		if err != nil {
			if ctx.Err() != nil {
				return core.Candidate{}, ctx.Err()
			}
			logger.Warn("search strategy failed", "strategy", strategy.name, "error", err)
			continue
		}
		candidates = core.RankCandidates(resolveLinks(listURL, links))
		if len(candidates) > 0 {
			logger.Info("candidates found", "strategy", strategy.name, "count", len(candidates), "top", candidates[0].CandidateID)
			break
		}
		logger.Debug("search strategy found nothing", "strategy", strategy.name)
	}

	if len(candidates) == 0 {
		search.Status = core.SearchStatusFailed
		if err := l.store.SaveSearch(ctx, search); err != nil {
			return core.Candidate{}, err
		}
		return core.Candidate{}, core.ErrTicketNotFound(search.ExternalID)
	}

	search.Candidates = candidates
	search.Status = core.SearchStatusFound
	if search.Attempt == "" {
		search.Attempt = core.AttemptNotTried
	}
	if err := l.store.SaveSearch(ctx, search); err != nil {
		return core.Candidate{}, err
	}

	if err := l.Navigate(ctx, candidates[0].Locator); err != nil {
		return core.Candidate{}, err
	}
	return candidates[0], nil
}

// OpenAlternate opens the second-ranked candidate without searching again.
func (l *Locator) OpenAlternate(ctx context.Context, search *core.SearchContext) (core.Candidate, error) {
	alternate, ok := search.Alternate()
	if !ok {
		return core.Candidate{}, core.ErrNotFound("alternate candidate", search.ExternalID)
	}
	if err := l.Navigate(ctx, alternate.Locator); err != nil {
		return core.Candidate{}, err
	}
	return alternate, nil
}

// ResumeCandidate re-opens the candidate selected by the attempt tag.
func (l *Locator) ResumeCandidate(ctx context.Context, search *core.SearchContext) (core.Candidate, error) {
	candidate, ok := search.ActiveCandidate()
	if !ok {
		return core.Candidate{}, core.ErrNotFound("candidate", search.ExternalID)
	}
	if err := l.Navigate(ctx, candidate.Locator); err != nil {
		return core.Candidate{}, err
	}
	return candidate, nil
}

func (l *Locator) strategies() []searchStrategy {
	return []searchStrategy{
		{name: "search_field", run: l.searchField},
		{name: "query_param", run: l.searchByQuery},
		{name: "text_scan", run: l.scanText},
	}
}

// searchField types the id into the list's own search box.
func (l *Locator) searchField(ctx context.Context, _, externalID string) ([]core.CandidateLink, error) {
	selector, err := l.scanner.WaitForAnyElement(ctx, SearchInputSelectors, l.cfg.SearchWait)
	if err != nil {
		return nil, err
	}
	if selector == "" {
		return nil, nil
	}

	if err := l.scanner.ClearFilters(ctx); err != nil {
		l.logger.Debug("clearing filters failed", "error", err)
	}
	if err := l.scanner.SubmitSearch(ctx, selector, externalID); err != nil {
		return nil, err
	}
	if _, err := l.scanner.WaitForAnyElement(ctx, ResultContainerSelectors, l.cfg.ResultsWait); err != nil {
		return nil, err
	}
	l.expand(ctx)

	return l.collect(ctx, core.LinkScope{Containers: ResultContainerSelectors})
}

// searchByQuery loads the list with the id as a FIND query parameter.
func (l *Locator) searchByQuery(ctx context.Context, listURL, externalID string) ([]core.CandidateLink, error) {
	sep := "?"
	if strings.Contains(listURL, "?") {
		sep = "&"
	}
	target := listURL + sep + "FIND=" + url.QueryEscape(externalID)
	if err := l.Navigate(ctx, target); err != nil {
		return nil, err
	}
	if _, err := l.scanner.WaitForAnyElement(ctx, ResultContainerSelectors, l.cfg.ResultsWait); err != nil {
		return nil, err
	}
	l.expand(ctx)

	return l.collect(ctx, core.LinkScope{Containers: ResultContainerSelectors})
}

// scanText looks for detail links in or around any element containing the id.
func (l *Locator) scanText(ctx context.Context, _, externalID string) ([]core.CandidateLink, error) {
	return l.collect(ctx, core.LinkScope{NearText: externalID})
}

func (l *Locator) expand(ctx context.Context) {
	for i := 0; i < l.cfg.LoadMoreAttempts; i++ {
		clicked, err := l.scanner.TriggerLoadMore(ctx)
		if err != nil || !clicked {
			return
		}
	}
}

func (l *Locator) collect(ctx context.Context, scope core.LinkScope) ([]core.CandidateLink, error) {
	links, err := l.scanner.FindCandidateLinks(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]core.CandidateLink, 0, len(links))
	for _, link := range links {
		if len(strings.TrimSpace(link.Text)) < maxLinkTextLength {
			out = append(out, link)
		}
	}
	return out, nil
}

// resolveLinks makes relative hrefs absolute against the list page.
func resolveLinks(base string, links []core.CandidateLink) []core.CandidateLink {
	baseURL, err := url.Parse(base)
	if err != nil {
		return links
	}
	out := make([]core.CandidateLink, 0, len(links))
	for _, link := range links {
		ref, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		out = append(out, core.CandidateLink{Href: baseURL.ResolveReference(ref).String(), Text: link.Text})
	}
	return out
}
