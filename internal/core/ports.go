package core

import (
	"context"
	"time"
)

// =============================================================================
// Durable Store Port
// =============================================================================

// KVStore is the key/value persistence that survives process restarts.
// Values are JSON-encoded by implementations.
type KVStore interface {
	// Get decodes the value stored at key into dst. It returns false and no
	// error when the key does not exist.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists stored keys sharing prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// =============================================================================
// Tabular Store Port
// =============================================================================

// WriteMode controls how the tabular store interprets written values.
type WriteMode string

const (
	// WriteUserEntered parses values as if typed (dates become dates).
	WriteUserEntered WriteMode = "USER_ENTERED"
	// WriteRaw stores values verbatim.
	WriteRaw WriteMode = "RAW"
)

// CellWrite is one A1 range (without sheet prefix) and its value.
type CellWrite struct {
	Range string `json:"range"`
	Value string `json:"value"`
}

// SheetInfo describes one sheet of the spreadsheet.
type SheetInfo struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Index int64  `json:"index"`
}

// TabularStore is the spreadsheet the workflow reads ids from and writes
// timestamps into.
type TabularStore interface {
	// GetValues returns one matrix of cell values per requested A1 range.
	GetValues(ctx context.Context, sheet string, ranges []string) ([][][]string, error)

	// BatchWrite writes all cells in a single request.
	BatchWrite(ctx context.Context, sheet string, writes []CellWrite, mode WriteMode) error

	// ListSheets returns the sheets of the spreadsheet.
	ListSheets(ctx context.Context) ([]SheetInfo, error)
}

// =============================================================================
// Content Scanner Port
// =============================================================================

// CandidateLink is a link to a ticket detail page.
type CandidateLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// LinkScope narrows FindCandidateLinks. Container is tried first; when
// NearText is set only links inside or around elements containing that
// text are returned.
type LinkScope struct {
	Containers []string
	NearText   string
}

// BlockKind distinguishes short text nodes from larger content blocks.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockGroup BlockKind = "block"
)

// TextBlock is visible text with its absolute vertical position.
type TextBlock struct {
	Kind BlockKind `json:"kind"`
	Text string    `json:"text"`
	Y    float64   `json:"y"`
}

// ContentScanner abstracts the ticketing web application page.
type ContentScanner interface {
	// CurrentURL returns the URL of the open page.
	CurrentURL(ctx context.Context) (string, error)

	// Navigate opens url and waits for the document to load.
	Navigate(ctx context.Context, url string) error

	// VisibleText returns the rendered text of the page body.
	VisibleText(ctx context.Context) (string, error)

	// FindCandidateLinks returns visible ticket detail links.
	FindCandidateLinks(ctx context.Context, scope LinkScope) ([]CandidateLink, error)

	// TriggerLoadMore clicks visible "load more" affordances and reports
	// whether anything was clicked.
	TriggerLoadMore(ctx context.Context) (bool, error)

	// ScrollToBottom scrolls the page to its current end.
	ScrollToBottom(ctx context.Context) error

	// ScrollToTop scrolls back to the top of the page.
	ScrollToTop(ctx context.Context) error

	// DocumentHeight returns the scrollable height of the page.
	DocumentHeight(ctx context.Context) (float64, error)

	// WaitForAnyElement polls until one of selectors is visible or the
	// timeout elapses. It returns the matching selector, or "" on timeout.
	WaitForAnyElement(ctx context.Context, selectors []string, timeout time.Duration) (string, error)

	// ClearFilters resets any active list filters.
	ClearFilters(ctx context.Context) error

	// SubmitSearch types query into the input matched by selector and submits.
	SubmitSearch(ctx context.Context, selector, query string) error

	// TextBlocks returns candidate date headers and activity blocks.
	TextBlocks(ctx context.Context) ([]TextBlock, error)
}
