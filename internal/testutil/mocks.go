package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// callRecorder is embedded by the mocks to track invocations.
type callRecorder struct {
	mu    sync.Mutex
	calls []MockCall
}

func (r *callRecorder) record(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Args: args, Timestamp: time.Now()})
}

// Calls returns all recorded calls.
func (r *callRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]MockCall, len(r.calls))
	copy(result, r.calls)
	return result
}

// CallCount returns the number of calls to a method.
func (r *callRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore implements core.KVStore in memory. Values go through JSON so
// aliasing bugs show up the same way they would against a real store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	setErr  error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// FailSets makes every subsequent Set return err (nil restores).
func (m *MemoryStore) FailSets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// Get decodes the value at key into dst.
func (m *MemoryStore) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

// Set stores value at key.
func (m *MemoryStore) Set(_ context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = data
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys lists keys with prefix.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Has reports whether key exists.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// =============================================================================
// MockTabularStore
// =============================================================================

// RecordedWrite is one BatchWrite call.
type RecordedWrite struct {
	Sheet  string
	Writes []core.CellWrite
	Mode   core.WriteMode
}

// MockTabularStore implements core.TabularStore over an in-memory grid.
type MockTabularStore struct {
	callRecorder

	mu        sync.Mutex
	cells     map[string]map[string]string
	sheets    []core.SheetInfo
	dropped   map[string]bool
	writeErrs []error
	readErrs  []error
	writes    []RecordedWrite
}

// NewMockTabularStore creates a store with the given sheet titles.
func NewMockTabularStore(sheetTitles ...string) *MockTabularStore {
	s := &MockTabularStore{
		cells:   make(map[string]map[string]string),
		dropped: make(map[string]bool),
	}
	for i, title := range sheetTitles {
		s.sheets = append(s.sheets, core.SheetInfo{ID: int64(i + 1), Title: title, Index: int64(i)})
	}
	return s
}

// SetCell seeds a cell value.
func (s *MockTabularStore) SetCell(sheet, a1, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(sheet, a1, value)
}

// Cell returns a cell value.
func (s *MockTabularStore) Cell(sheet, a1 string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells[sheet][a1]
}

// DropWritesTo silently discards writes to column, simulating a write
// that is acknowledged but never persisted.
func (s *MockTabularStore) DropWritesTo(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[column] = true
}

// FailNextWrites queues errors returned by subsequent BatchWrite calls.
func (s *MockTabularStore) FailNextWrites(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrs = append(s.writeErrs, errs...)
}

// FailNextReads queues errors returned by subsequent GetValues calls.
func (s *MockTabularStore) FailNextReads(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErrs = append(s.readErrs, errs...)
}

// Writes returns the recorded BatchWrite calls.
func (s *MockTabularStore) Writes() []RecordedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

// GetValues implements core.TabularStore.
func (s *MockTabularStore) GetValues(_ context.Context, sheet string, ranges []string) ([][][]string, error) {
	s.record("GetValues", ranges)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		return nil, err
	}

	out := make([][][]string, 0, len(ranges))
	for _, r := range ranges {
		matrix, err := s.readRange(sheet, r)
		if err != nil {
			return nil, err
		}
		out = append(out, matrix)
	}
	return out, nil
}

// BatchWrite implements core.TabularStore.
func (s *MockTabularStore) BatchWrite(_ context.Context, sheet string, writes []core.CellWrite, mode core.WriteMode) error {
	s.record("BatchWrite", writes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		return err
	}

	s.writes = append(s.writes, RecordedWrite{Sheet: sheet, Writes: append([]core.CellWrite(nil), writes...), Mode: mode})
	for _, w := range writes {
		col, _, ok := splitCell(w.Range)
		if ok && s.dropped[col] {
			continue
		}
		s.setLocked(sheet, w.Range, w.Value)
	}
	return nil
}

// ListSheets implements core.TabularStore.
func (s *MockTabularStore) ListSheets(_ context.Context) ([]core.SheetInfo, error) {
	s.record("ListSheets", nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.SheetInfo(nil), s.sheets...), nil
}

func (s *MockTabularStore) setLocked(sheet, a1, value string) {
	if s.cells[sheet] == nil {
		s.cells[sheet] = make(map[string]string)
	}
	if value == "" {
		delete(s.cells[sheet], a1)
		return
	}
	s.cells[sheet][a1] = value
}

var (
	cellPattern   = regexp.MustCompile(`^([A-Z]+)(\d+)$`)
	columnPattern = regexp.MustCompile(`^([A-Z]+)(\d*):([A-Z]+)(\d*)$`)
)

func splitCell(a1 string) (string, int, bool) {
	m := cellPattern.FindStringSubmatch(a1)
	if m == nil {
		return "", 0, false
	}
	row, _ := strconv.Atoi(m[2])
	return m[1], row, true
}

// readRange mimics the Sheets API: trailing empty rows are trimmed and
// empty cells come back as empty rows.
func (s *MockTabularStore) readRange(sheet, r string) ([][]string, error) {
	if col, row, ok := splitCell(r); ok {
		v := s.cells[sheet][fmt.Sprintf("%s%d", col, row)]
		if v == "" {
			return [][]string{}, nil
		}
		return [][]string{{v}}, nil
	}

	m := columnPattern.FindStringSubmatch(r)
	if m == nil || m[1] != m[3] {
		return nil, fmt.Errorf("unsupported range %q", r)
	}
	col := m[1]
	start := 1
	if m[2] != "" {
		start, _ = strconv.Atoi(m[2])
	}
	end := 0
	for a1 := range s.cells[sheet] {
		c, row, ok := splitCell(a1)
		if ok && c == col && row > end {
			end = row
		}
	}
	if m[4] != "" {
		if limit, _ := strconv.Atoi(m[4]); limit < end {
			end = limit
		}
	}

	matrix := [][]string{}
	for row := start; row <= end; row++ {
		v := s.cells[sheet][fmt.Sprintf("%s%d", col, row)]
		if v == "" {
			matrix = append(matrix, []string{})
			continue
		}
		matrix = append(matrix, []string{v})
	}
	return matrix, nil
}

// =============================================================================
// FakeScanner
// =============================================================================

// FakePage is a canned document served by FakeScanner.
type FakePage struct {
	Text            string
	Links           []core.CandidateLink
	Blocks          []core.TextBlock
	Heights         []float64
	LoadMoreClicks  int
	SearchSelectors []string

	heightCalls int
}

// FakeScanner implements core.ContentScanner over canned pages.
type FakeScanner struct {
	callRecorder

	mu            sync.Mutex
	pages         map[string]*FakePage
	current       string
	query         string
	navigations   []string
	searchResults map[string][]core.CandidateLink
	nearText      map[string][]core.CandidateLink
	navigateErr   error
}

// NewFakeScanner creates a scanner positioned on startURL.
func NewFakeScanner(startURL string) *FakeScanner {
	return &FakeScanner{
		pages:         make(map[string]*FakePage),
		current:       startURL,
		searchResults: make(map[string][]core.CandidateLink),
		nearText:      make(map[string][]core.CandidateLink),
	}
}

// AddPage registers a page at url.
func (f *FakeScanner) AddPage(url string, page *FakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = page
}

// SetSearchResults sets links shown after submitting query in a search box.
func (f *FakeScanner) SetSearchResults(query string, links ...core.CandidateLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchResults[query] = links
}

// SetNearTextLinks sets links found around elements containing text.
func (f *FakeScanner) SetNearTextLinks(text string, links ...core.CandidateLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearText[text] = links
}

// FailNavigation makes Navigate return err (nil restores).
func (f *FakeScanner) FailNavigation(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigateErr = err
}

// Navigations returns every URL navigated to, in order.
func (f *FakeScanner) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// SetCurrentURL moves the scanner without recording a navigation.
func (f *FakeScanner) SetCurrentURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = url
	f.query = ""
}

func (f *FakeScanner) page() *FakePage {
	p, ok := f.pages[f.current]
	if !ok {
		p = &FakePage{}
		f.pages[f.current] = p
	}
	return p
}

// CurrentURL implements core.ContentScanner.
func (f *FakeScanner) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

// Navigate implements core.ContentScanner.
func (f *FakeScanner) Navigate(_ context.Context, url string) error {
	f.record("Navigate", url)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigations = append(f.navigations, url)
	f.current = url
	f.query = ""
	return nil
}

// VisibleText implements core.ContentScanner.
func (f *FakeScanner) VisibleText(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page().Text, nil
}

// FindCandidateLinks implements core.ContentScanner.
func (f *FakeScanner) FindCandidateLinks(_ context.Context, scope core.LinkScope) ([]core.CandidateLink, error) {
	f.record("FindCandidateLinks", scope)
	f.mu.Lock()
	defer f.mu.Unlock()
	if scope.NearText != "" {
		return f.nearText[scope.NearText], nil
	}
	if f.query != "" {
		return f.searchResults[f.query], nil
	}
	return f.page().Links, nil
}

// TriggerLoadMore implements core.ContentScanner.
func (f *FakeScanner) TriggerLoadMore(_ context.Context) (bool, error) {
	f.record("TriggerLoadMore", nil)
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.page()
	if p.LoadMoreClicks > 0 {
		p.LoadMoreClicks--
		return true, nil
	}
	return false, nil
}

// ScrollToBottom implements core.ContentScanner.
func (f *FakeScanner) ScrollToBottom(_ context.Context) error {
	f.record("ScrollToBottom", nil)
	return nil
}

// ScrollToTop implements core.ContentScanner.
func (f *FakeScanner) ScrollToTop(_ context.Context) error {
	f.record("ScrollToTop", nil)
	return nil
}

// DocumentHeight implements core.ContentScanner. Successive calls walk
// through Heights and then repeat the last value.
func (f *FakeScanner) DocumentHeight(_ context.Context) (float64, error) {
	f.record("DocumentHeight", nil)
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.page()
	if len(p.Heights) == 0 {
		return 1000, nil
	}
	idx := p.heightCalls
	if idx >= len(p.Heights) {
		idx = len(p.Heights) - 1
	}
	p.heightCalls++
	return p.Heights[idx], nil
}

// WaitForAnyElement implements core.ContentScanner without waiting.
func (f *FakeScanner) WaitForAnyElement(_ context.Context, selectors []string, _ time.Duration) (string, error) {
	f.record("WaitForAnyElement", selectors)
	f.mu.Lock()
	defer f.mu.Unlock()
	present := map[string]bool{}
	for _, s := range f.page().SearchSelectors {
		present[s] = true
	}
	for _, s := range selectors {
		if present[s] {
			return s, nil
		}
	}
	return "", nil
}

// ClearFilters implements core.ContentScanner.
func (f *FakeScanner) ClearFilters(_ context.Context) error {
	f.record("ClearFilters", nil)
	return nil
}

// SubmitSearch implements core.ContentScanner.
func (f *FakeScanner) SubmitSearch(_ context.Context, selector, query string) error {
	f.record("SubmitSearch", query)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	return nil
}

// TextBlocks implements core.ContentScanner.
func (f *FakeScanner) TextBlocks(_ context.Context) ([]core.TextBlock, error) {
	f.record("TextBlocks", nil)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.TextBlock(nil), f.page().Blocks...), nil
}
