package browser

// Page scripts evaluated with page.Evaluate. Each takes at most one
// argument and returns JSON-compatible values.

// ClearFilterSelectors are the filter chip delete buttons of list pages.
var ClearFilterSelectors = []string{
	".main-ui-filter-field-delete",
	".ui-filter-field-delete",
	".filter-reset",
	".clear-filter",
}

// SearchButtonSelectors submit a list search when Enter alone does not.
var SearchButtonSelectors = []string{
	`button[type="submit"]`,
	".main-ui-filter-search-button",
	".ui-btn-search",
	".search-button",
	`button[class*="search"]`,
	`button[class*="Search"]`,
}

// LoadMoreSelectors expand paginated lists and timelines.
var LoadMoreSelectors = []string{
	`[data-role="load-more"]`,
	".crm-entity-stream-loadMore",
	".ui-btn-wait",
	".crm-entity-stream-moreButton",
	".load-more",
	".show-more",
}

const scriptVisibleText = `() => document.body ? document.body.innerText : ""`

const scriptDocumentHeight = `() => document.body ? document.body.scrollHeight : 0`

const scriptScrollToBottom = `() => window.scrollTo(0, document.body.scrollHeight)`

const scriptScrollToTop = `() => window.scrollTo(0, 0)`

// scriptFirstVisible returns the first selector matching a rendered element.
const scriptFirstVisible = `(selectors) => {
  for (const s of selectors) {
    let el = null;
    try { el = document.querySelector(s); } catch (e) { continue; }
    if (el && el.offsetParent !== null) return s;
  }
  return "";
}`

// scriptClickAll clicks every rendered, enabled element matching any of the
// selectors and returns the number of clicks.
const scriptClickAll = `(selectors) => {
  let clicked = 0;
  for (const s of selectors) {
    let nodes = [];
    try { nodes = document.querySelectorAll(s); } catch (e) { continue; }
    for (const el of nodes) {
      if (el.offsetParent === null || el.disabled) continue;
      try { el.click(); clicked++; } catch (e) {}
    }
  }
  return clicked;
}`

// scriptClickFirst clicks the first rendered element matching any selector.
const scriptClickFirst = `(selectors) => {
  for (const s of selectors) {
    let el = null;
    try { el = document.querySelector(s); } catch (e) { continue; }
    if (el && el.offsetParent !== null) { el.click(); return true; }
  }
  return false;
}`

// scriptCandidateLinks collects rendered detail links. With containers the
// first existing container bounds the search; with nearText only links in
// or around elements whose text contains it are returned.
const scriptCandidateLinks = `({containers, nearText}) => {
  const visible = (a) => a.offsetParent !== null;
  const pick = (a) => ({href: a.getAttribute("href") || a.href || "", text: (a.textContent || "").trim()});
  if (nearText) {
    const needle = nearText.toLowerCase();
    const out = [];
    for (const el of document.querySelectorAll("td, div, span, a")) {
      if (!(el.textContent || "").toLowerCase().includes(needle)) continue;
      const link = el.closest("a") || el.querySelector("a");
      if (link && visible(link)) out.push(pick(link));
    }
    return out;
  }
  let root = document.body;
  for (const s of containers || []) {
    let el = null;
    try { el = document.querySelector(s); } catch (e) { continue; }
    if (el) { root = el; break; }
  }
  if (!root) return [];
  return Array.from(root.querySelectorAll('a[href*="/details/"]')).filter(visible).map(pick);
}`

// scriptTextBlocks returns short text nodes and div blocks with their
// absolute vertical position. Blocks are limited to minLen..maxLen chars.
const scriptTextBlocks = `({minLen, maxLen}) => {
  const out = [];
  if (!document.body) return out;
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT, null);
  let node;
  while ((node = walker.nextNode())) {
    const text = (node.textContent || "").trim();
    if (!text || text.length > 40) continue;
    const el = node.parentElement;
    if (!el || el.offsetParent === null) continue;
    out.push({kind: "text", text, y: el.getBoundingClientRect().top + window.scrollY});
  }
  for (const div of document.getElementsByTagName("div")) {
    const text = div.textContent || "";
    if (text.length <= minLen || text.length >= maxLen) continue;
    const rect = div.getBoundingClientRect();
    if (rect.height <= 0) continue;
    out.push({kind: "block", text, y: rect.top + window.scrollY});
  }
  return out;
}`
