package sitecache

import (
	"github.com/sitelens/sitelens/internal/crawl"
)

// DiffResult categorizes the current crawl against the previous one.
type DiffResult struct {
	New      []string `json:"newPages"`
	Deleted  []string `json:"deletedPages"`
	Modified []string `json:"modifiedPages"`
}

// Empty reports whether nothing changed between the two crawls.
func (d DiffResult) Empty() bool {
	return len(d.New) == 0 && len(d.Deleted) == 0 && len(d.Modified) == 0
}

// HasPageChanged reports whether a freshly crawled page differs from its
// cached record. A page changed if its title differs or its internal link
// set differs as a set; link order is presentation detail and never counts
// as a change.
func HasPageChanged(page *crawl.PageInfo, cached CachedPage) bool {
	if page.Title != cached.Title {
		return true
	}
	if len(page.InternalLinks) != len(cached.InternalLinks) {
		return true
	}
	prev := make(map[string]struct{}, len(cached.InternalLinks))
	for _, link := range cached.InternalLinks {
		prev[link] = struct{}{}
	}
	for _, link := range page.InternalLinks {
		if _, ok := prev[link]; !ok {
			return true
		}
	}
	return false
}

// Diff compares the current crawl (pages in discovery order) against the
// previous graph. Output order follows the current crawl for new and
// modified pages; deleted pages carry no meaningful order.
func Diff(current []*crawl.PageInfo, previous map[string]CachedPage) DiffResult {
	var result DiffResult

	currentKeys := make(map[string]struct{}, len(current))
	for _, page := range current {
		key := crawl.Canonical(page.URL)
		currentKeys[key] = struct{}{}

		cached, existed := previous[key]
		switch {
		case !existed:
			result.New = append(result.New, key)
		case HasPageChanged(page, cached):
			result.Modified = append(result.Modified, key)
		}
	}

	for key := range previous {
		if _, still := currentKeys[key]; !still {
			result.Deleted = append(result.Deleted, key)
		}
	}

	return result
}
