package frontier

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Visited tracks canonical URLs already taken off the frontier. A Bloom
// filter answers the common "never seen" case without touching the exact
// set; the map resolves potential false positives.
type Visited struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewVisited creates a visited set sized for the expected page count.
func NewVisited(estimatedItems int) *Visited {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}
	return &Visited{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add marks a URL as visited.
func (v *Visited) Add(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.exact[url]; !exists {
		v.filter.AddString(url)
		v.exact[url] = struct{}{}
	}
}

// Has reports whether a URL was visited.
func (v *Visited) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}
