// Package sitecache persists crawl graphs and feedback records between runs,
// enabling diffing against a site's previous crawl and smart screenshot
// reuse.
package sitecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
)

var (
	bucketSites    = []byte("sites")
	bucketFeedback = []byte("feedback")
)

// CachedPage is the durable record of one crawled page: everything needed to
// decide, on the next run, whether the page changed and whether its
// screenshot can be reused.
type CachedPage struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	InternalLinks []string `json:"internalLinks"`
	ThumbnailRef  string   `json:"thumbnailRef,omitempty"`
}

// FeedbackItem is an annotation a reviewer left on a page.
type FeedbackItem struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"` // open, resolved, archived
	Note   string `json:"note,omitempty"`
}

// graphRecord is the stored shape: a node list keyed under "nodes" so the
// stored graph and the sitemap API speak the same structure.
type graphRecord struct {
	Nodes   []graphNode `json:"nodes"`
	SavedAt time.Time   `json:"savedAt"`
}

type graphNode struct {
	Data CachedPage `json:"data"`
}

// Store is the BoltDB-backed site cache.
type Store struct {
	db  *bolt.DB
	log *logger.Logger
}

// Open opens (or creates) the cache database at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSites, bucketFeedback} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db, log: log.WithComponent("sitecache")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveGraph persists the crawl result for a site, overwriting any previous
// graph. Pages are stored under their canonical URL; thumbs maps page URL to
// thumbnail file name.
func (s *Store) SaveGraph(siteID string, pages []*crawl.PageInfo, thumbs map[string]string) error {
	record := graphRecord{SavedAt: time.Now()}
	for _, p := range pages {
		record.Nodes = append(record.Nodes, graphNode{Data: CachedPage{
			URL:           crawl.Canonical(p.URL),
			Title:         p.Title,
			InternalLinks: p.InternalLinks,
			ThumbnailRef:  thumbs[p.URL],
		}})
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).Put([]byte(siteID), data)
	})
}

// LoadPreviousGraph returns the previous crawl's pages keyed by canonical
// URL. A missing or unreadable record degrades to an empty map: stale cache
// must never block a fresh crawl.
func (s *Store) LoadPreviousGraph(siteID string) map[string]CachedPage {
	pages := make(map[string]CachedPage)

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSites).Get([]byte(siteID))
		if data == nil {
			return nil
		}
		var record graphRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		for _, node := range record.Nodes {
			pages[node.Data.URL] = node.Data
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warnf("failed to load cached graph for site %s", siteID)
		return make(map[string]CachedPage)
	}
	return pages
}

// LoadPreviousURLs returns the canonical URLs of the previous crawl in
// stored order.
func (s *Store) LoadPreviousURLs(siteID string) []string {
	var urls []string

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSites).Get([]byte(siteID))
		if data == nil {
			return nil
		}
		var record graphRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		for _, node := range record.Nodes {
			urls = append(urls, node.Data.URL)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warnf("failed to load cached URLs for site %s", siteID)
		return nil
	}
	return urls
}

// SaveFeedback replaces the feedback list for a site.
func (s *Store) SaveFeedback(siteID string, items []FeedbackItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedback).Put([]byte(siteID), data)
	})
}

// LoadActiveFeedbackURLs returns the distinct URLs carrying open or resolved
// feedback for a site. Archived items are ignored.
func (s *Store) LoadActiveFeedbackURLs(siteID string) []string {
	var items []FeedbackItem

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFeedback).Get([]byte(siteID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &items)
	})
	if err != nil {
		s.log.WithError(err).Warnf("failed to load feedback for site %s", siteID)
		return nil
	}

	seen := make(map[string]struct{})
	var urls []string
	for _, item := range items {
		if item.Status != "open" && item.Status != "resolved" {
			continue
		}
		if _, dup := seen[item.URL]; dup {
			continue
		}
		seen[item.URL] = struct{}{}
		urls = append(urls, item.URL)
	}
	return urls
}
