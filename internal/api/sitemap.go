package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitelens/sitelens/internal/crawl"
)

// sitemapResponse is the graph shape consumed by the visualization client.
type sitemapResponse struct {
	Nodes []sitemapNode `json:"nodes"`
	Edges []sitemapEdge `json:"edges"`
}

type sitemapNode struct {
	Data nodeData `json:"data"`
}

type nodeData struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Depth         int      `json:"depth"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	Links         []string `json:"links,omitempty"`
	InternalLinks []string `json:"internalLinks,omitempty"`
	ExternalLinks []string `json:"externalLinks,omitempty"`
}

type sitemapEdge struct {
	Data edgeData `json:"data"`
}

type edgeData struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := s.sessions.Snapshot(id)
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	pages := s.sessions.Pages(id)
	resp := sitemapResponse{Nodes: []sitemapNode{}, Edges: []sitemapEdge{}}

	// Node IDs are ordinals in discovery order; the index maps canonical
	// URLs back to them so edges can be resolved in one pass.
	nodeIndex := make(map[string]string, len(pages))
	for i, page := range pages {
		nodeID := fmt.Sprintf("n%d", i)
		nodeIndex[crawl.Canonical(page.URL)] = nodeID
		resp.Nodes = append(resp.Nodes, sitemapNode{Data: nodeData{
			ID:            nodeID,
			URL:           page.URL,
			Title:         page.Title,
			Depth:         page.Depth,
			Thumbnail:     snap.Screenshots[page.URL],
			Links:         page.Links,
			InternalLinks: page.InternalLinks,
			ExternalLinks: page.ExternalLinks,
		}})
	}

	// One edge per distinct source-target pair; links to pages outside the
	// discovered set have no node and are dropped.
	seen := make(map[string]struct{})
	for _, page := range pages {
		source := nodeIndex[crawl.Canonical(page.URL)]
		for _, link := range page.InternalLinks {
			target, ok := nodeIndex[crawl.Canonical(link)]
			if !ok || target == source {
				continue
			}
			key := source + "->" + target
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			resp.Edges = append(resp.Edges, sitemapEdge{Data: edgeData{
				ID:     fmt.Sprintf("e%d", len(resp.Edges)),
				Source: source,
				Target: target,
			}})
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
