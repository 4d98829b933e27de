package crawl

import "net/url"

// PageInfo describes one discovered page. Created once when a page is
// successfully fetched; never mutated afterwards.
type PageInfo struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Depth         int      `json:"depth"`
	ParentURL     string   `json:"parentUrl,omitempty"` // empty for the root
	Links         []string `json:"links"`
	InternalLinks []string `json:"internalLinks"`
	ExternalLinks []string `json:"externalLinks"`
	StatusCode    int      `json:"statusCode"`
	Error         string   `json:"error,omitempty"`
}

// Canonical strips the query string and fragment from a URL, keeping
// scheme+host+path. Different query strings on the same path map to the
// same node. Unparseable input is returned as-is.
func Canonical(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}
