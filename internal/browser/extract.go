package browser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkSet is the classified outbound link graph of one rendered page.
type LinkSet struct {
	All      []string // resolved absolute hrefs, deduplicated by full URL
	Internal []string // same-host links normalized to scheme+host+path
	External []string // cross-host links, deduplicated by full URL
}

// skippedSchemes are href prefixes that never produce a navigable page.
var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// ExtractLinks enumerates anchor elements in rendered HTML and classifies
// each href relative to baseHost. Relative hrefs resolve against pageURL,
// which must be the final rendered URL so client-side redirects are honored.
func ExtractLinks(html, pageURL, baseHost string) (LinkSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return LinkSet{}, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return LinkSet{}, err
	}

	set := LinkSet{
		All:      make([]string, 0),
		Internal: make([]string, 0),
		External: make([]string, 0),
	}
	seenAll := make(map[string]struct{})
	seenInternal := make(map[string]struct{})
	seenExternal := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		for _, scheme := range skippedSchemes {
			if strings.HasPrefix(strings.ToLower(href), scheme) {
				return
			}
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		full := resolved.String()
		if _, dup := seenAll[full]; !dup {
			seenAll[full] = struct{}{}
			set.All = append(set.All, full)
		}

		if strings.EqualFold(resolved.Host, baseHost) {
			normalized := resolved.Scheme + "://" + resolved.Host + resolved.EscapedPath()
			if _, dup := seenInternal[normalized]; !dup {
				seenInternal[normalized] = struct{}{}
				set.Internal = append(set.Internal, normalized)
			}
		} else {
			if _, dup := seenExternal[full]; !dup {
				seenExternal[full] = struct{}{}
				set.External = append(set.External, full)
			}
		}
	})

	return set, nil
}
