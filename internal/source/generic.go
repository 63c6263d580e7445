package source

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Generic is a link-harvest adapter for user-defined sites. It returns every
// plausible announcement link on the page and leaves keyword filtering to the
// pipeline.
type Generic struct {
	name string
	url  string
	now  func() time.Time
}

// NewGeneric builds an adapter for one custom site.
func NewGeneric(site monitor.Site) *Generic {
	return &Generic{name: site.Name, url: site.URL, now: time.Now}
}

// Name implements monitor.SourceAdapter.
func (g *Generic) Name() string { return g.name }

// ListURLs returns the single configured page.
func (g *Generic) ListURLs() []string { return []string{g.url} }

// Parse harvests all anchors with meaningful text. Dates are rarely
// extractable from arbitrary layouts, so today's date is used.
func (g *Generic) Parse(html string) ([]monitor.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse custom page %s: %w", g.name, err)
	}

	today := g.now().Format("2006-01-02")
	seen := make(map[string]struct{})
	var records []monitor.Record

	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		text := strings.TrimSpace(link.Text())
		if len([]rune(text)) < 4 {
			return
		}
		href, _ := link.Attr("href")
		lowered := strings.ToLower(href)
		for _, prefix := range []string{"javascript:", "#", "mailto:", "tel:"} {
			if strings.HasPrefix(lowered, prefix) {
				return
			}
		}
		full := resolveURL(g.url, href)
		if full == "" {
			return
		}
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		records = append(records, monitor.Record{
			Title:       text,
			URL:         full,
			PublishDate: today,
			Source:      g.name,
		})
	})
	return records, nil
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}

// containsAny reports whether text contains any of the lowered terms. An
// empty term list matches everything so unconfigured adapters stay permissive.
func containsAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// resolveURL joins href against base when it is relative.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
