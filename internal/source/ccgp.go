package source

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const ccgpBase = "http://www.ccgp.gov.cn"

// CCGP crawls the central government procurement portal's announcement lists.
// The search endpoint rejects automated clients, so the plain list pages are
// used instead.
type CCGP struct {
	keywords []string
}

// NewCCGP builds the adapter.
func NewCCGP(opts Options) *CCGP {
	return &CCGP{keywords: lowerAll(opts.Keywords)}
}

// Name implements monitor.SourceAdapter.
func (c *CCGP) Name() string { return "ccgp" }

// ListURLs returns the central and regional announcement list pages.
func (c *CCGP) ListURLs() []string {
	return []string{
		ccgpBase + "/cggg/zygg/",
		ccgpBase + "/cggg/dfgg/",
	}
}

// Parse extracts announcement links from a list page. Items that fail to
// parse are skipped.
func (c *CCGP) Parse(html string) ([]monitor.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse ccgp page: %w", err)
	}

	var records []monitor.Record
	items := doc.Find("ul.vT_z li, div.vT_z_list li, ul.list li")
	if items.Length() == 0 {
		items = doc.Find("a")
	}
	items.Each(func(_ int, sel *goquery.Selection) {
		link := sel
		if !sel.Is("a") {
			link = sel.Find("a").First()
			if link.Length() == 0 {
				return
			}
		}
		title := strings.TrimSpace(link.Text())
		if len([]rune(title)) < 10 {
			return
		}
		if !containsAny(strings.ToLower(title), c.keywords) {
			return
		}
		href, _ := link.Attr("href")
		url := resolveURL(ccgpBase, href)
		if url == "" {
			return
		}

		var publishDate string
		if !sel.Is("a") {
			publishDate = strings.TrimSpace(sel.Find("span.date, span").First().Text())
		}
		records = append(records, monitor.Record{
			Title:       title,
			URL:         url,
			PublishDate: publishDate,
			Source:      "中国政府采购网",
		})
	})
	return records, nil
}
