package source

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const chinaBiddingBase = "https://www.chinabidding.com.cn"

// Generic procurement terms that mark a link as announcement-like even when
// no configured keyword hits.
var biddingTerms = []string{"招标", "中标", "采购", "公告"}

// ChinaBidding crawls the China bidding portal's news and list pages.
type ChinaBidding struct {
	keywords []string
}

// NewChinaBidding builds the adapter.
func NewChinaBidding(opts Options) *ChinaBidding {
	return &ChinaBidding{keywords: lowerAll(opts.Keywords)}
}

// Name implements monitor.SourceAdapter.
func (c *ChinaBidding) Name() string { return "chinabidding" }

// ListURLs returns the portal pages scanned each round.
func (c *ChinaBidding) ListURLs() []string {
	return []string{
		chinaBiddingBase + "/html/3000000009866/1.html",
		chinaBiddingBase + "/html/3000000009966/1.html",
		chinaBiddingBase + "/",
	}
}

// Parse harvests announcement-looking links from the page.
func (c *ChinaBidding) Parse(html string) ([]monitor.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse chinabidding page: %w", err)
	}

	var records []monitor.Record
	doc.Find("a").Each(func(_ int, link *goquery.Selection) {
		title := strings.TrimSpace(link.Text())
		if len([]rune(title)) < 10 {
			return
		}
		lowered := strings.ToLower(title)
		if !containsAny(lowered, biddingTerms) && !containsAny(lowered, c.keywords) {
			return
		}
		href, _ := link.Attr("href")
		if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript") {
			return
		}
		url := resolveURL(chinaBiddingBase, href)
		if url == "" {
			return
		}
		records = append(records, monitor.Record{
			Title:  title,
			URL:    url,
			Source: "中国采购与招标网",
		})
	})
	return records, nil
}
