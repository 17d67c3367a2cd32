package listing

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// HTMLScanner reads anchors from an HTML search-results page.
type HTMLScanner struct {
	filter *linkFilter
}

func NewHTMLScanner(opts Options) (*HTMLScanner, error) {
	f, err := newLinkFilter(opts)
	if err != nil {
		return nil, err
	}
	return &HTMLScanner{filter: f}, nil
}

func (s *HTMLScanner) Scan(markup []byte) offer.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		s.filter.logger.Warn("parse search page", "error", err)
		return offer.Listing{}
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})

	out := s.filter.collect(hrefs)
	s.filter.logger.Debug("scanned search page", "anchors", len(hrefs), "offers", len(out.All()))
	return out
}
