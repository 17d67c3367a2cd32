package listing

import (
	"bytes"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// FeedScanner reads item links from an RSS or Atom search feed.
type FeedScanner struct {
	filter *linkFilter
}

func NewFeedScanner(opts Options) (*FeedScanner, error) {
	f, err := newLinkFilter(opts)
	if err != nil {
		return nil, err
	}
	return &FeedScanner{filter: f}, nil
}

func (s *FeedScanner) Scan(markup []byte) offer.Listing {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(markup))
	if err != nil {
		s.filter.logger.Warn("parse search feed", "error", err)
		return offer.Listing{}
	}

	var hrefs []string
	for _, item := range feed.Items {
		if item.Link != "" {
			hrefs = append(hrefs, item.Link)
		}
		for _, l := range item.Links {
			if l != item.Link {
				hrefs = append(hrefs, l)
			}
		}
	}

	out := s.filter.collect(hrefs)
	s.filter.logger.Debug("scanned search feed", "items", len(feed.Items), "offers", len(out.All()))
	return out
}
