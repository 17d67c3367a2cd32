// Package listing turns a search-results page into categorised offer links.
package listing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// Scanner extracts candidate offer links from a fetched search page.
// Unparseable input yields an empty Listing, never an error.
type Scanner interface {
	Scan(markup []byte) offer.Listing
}

// Options configure how links are recognised and classified.
type Options struct {
	BaseURL    string
	DetailPath string
	Keywords   map[offer.Category][]string
	Logger     *slog.Logger
}

// New returns the scanner for format ("html" or "feed").
func New(format string, opts Options) (Scanner, error) {
	switch format {
	case "", "html":
		s, err := NewHTMLScanner(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "feed":
		s, err := NewFeedScanner(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("listing: unknown format %q", format)
	}
}

// linkFilter resolves raw hrefs against the site and keeps detail links.
type linkFilter struct {
	base       *url.URL
	detailPath string
	classifier *Classifier
	logger     *slog.Logger
}

func newLinkFilter(opts Options) (*linkFilter, error) {
	if strings.TrimSpace(opts.DetailPath) == "" {
		return nil, errors.New("listing: detail path is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("listing: invalid base url %q", opts.BaseURL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &linkFilter{
		base:       base,
		detailPath: opts.DetailPath,
		classifier: NewClassifier(opts.Keywords),
		logger:     logger,
	}, nil
}

// resolve returns the absolute form of href, or false when href is not an
// offer detail link.
func (f *linkFilter) resolve(href string) (offer.Link, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := f.base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.Contains(u.Path, f.detailPath) {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return offer.Link(u.String()), true
}

// collect classifies hrefs into a Listing.
func (f *linkFilter) collect(hrefs []string) offer.Listing {
	out := make(offer.Listing)
	for _, href := range hrefs {
		link, ok := f.resolve(href)
		if !ok {
			continue
		}
		for _, cat := range f.classifier.Classify(link) {
			if out[cat] == nil {
				out[cat] = make(offer.Set)
			}
			out[cat].Add(link)
		}
	}
	return out
}

// Classifier assigns categories by case-insensitive keyword match on the
// link path.
type Classifier struct {
	keywords map[offer.Category][]string
}

func NewClassifier(keywords map[offer.Category][]string) *Classifier {
	lowered := make(map[offer.Category][]string, len(keywords))
	for cat, words := range keywords {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				lowered[cat] = append(lowered[cat], w)
			}
		}
	}
	return &Classifier{keywords: lowered}
}

// Classify returns every category whose keywords occur in link, in
// offer.Categories order. A link matching none is Uncategorized.
func (c *Classifier) Classify(link offer.Link) []offer.Category {
	target := strings.ToLower(string(link))
	if u, err := url.Parse(string(link)); err == nil {
		target = strings.ToLower(u.Path)
	}

	var cats []offer.Category
	for _, cat := range offer.Categories {
		for _, w := range c.keywords[cat] {
			if strings.Contains(target, w) {
				cats = append(cats, cat)
				break
			}
		}
	}
	if len(cats) == 0 {
		return []offer.Category{offer.Uncategorized}
	}
	return cats
}
