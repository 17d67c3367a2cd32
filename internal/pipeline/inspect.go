package pipeline

import (
	"context"

	"github.com/ppiankov/offerwatch/internal/fetch"
	"github.com/ppiankov/offerwatch/internal/offer"
)

// Inspect fetches and extracts a single detail page outside of a cycle.
func Inspect(ctx context.Context, f Fetcher, e Extractor, link offer.Link) (offer.Record, error) {
	body, err := f.Fetch(ctx, fetch.Get(string(link)))
	if err != nil {
		return offer.Record{}, err
	}
	return e.Extract(body, link)
}
