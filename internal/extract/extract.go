// Package extract reads the structured fields of one offer's detail page.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/offerwatch/internal/normalize"
	"github.com/ppiankov/offerwatch/internal/offer"
)

// Options name the labels and selectors that locate each field.
type Options struct {
	RentLabels       []string
	RoomLabels       []string
	TitleSelectors   []string
	AddressSelectors []string
	Logger           *slog.Logger
}

type Extractor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{opts: opts, logger: logger}
}

// field is one labelled row of a detail page.
type field struct {
	label string
	value string
}

// Extract parses markup into a Record. A missing or malformed total rent
// yields offer.ErrMissingRequiredField; every other field is optional.
func (e *Extractor) Extract(markup []byte, link offer.Link) (offer.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return offer.Record{}, fmt.Errorf("parse detail page %s: %w", link, err)
	}

	// Line breaks separate street and city; keep them apart in Text().
	doc.Find("br").ReplaceWithHtml(" ")

	log := e.logger.With("link", string(link))
	fields := labelledFields(doc)

	rec := offer.Record{
		Link:  link,
		Title: firstText(doc, e.opts.TitleSelectors),
	}

	rawRent, ok := lookup(fields, e.opts.RentLabels)
	if !ok {
		return offer.Record{}, fmt.Errorf("extract rent %s: %w", link, offer.ErrMissingRequiredField)
	}
	rent, err := normalize.ParseCurrency(rawRent)
	if err != nil {
		return offer.Record{}, fmt.Errorf("extract rent %s: %v: %w", link, err, offer.ErrMissingRequiredField)
	}
	rec.Rent = &rent

	if rawRooms, ok := lookup(fields, e.opts.RoomLabels); ok {
		if rooms, ok := normalize.ParseRoomCount(rawRooms); ok {
			rec.Rooms = &rooms
		} else {
			log.Debug("room count not numeric", "value", rawRooms)
		}
	}

	blocks := addressBlocks(doc, e.opts.AddressSelectors)
	if len(blocks) > 0 {
		rec.Address = blocks[0]
	}
	if code, ok := normalize.ExtractPostalCode(blocks...); ok {
		rec.PostalCode = code
	} else {
		log.Info("no postal code on detail page")
	}

	return rec, nil
}

// labelledFields collects table rows and definition list entries in
// document order.
func labelledFields(doc *goquery.Document) []field {
	var fields []field

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Children().Filter("th, td")
		if cells.Length() < 2 {
			return
		}
		fields = append(fields, field{
			label: cleanText(cells.First().Text()),
			value: cleanText(cells.Eq(1).Text()),
		})
	})

	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		fields = append(fields, field{
			label: cleanText(dt.Text()),
			value: cleanText(dd.Text()),
		})
	})

	return fields
}

// lookup returns the value of the first field matching any label, trying
// labels in priority order. Matching is case-insensitive on a prefix so
// "Gesamtmiete inkl. NK:" matches "Gesamtmiete".
func lookup(fields []field, labels []string) (string, bool) {
	for _, label := range labels {
		want := strings.ToLower(strings.TrimSpace(label))
		if want == "" {
			continue
		}
		for _, f := range fields {
			got := strings.ToLower(strings.TrimSuffix(f.label, ":"))
			if strings.HasPrefix(got, want) && f.value != "" {
				return f.value, true
			}
		}
	}
	return "", false
}

// addressBlocks returns the texts matched by the first selector that
// matches anything.
func addressBlocks(doc *goquery.Document, selectors []string) []string {
	for _, sel := range selectors {
		var blocks []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := cleanText(s.Text()); text != "" {
				blocks = append(blocks, text)
			}
		})
		if len(blocks) > 0 {
			return blocks
		}
	}
	return nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
