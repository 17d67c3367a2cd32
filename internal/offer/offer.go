// Package offer holds the domain types shared by the scanning, extraction,
// matching, and delivery stages.
package offer

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Link is the absolute URL of an offer's detail page. It is the natural key
// for deduplication.
type Link string

// Category is the heuristic kind of an offer, inferred from its link.
type Category string

const (
	Apartment     Category = "apartment"
	Office        Category = "office"
	Parking       Category = "parking"
	Uncategorized Category = "uncategorized"
)

// Categories lists every category in classification order.
var Categories = []Category{Apartment, Office, Parking, Uncategorized}

// ParseCategory converts a config value into a Category. An empty value
// means Apartment.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "apartment", "apartments", "wohnung", "wohnungen":
		return Apartment, nil
	case "office", "offices", "gewerbe":
		return Office, nil
	case "parking", "stellplatz", "stellplaetze":
		return Parking, nil
	case "uncategorized":
		return Uncategorized, nil
	default:
		return "", fmt.Errorf("unknown category %q (want apartment, office, parking, or uncategorized)", s)
	}
}

var (
	// ErrMissingRequiredField means the detail page lacks a usable total rent.
	ErrMissingRequiredField = errors.New("missing required field")
)

// Record is the structured view of one detail page. Optional fields are nil
// (or empty for PostalCode) when the page did not provide them.
type Record struct {
	Link       Link
	Title      string
	Address    string
	Rent       *int64
	Rooms      *int
	PostalCode string
}

// HasPostalCode reports whether a postal code was extracted.
func (r Record) HasPostalCode() bool {
	return r.PostalCode != ""
}

// Criteria is one subscriber's filter.
type Criteria struct {
	Category    Category
	RentUntil   float64
	MinRooms    *int
	PostalCodes []string
}

// AllowsPostalCode reports whether code passes the whitelist. An empty
// whitelist allows everything, including an unknown code.
func (c Criteria) AllowsPostalCode(code string) bool {
	if len(c.PostalCodes) == 0 {
		return true
	}
	if code == "" {
		return false
	}
	return slices.Contains(c.PostalCodes, code)
}

// Subscriber is one notification destination and its criteria.
type Subscriber struct {
	ID       string
	Criteria Criteria
	Debug    bool
}

// Set is an unordered collection of links.
type Set map[Link]struct{}

// NewSet builds a Set from links.
func NewSet(links ...Link) Set {
	s := make(Set, len(links))
	for _, l := range links {
		s[l] = struct{}{}
	}
	return s
}

// Add inserts l. Adding an existing link is a no-op.
func (s Set) Add(l Link) {
	s[l] = struct{}{}
}

// Has reports membership.
func (s Set) Has(l Link) bool {
	_, ok := s[l]
	return ok
}

// Sorted returns the links in lexical order so that cycles are deterministic.
func (s Set) Sorted() []Link {
	out := make([]Link, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// Listing is the scanner's output: candidate links grouped by category.
type Listing map[Category]Set

// All returns the union of every category's links.
func (l Listing) All() Set {
	all := make(Set)
	for _, set := range l {
		for link := range set {
			all.Add(link)
		}
	}
	return all
}

// CategoryOf returns the first category (in Categories order) containing
// link, or Uncategorized.
func (l Listing) CategoryOf(link Link) Category {
	for _, c := range Categories {
		if l[c].Has(link) {
			return c
		}
	}
	return Uncategorized
}
