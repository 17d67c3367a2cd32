// Package match evaluates offer records against subscriber criteria.
package match

import (
	"fmt"
	"strings"

	"github.com/ppiankov/offerwatch/internal/offer"
)

const (
	PredicateRent       = "rent"
	PredicateRooms      = "rooms"
	PredicatePostalCode = "postal_code"
)

// Check records the outcome of a single predicate.
type Check struct {
	Predicate string
	Passed    bool
	Reason    string // "rent 550 <= 600" or "rooms unknown"
}

// Result is a record's verdict for one set of criteria.
type Result struct {
	Record      offer.Record
	Matched     bool
	Explanation []Check
}

// Failed returns the first failing check, if any.
func (r Result) Failed() (Check, bool) {
	for _, c := range r.Explanation {
		if !c.Passed {
			return c, true
		}
	}
	return Check{}, false
}

type predicate func(offer.Record, offer.Criteria) Check

// Evaluation order: cheap and most selective first.
var predicates = []predicate{checkRent, checkRooms, checkPostalCode}

// Matches reports whether rec satisfies every predicate of c. Unknown values
// fail closed.
func Matches(rec offer.Record, c offer.Criteria) bool {
	return Evaluate(rec, c).Matched
}

// Evaluate runs the predicates in order and stops at the first failure.
func Evaluate(rec offer.Record, c offer.Criteria) Result {
	res := Result{Record: rec, Matched: true}
	for _, p := range predicates {
		check := p(rec, c)
		res.Explanation = append(res.Explanation, check)
		if !check.Passed {
			res.Matched = false
			return res
		}
	}
	return res
}

// Explain runs every predicate without short-circuiting, for display.
func Explain(rec offer.Record, c offer.Criteria) Result {
	res := Result{Record: rec, Matched: true}
	for _, p := range predicates {
		check := p(rec, c)
		res.Explanation = append(res.Explanation, check)
		if !check.Passed {
			res.Matched = false
		}
	}
	return res
}

func checkRent(rec offer.Record, c offer.Criteria) Check {
	limit := formatLimit(c.RentUntil)
	if rec.Rent == nil {
		return Check{Predicate: PredicateRent, Reason: "rent unknown"}
	}
	if float64(*rec.Rent) > c.RentUntil {
		return Check{Predicate: PredicateRent, Reason: fmt.Sprintf("rent %d > %s", *rec.Rent, limit)}
	}
	return Check{Predicate: PredicateRent, Passed: true, Reason: fmt.Sprintf("rent %d <= %s", *rec.Rent, limit)}
}

func checkRooms(rec offer.Record, c offer.Criteria) Check {
	if c.MinRooms == nil {
		return Check{Predicate: PredicateRooms, Passed: true, Reason: "rooms unrestricted"}
	}
	if rec.Rooms == nil {
		return Check{Predicate: PredicateRooms, Reason: "rooms unknown"}
	}
	if *rec.Rooms < *c.MinRooms {
		return Check{Predicate: PredicateRooms, Reason: fmt.Sprintf("rooms %d < %d", *rec.Rooms, *c.MinRooms)}
	}
	return Check{Predicate: PredicateRooms, Passed: true, Reason: fmt.Sprintf("rooms %d >= %d", *rec.Rooms, *c.MinRooms)}
}

func checkPostalCode(rec offer.Record, c offer.Criteria) Check {
	if len(c.PostalCodes) == 0 {
		return Check{Predicate: PredicatePostalCode, Passed: true, Reason: "postal code unrestricted"}
	}
	if !rec.HasPostalCode() {
		return Check{Predicate: PredicatePostalCode, Reason: "postal code unknown"}
	}
	if !c.AllowsPostalCode(rec.PostalCode) {
		return Check{
			Predicate: PredicatePostalCode,
			Reason:    fmt.Sprintf("postal code %s not in [%s]", rec.PostalCode, strings.Join(c.PostalCodes, ", ")),
		}
	}
	return Check{Predicate: PredicatePostalCode, Passed: true, Reason: fmt.Sprintf("postal code %s allowed", rec.PostalCode)}
}

func formatLimit(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
