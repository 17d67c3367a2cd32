package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ppiankov/offerwatch/internal/match"
	"github.com/ppiankov/offerwatch/internal/offer"
)

var (
	// textPolicy strips all markup from page-derived text and escapes it.
	textPolicy = bluemonday.StrictPolicy()

	// messagePolicy allows the subset of HTML the Bot API accepts.
	messagePolicy = newMessagePolicy()
)

func newMessagePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "code")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}

// FormatRent renders an amount with German thousands separators, e.g. "1.002 €".
func FormatRent(rent int64) string {
	return humanize.FormatInteger("#.###,", int(rent)) + " €"
}

// FormatMatch renders the message for a matched offer.
func FormatMatch(rec offer.Record, cat offer.Category) string {
	var b strings.Builder

	title := textPolicy.Sanitize(rec.Title)
	if title == "" {
		title = "New " + string(cat) + " offer"
	}
	fmt.Fprintf(&b, "<b>%s</b>\n", title)

	var facts []string
	if rec.Rent != nil {
		facts = append(facts, "Rent: "+FormatRent(*rec.Rent))
	}
	if rec.Rooms != nil {
		facts = append(facts, fmt.Sprintf("Rooms: %d", *rec.Rooms))
	}
	if rec.HasPostalCode() {
		facts = append(facts, "PLZ: "+rec.PostalCode)
	}
	if len(facts) > 0 {
		b.WriteString(strings.Join(facts, " · ") + "\n")
	}
	if addr := textPolicy.Sanitize(rec.Address); addr != "" {
		b.WriteString(addr + "\n")
	}
	fmt.Fprintf(&b, `<a href="%s">%s</a>`, rec.Link, textPolicy.Sanitize(string(rec.Link)))

	return messagePolicy.Sanitize(b.String())
}

// FormatNoMatch renders the debug message naming the failed predicate.
func FormatNoMatch(res match.Result) string {
	reason := "no match"
	if failed, ok := res.Failed(); ok {
		reason = "no match: " + failed.Reason
	}
	link := string(res.Record.Link)
	msg := fmt.Sprintf("<i>%s</i>\n<a href=\"%s\">%s</a>", textPolicy.Sanitize(reason), link, textPolicy.Sanitize(link))
	return messagePolicy.Sanitize(msg)
}

// FormatSkipped renders the debug message for an offer whose detail page
// could not be used.
func FormatSkipped(link offer.Link, err error) string {
	msg := fmt.Sprintf("<i>skipped: %s</i>\n<a href=\"%s\">%s</a>",
		textPolicy.Sanitize(err.Error()), link, textPolicy.Sanitize(string(link)))
	return messagePolicy.Sanitize(msg)
}
