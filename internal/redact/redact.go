// Package redact scrubs credentials from log lines and error strings.
package redact

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const Placeholder = "[REDACTED]"

// botTokenRe matches Telegram bot tokens ("123456:AA...") wherever they
// appear, including inside https://api.telegram.org/bot<token>/ URLs.
var botTokenRe = regexp.MustCompile(`[0-9]{5,}:[A-Za-z0-9_-]{30,}`)

// Compile compiles extra regex patterns.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Redactor removes known secrets and token-shaped strings from text.
type Redactor struct {
	secrets  []string
	patterns []*regexp.Regexp
}

// New returns a Redactor for the given literal secrets. Empty secrets are
// ignored.
func New(secrets []string, patterns ...*regexp.Regexp) *Redactor {
	r := &Redactor{patterns: append([]*regexp.Regexp{botTokenRe}, patterns...)}
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// String scrubs text.
func (r *Redactor) String(text string) string {
	if r == nil {
		return text
	}
	for _, s := range r.secrets {
		text = strings.ReplaceAll(text, s, Placeholder)
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, Placeholder)
	}
	return text
}

// Error returns err with a scrubbed message. The original error stays
// reachable through errors.Is and errors.As.
func (r *Redactor) Error(err error) error {
	if err == nil {
		return nil
	}
	msg := r.String(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that scrubs string
// and error attribute values.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); s != "" {
			a.Value = slog.StringValue(r.String(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(r.String(err.Error()))
		}
	}
	return a
}
