package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppiankov/offerwatch/internal/match"
	"github.com/ppiankov/offerwatch/internal/offer"
)

const testToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

func withTelegramBase(t *testing.T, url string) {
	t.Helper()
	orig := telegramAPIBaseURL
	telegramAPIBaseURL = url
	t.Cleanup(func() { telegramAPIBaseURL = orig })
}

func TestTelegram_Send(t *testing.T) {
	var got telegramRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()
	withTelegramBase(t, srv.URL)

	tg, err := NewTelegram(testToken, "")
	if err != nil {
		t.Fatalf("new telegram: %v", err)
	}
	if err := tg.Send(context.Background(), "42", "<b>hi</b>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ChatID != "42" || got.Text != "<b>hi</b>" || got.ParseMode != "HTML" {
		t.Errorf("request = %+v", got)
	}
}

func TestTelegram_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	tg, _ := NewTelegram(testToken, srv.URL)
	err := tg.Send(context.Background(), "42", "hi")
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("error = %v, want ErrNotificationFailed", err)
	}
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *SendError", err)
	}
	if se.StatusCode != http.StatusForbidden || se.Destination != "42" {
		t.Errorf("send error = %+v", se)
	}
	if !strings.Contains(err.Error(), "bot was blocked") {
		t.Errorf("error = %q", err)
	}
}

func TestTelegram_TransportErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tg, _ := NewTelegram(testToken, url)
	err := tg.Send(context.Background(), "42", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("token leaked: %q", err)
	}
	if !errors.Is(err, ErrNotificationFailed) {
		t.Errorf("error = %v, want ErrNotificationFailed", err)
	}
}

func TestNewTelegram_RequiresToken(t *testing.T) {
	if _, err := NewTelegram("  ", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestWriter_Send(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Send(context.Background(), "42", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "--> 42") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatMatch(t *testing.T) {
	rent := int64(1002)
	rooms := 2
	rec := offer.Record{
		Link:       "https://www.example.org/objekt/wohnungen/1.2.3",
		Title:      `Helle Wohnung <script>alert(1)</script>& Balkon`,
		Address:    "Musterstraße 12, 22765 Hamburg",
		Rent:       &rent,
		Rooms:      &rooms,
		PostalCode: "22765",
	}

	msg := FormatMatch(rec, offer.Apartment)

	for _, want := range []string{
		"<b>Helle Wohnung",
		"&amp; Balkon",
		"€",
		"Rooms: 2",
		"PLZ: 22765",
		"Musterstraße 12",
		`href="https://www.example.org/objekt/wohnungen/1.2.3"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "<script") {
		t.Errorf("script tag survived:\n%s", msg)
	}
}

func TestFormatMatch_MinimalRecord(t *testing.T) {
	rent := int64(550)
	msg := FormatMatch(offer.Record{Link: "https://www.example.org/objekt/x", Rent: &rent}, offer.Parking)
	if !strings.Contains(msg, "New parking offer") {
		t.Errorf("message = %q", msg)
	}
	if strings.Contains(msg, "Rooms") || strings.Contains(msg, "PLZ") {
		t.Errorf("unknown fields rendered: %q", msg)
	}
}

func TestFormatNoMatch(t *testing.T) {
	rent := int64(900)
	res := match.Evaluate(offer.Record{Link: "https://www.example.org/objekt/1", Rent: &rent}, offer.Criteria{RentUntil: 600})

	msg := FormatNoMatch(res)
	if !strings.Contains(msg, "no match: rent 900 &gt; 600") {
		t.Errorf("message = %q", msg)
	}
}

func TestFormatRent(t *testing.T) {
	got := FormatRent(550)
	if got != "550 €" {
		t.Errorf("FormatRent(550) = %q, want %q", got, "550 €")
	}
}
