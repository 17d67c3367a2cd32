package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/offerwatch/internal/redact"
)

const telegramTimeout = 15 * time.Second

// telegramAPIBaseURL is the Bot API root. Tests point it at httptest.
var telegramAPIBaseURL = "https://api.telegram.org"

// Telegram sends HTML messages through the Bot API.
type Telegram struct {
	token    string
	baseURL  string
	client   *http.Client
	redactor *redact.Redactor
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// NewTelegram returns a Telegram notifier. apiBase overrides the Bot API
// root when non-empty.
func NewTelegram(token, apiBase string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if apiBase == "" {
		apiBase = telegramAPIBaseURL
	}
	return &Telegram{
		token:    token,
		baseURL:  strings.TrimRight(apiBase, "/"),
		client:   &http.Client{Timeout: telegramTimeout},
		redactor: redact.New([]string{token}),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(telegramRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return &SendError{Destination: chatID, Cause: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &SendError{Destination: chatID, Cause: t.redactor.Error(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// *url.Error carries the endpoint, token included.
		return &SendError{Destination: chatID, Cause: t.redactor.Error(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &SendError{Destination: chatID, StatusCode: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return &SendError{Destination: chatID, StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !tr.OK {
		desc := tr.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return &SendError{Destination: chatID, StatusCode: resp.StatusCode, Cause: errors.New(t.redactor.String(desc))}
	}
	return nil
}
