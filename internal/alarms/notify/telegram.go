package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	neturl "net/url"
	"strings"
	"time"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	telegramParseMode      = "HTML"
)

// TelegramChannel delivers through the Telegram Bot API. Recipients are chat ids.
type TelegramChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

// TelegramOption configures the Telegram channel.
type TelegramOption func(*TelegramChannel)

// WithTelegramBaseURL points the channel at another Bot API server.
func WithTelegramBaseURL(baseURL string) TelegramOption {
	return func(ch *TelegramChannel) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			ch.baseURL = baseURL
		}
	}
}

// WithTelegramHTTPClient overrides the HTTP client.
func WithTelegramHTTPClient(client *http.Client) TelegramOption {
	return func(ch *TelegramChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewTelegramChannel constructs a Telegram channel.
func NewTelegramChannel(token string, opts ...TelegramOption) (*TelegramChannel, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram channel: empty token")
	}
	ch := &TelegramChannel{
		baseURL: defaultTelegramBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendText calls sendMessage with HTML parse mode.
func (t *TelegramChannel) SendText(ctx context.Context, recipient, content string) error {
	if strings.TrimSpace(recipient) == "" {
		return ErrEmptyRecipient
	}
	body, err := json.Marshal(telegramMessage{ChatID: recipient, Text: content, ParseMode: telegramParseMode})
	if err != nil {
		return err
	}
	return t.call(ctx, "sendMessage", "application/json", body)
}

// SendDocument calls sendDocument with a multipart upload.
func (t *TelegramChannel) SendDocument(ctx context.Context, recipient string, doc Document) error {
	if strings.TrimSpace(recipient) == "" {
		return ErrEmptyRecipient
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"chat_id": recipient}
	if doc.Caption != "" {
		fields["caption"] = doc.Caption
		fields["parse_mode"] = telegramParseMode
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", doc.Name)
	if err != nil {
		return err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return t.call(ctx, "sendDocument", mw.FormDataContentType(), buf.Bytes())
}

func (t *TelegramChannel) call(ctx context.Context, method, contentType string, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("telegram %s: %w", method, urlErr.Err)
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var decoded telegramResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= 300 || !decoded.OK {
		if decoded.Description != "" {
			return fmt.Errorf("telegram %s: %d %s", method, resp.StatusCode, decoded.Description)
		}
		return fmt.Errorf("telegram %s: non-2xx response %d", method, resp.StatusCode)
	}
	return nil
}
