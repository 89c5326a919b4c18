package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// WebhookChannel posts notifications to webhook endpoints. The recipient is
// the endpoint URL; an empty recipient falls back to the default URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithWebhookHTTPClient overrides the HTTP client.
func WithWebhookHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel. defaultURL may be empty when
// every recipient is a URL.
func NewWebhookChannel(defaultURL string, opts ...WebhookOption) (*WebhookChannel, error) {
	channel := &WebhookChannel{
		url:    strings.TrimSpace(defaultURL),
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

func (w *WebhookChannel) target(recipient string) (string, error) {
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		return recipient, nil
	}
	if w == nil || w.url == "" {
		return "", ErrEmptyRecipient
	}
	return w.url, nil
}

// SendText posts the content using a DingTalk/WeCom-compatible payload.
// Markup is stripped.
func (w *WebhookChannel) SendText(ctx context.Context, recipient, content string) error {
	url, err := w.target(recipient)
	if err != nil {
		return err
	}
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: plainText(content)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.post(ctx, url, "application/json", body)
}

// SendDocument posts the file as multipart/form-data with a caption field.
func (w *WebhookChannel) SendDocument(ctx context.Context, recipient string, doc Document) error {
	url, err := w.target(recipient)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("caption", plainText(doc.Caption)); err != nil {
		return err
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
	return w.post(ctx, url, mw.FormDataContentType(), buf.Bytes())
}

func (w *WebhookChannel) post(ctx context.Context, url, contentType string, body []byte) error {
	if w == nil || w.client == nil {
		return errors.New("webhook channel: nil client")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

func plainText(content string) string {
	return html.UnescapeString(htmlTag.ReplaceAllString(content, ""))
}
