package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookChannelSendText(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.SendText(context.Background(), "", "<b>Power outage</b> &amp; more"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.MsgType != "text" || got.Text.Content != "Power outage & more" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, _ := NewWebhookChannel("")
	if err := channel.SendText(context.Background(), server.URL, "hi"); err == nil {
		t.Fatal("expected error for 502")
	}
	if err := channel.SendText(context.Background(), "", "hi"); err != ErrEmptyRecipient {
		t.Fatalf("expected empty recipient error, got %v", err)
	}
}

func TestWebhookChannelSendDocument(t *testing.T) {
	var name, caption string
	var data []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		caption = r.FormValue("caption")
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		name = header.Filename
		data, _ = io.ReadAll(file)
	}))
	defer server.Close()

	channel, _ := NewWebhookChannel(server.URL)
	doc := Document{Name: "report.pdf", Data: []byte("%PDF"), Caption: "<i>Daily</i>"}
	if err := channel.SendDocument(context.Background(), "", doc); err != nil {
		t.Fatalf("send document: %v", err)
	}
	if name != "report.pdf" || string(data) != "%PDF" || caption != "Daily" {
		t.Fatalf("unexpected upload name=%q data=%q caption=%q", name, data, caption)
	}
}

func TestTelegramChannelSendText(t *testing.T) {
	var path string
	var msg telegramMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&msg)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	channel, err := NewTelegramChannel("123:abc", WithTelegramBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.SendText(context.Background(), "42", "<b>hi</b>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", path)
	}
	if msg.ChatID != "42" || msg.Text != "<b>hi</b>" || msg.ParseMode != "HTML" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestTelegramChannelAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer server.Close()

	channel, _ := NewTelegramChannel("123:abc", WithTelegramBaseURL(server.URL))
	err := channel.SendText(context.Background(), "42", "hi")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestTelegramChannelHidesTokenOnTransportError(t *testing.T) {
	channel, _ := NewTelegramChannel("secret-token", WithTelegramBaseURL("http://127.0.0.1:1"))
	err := channel.SendText(context.Background(), "42", "hi")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestTelegramChannelSendDocument(t *testing.T) {
	var chatID, parseMode, filename string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		chatID = r.FormValue("chat_id")
		parseMode = r.FormValue("parse_mode")
		if _, header, err := r.FormFile("document"); err == nil {
			filename = header.Filename
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	channel, _ := NewTelegramChannel("t", WithTelegramBaseURL(server.URL))
	doc := Document{Name: "hourly.xlsx", Data: []byte("x"), Caption: "<b>Hourly</b>"}
	if err := channel.SendDocument(context.Background(), "42", doc); err != nil {
		t.Fatalf("send document: %v", err)
	}
	if chatID != "42" || parseMode != "HTML" || filename != "hourly.xlsx" {
		t.Fatalf("unexpected upload chat=%q mode=%q file=%q", chatID, parseMode, filename)
	}
	if _, err := NewTelegramChannel(" "); err == nil {
		t.Fatal("expected error for empty token")
	}
}
