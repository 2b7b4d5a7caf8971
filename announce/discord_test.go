package announce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDiscordWebhook_Send(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &DiscordWebhook{URL: srv.URL, Username: "live-herald", HTTPClient: srv.Client()}
	msg := Message{
		Identity:  "alice",
		Title:     "Alice is LIVE!",
		Body:      "@everyone alice is live!",
		URL:       "https://twitch.tv/alice",
		ImageURL:  "https://cdn/x.jpg",
		Color:     LiveColor,
		Fields:    []Field{{Name: "Viewers", Value: "3", Inline: true}},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Username != "live-herald" || got.Content != msg.Body {
		t.Errorf("payload header fields = %+v", got)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != msg.Title || e.Description != msg.Body || e.URL != msg.URL || e.Color != LiveColor {
		t.Errorf("embed = %+v", e)
	}
	if e.Image == nil || e.Image.URL != msg.ImageURL {
		t.Errorf("image = %+v", e.Image)
	}
	if e.Timestamp != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamp = %q", e.Timestamp)
	}
}

func TestDiscordWebhook_NoMentionNoContent(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	d := &DiscordWebhook{URL: srv.URL, HTTPClient: srv.Client()}
	if err := d.Send(context.Background(), Message{Title: "t", Body: "plain"}); err != nil {
		t.Fatal(err)
	}
	if got.Content != "" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestDiscordWebhook_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		want    string
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "2"}, "rate limited"},
		{"bad request", http.StatusBadRequest, nil, "400"},
		{"server error", http.StatusBadGateway, nil, "502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()
			d := &DiscordWebhook{URL: srv.URL, HTTPClient: srv.Client()}
			err := d.Send(context.Background(), Message{Title: "t"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDiscordWebhook_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	d := &DiscordWebhook{URL: url}
	if err := d.Send(context.Background(), Message{Title: "t"}); err == nil {
		t.Error("expected error for closed server")
	}
}
