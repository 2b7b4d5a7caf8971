package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Color       int           `json:"color"`
	Image       *discordImage `json:"image,omitempty"`
	Fields      []Field       `json:"fields,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []discordEmbed `json:"embeds"`
}

// DiscordWebhook posts messages as a single embed to a Discord webhook.
// Any non-2xx response, 429 included, is a failed send.
type DiscordWebhook struct {
	URL        string
	Username   string
	AvatarURL  string
	HTTPClient *http.Client
}

func (d *DiscordWebhook) client() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

func (d *DiscordWebhook) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		URL:         msg.URL,
		Color:       msg.Color,
		Fields:      msg.Fields,
	}
	if msg.ImageURL != "" {
		embed.Image = &discordImage{URL: msg.ImageURL}
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	payload := discordPayload{Username: d.Username, AvatarURL: d.AvatarURL, Embeds: []discordEmbed{embed}}
	// mentions only ping when they appear in content, not inside embeds
	if strings.Contains(msg.Body, "@everyone") || strings.Contains(msg.Body, "@here") {
		payload.Content = msg.Body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client().Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("discord webhook rate limited (retry-after %q)", resp.Header.Get("Retry-After"))
		}
		return fmt.Errorf("discord webhook: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}
