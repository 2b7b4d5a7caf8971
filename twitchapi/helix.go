// Package twitchapi contains minimal helpers to query Twitch Helix for live
// streams using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	helixStreamsURL = "https://api.twitch.tv/helix/streams"
	// MaxLoginsPerRequest is the Helix cap on user_login parameters.
	MaxLoginsPerRequest = 100
	// DefaultTimeout bounds each GetLiveStreams call.
	DefaultTimeout = 15 * time.Second
)

// Stream is one entry of the Helix streams response.
type Stream struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	GameName     string `json:"game_name"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ViewerCount  int    `json:"viewer_count"`
	StartedAt    string `json:"started_at"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// HelixClient provides the streams lookup used by the poller.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// Timeout bounds a whole GetLiveStreams call; zero means DefaultTimeout.
	Timeout time.Duration

	now func() time.Time
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) clock() time.Time {
	if hc.now != nil {
		return hc.now()
	}
	return time.Now()
}

// GetLiveStreams returns the live streams among logins. Logins are
// case-folded and deduplicated, then queried in batches of
// MaxLoginsPerRequest. Any failed batch fails the whole call; offline logins
// are simply absent from the result.
func (hc *HelixClient) GetLiveStreams(ctx context.Context, logins []string) ([]Stream, error) {
	batches := batchLogins(logins, MaxLoginsPerRequest)
	if len(batches) == 0 {
		return nil, nil
	}
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []Stream
	for _, b := range batches {
		streams, err := hc.fetchBatch(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, streams...)
	}
	return out, nil
}

func batchLogins(logins []string, size int) [][]string {
	seen := make(map[string]bool, len(logins))
	uniq := make([]string, 0, len(logins))
	for _, l := range logins {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		uniq = append(uniq, l)
	}
	var out [][]string
	for len(uniq) > 0 {
		n := min(size, len(uniq))
		out = append(out, uniq[:n])
		uniq = uniq[n:]
	}
	return out
}

func (hc *HelixClient) fetchBatch(ctx context.Context, logins []string) ([]Stream, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := hc.doStreams(ctx, logins, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		slog.Info("helix rejected app token, re-acquiring", slog.String("component", "helix"))
		hc.AppTokenSource.Invalidate()
		tok, err = hc.AppTokenSource.Get(ctx)
		if err != nil {
			if errors.Is(err, ErrUpstreamUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: re-acquire after 401: %v", ErrAuthFailed, err)
		}
		resp, err = hc.doStreams(ctx, logins, tok)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return nil, fmt.Errorf("%w: helix returned 401 after token refresh", ErrAuthFailed)
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header, hc.clock())}
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: helix streams: %s", ErrAuthFailed, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: helix streams: %s: %s", ErrUpstreamUnavailable, resp.Status, strings.TrimSpace(string(b)))
	}

	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode helix streams: %v", ErrUpstreamUnavailable, err)
	}
	return body.Data, nil
}

func (hc *HelixClient) doStreams(ctx context.Context, logins []string, tok string) (*http.Response, error) {
	q := url.Values{}
	for _, l := range logins {
		q.Add("user_login", l)
	}
	q.Set("first", strconv.Itoa(MaxLoginsPerRequest))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixStreamsURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
