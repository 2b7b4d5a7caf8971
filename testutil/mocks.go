package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer serves the two Twitch endpoints the poller uses:
// POST /oauth2/token and GET /helix/streams. Live streams are keyed by login
// and filtered by the request's user_login parameters like the real API.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	live map[string]map[string]any

	TokenRequests  atomic.Int32
	StreamRequests atomic.Int32
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		live:     make(map[string]map[string]any),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	m.MockOAuthTokenResponse("mock-app-token", 3600)
	m.Handlers["/helix/streams"] = m.serveStreams
	return m
}

// SetLive marks login live with the given started_at (the session id).
func (m *MockTwitchServer) SetLive(login, startedAt, title, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[strings.ToLower(login)] = map[string]any{
		"id":            "stream-" + startedAt,
		"user_login":    strings.ToLower(login),
		"user_name":     login,
		"title":         title,
		"game_name":     category,
		"viewer_count":  42,
		"started_at":    startedAt,
		"thumbnail_url": "https://static-cdn.jtvnw.net/previews-ttv/live_user_" + strings.ToLower(login) + "-{width}x{height}.jpg",
		"type":          "live",
	}
}

// SetOffline removes login from the live set.
func (m *MockTwitchServer) SetOffline(login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, strings.ToLower(login))
}

func (m *MockTwitchServer) serveStreams(w http.ResponseWriter, r *http.Request) {
	m.StreamRequests.Add(1)
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || r.Header.Get("Client-Id") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	m.mu.Lock()
	data := []map[string]any{}
	for _, login := range r.URL.Query()["user_login"] {
		if s, ok := m.live[strings.ToLower(login)]; ok {
			data = append(data, s)
		}
	}
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
}

// MockStreamsResponse replaces the streams handler with a fixed payload.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		m.StreamRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": streams}) //nolint:errcheck // test mock response
	}
}

// MockStatus makes the streams endpoint answer with status and headers only.
func (m *MockTwitchServer) MockStatus(status int, headers map[string]string) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		m.StreamRequests.Add(1)
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		m.TokenRequests.Add(1)
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

type rewriteTransport struct {
	next http.RoundTripper
	host string
}

// RewriteTransport sends every request to serverURL, keeping path and query,
// so clients with hard-coded Twitch URLs can talk to a MockTwitchServer.
func RewriteTransport(serverURL string) http.RoundTripper {
	host := strings.TrimPrefix(strings.TrimPrefix(serverURL, "http://"), "https://")
	return &rewriteTransport{next: http.DefaultTransport, host: host}
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	req.Host = t.host
	return t.next.RoundTrip(req)
}
