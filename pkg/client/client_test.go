package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mxstats/denue-census/pkg/token"
)

func newTestRing(t *testing.T, tokens ...string) *token.Ring {
	t.Helper()
	ring, err := token.NewRing(tokens)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	return ring
}

// recordingServer captures the token path segment of every request and
// serves scripted responses in order, repeating the last one.
type recordingServer struct {
	mu        sync.Mutex
	tokens    []string
	responses []func(w http.ResponseWriter)
	server    *httptest.Server
}

func newRecordingServer(responses ...func(w http.ResponseWriter)) *recordingServer {
	rs := &recordingServer{responses: responses}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		rs.tokens = append(rs.tokens, parts[len(parts)-1])
		n := len(rs.tokens) - 1
		if n >= len(rs.responses) {
			n = len(rs.responses) - 1
		}
		respond := rs.responses[n]
		rs.mu.Unlock()

		respond(w)
	}))
	return rs
}

func (rs *recordingServer) Close() { rs.server.Close() }

func (rs *recordingServer) RequestCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.tokens)
}

func (rs *recordingServer) Tokens() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.tokens...)
}

func ok(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
	}
}

func newTestClient(t *testing.T, baseURL string, ring *token.Ring, maxRetries int) *Client {
	t.Helper()
	cfg := DefaultConfig(ring)
	cfg.BaseURL = baseURL
	cfg.MaxRetries = maxRetries
	cfg.Timeout = 5 * time.Second

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	ring := newTestRing(t, "t1")

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig(ring),
		},
		{
			name: "nil token ring",
			config: Config{
				BaseURL: DefaultBaseURL,
			},
			expectError: true,
		},
		{
			name: "empty base URL",
			config: Config{
				Tokens: ring,
			},
			expectError: true,
		},
		{
			name: "negative max retries",
			config: Config{
				BaseURL:    DefaultBaseURL,
				Tokens:     ring,
				MaxRetries: -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if c == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestCount_Success(t *testing.T) {
	srv := newRecordingServer(ok(`[{"AE":"46","Nombre":"Comercio","Total":"5"},{"AE":"46","Total":7}]`))
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "tok1"), 3)

	count, err := c.Count(context.Background(), "09002", "46", 3)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 12 {
		t.Errorf("Count = %d, want 12", count)
	}
	if srv.RequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", srv.RequestCount())
	}
}

func TestCount_InvalidParams(t *testing.T) {
	srv := newRecordingServer(ok(`[]`))
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "tok1"), 3)

	tests := []struct {
		name         string
		municipality string
		sector       string
		stratum      int
	}{
		{"short municipality", "9002", "46", 1},
		{"bad sector", "09002", "4", 1},
		{"stratum too high", "09002", "46", 8},
		{"stratum zero", "09002", "46", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Count(context.Background(), tt.municipality, tt.sector, tt.stratum)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error = %v, want ErrInvalidQuery", err)
			}
		})
	}

	// Parameter validation must reject before any network activity.
	if srv.RequestCount() != 0 {
		t.Errorf("Request count = %d, want 0", srv.RequestCount())
	}
}

func TestCount_RetryRotatesCredentials(t *testing.T) {
	// Fail exactly MaxRetries times, then succeed on the final attempt.
	srv := newRecordingServer(
		status(http.StatusInternalServerError),
		status(http.StatusServiceUnavailable),
		status(http.StatusInternalServerError),
		ok(`[{"AE":"46","Total":"42"}]`),
	)
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "a", "b", "c"), 3)

	count, err := c.Count(context.Background(), "09002", "46", 1)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 42 {
		t.Errorf("Count = %d, want 42", count)
	}

	// Four attempts, each drawing the next credential modulo ring length.
	expected := []string{"a", "b", "c", "a"}
	got := srv.Tokens()
	if len(got) != len(expected) {
		t.Fatalf("Attempts = %d, want %d", len(got), len(expected))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("attempt %d used token %q, want %q", i+1, got[i], expected[i])
		}
	}
}

func TestCount_RetryExhausted(t *testing.T) {
	srv := newRecordingServer(status(http.StatusInternalServerError))
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "a", "b"), 2)

	_, err := c.Count(context.Background(), "09002", "46", 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *FetchError, got %T", err)
	}
	if fe.Municipality != "09002" || fe.Sector != "46" || fe.Stratum != 1 {
		t.Errorf("FetchError combination = %s/%s/%d, want 09002/46/1",
			fe.Municipality, fe.Sector, fe.Stratum)
	}
	if fe.Attempts != 3 {
		t.Errorf("FetchError attempts = %d, want 3", fe.Attempts)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected wrapped *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}

	if srv.RequestCount() != 3 {
		t.Errorf("Request count = %d, want 3", srv.RequestCount())
	}
}

func TestCount_MalformedBodyRetried(t *testing.T) {
	srv := newRecordingServer(
		ok(`{"unexpected":"shape"}`),
		ok(`[{"AE":"46","Total":"9"}]`),
	)
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "a"), 3)

	count, err := c.Count(context.Background(), "09002", "46", 1)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 9 {
		t.Errorf("Count = %d, want 9", count)
	}
	if srv.RequestCount() != 2 {
		t.Errorf("Request count = %d, want 2", srv.RequestCount())
	}
}

func TestCount_AuthErrorRetriedWithFreshToken(t *testing.T) {
	// 4xx responses retry with a rotated credential: a rejected token must
	// not take the whole lookup down while healthy tokens remain.
	srv := newRecordingServer(
		status(http.StatusUnauthorized),
		ok(`[{"AE":"46","Total":"3"}]`),
	)
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "bad", "good"), 2)

	count, err := c.Count(context.Background(), "09002", "46", 1)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	got := srv.Tokens()
	if len(got) != 2 || got[0] != "bad" || got[1] != "good" {
		t.Errorf("Tokens = %v, want [bad good]", got)
	}
}

func TestCount_AggregateAllSector(t *testing.T) {
	var path string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"AE":"0","Total":"100"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestRing(t, "tok"), 0)

	for _, sector := range []string{"", "0"} {
		count, err := c.Count(context.Background(), "09002", sector, 2)
		if err != nil {
			t.Fatalf("Count(sector=%q) failed: %v", sector, err)
		}
		if count != 100 {
			t.Errorf("Count = %d, want 100", count)
		}

		mu.Lock()
		if !strings.HasPrefix(path, "/0/09002/2/") {
			t.Errorf("path = %q, want prefix /0/09002/2/", path)
		}
		mu.Unlock()
	}
}

func TestCount_BackoffWaits(t *testing.T) {
	srv := newRecordingServer(
		status(http.StatusInternalServerError),
		ok(`[{"AE":"46","Total":"1"}]`),
	)
	defer srv.Close()

	ring := newTestRing(t, "a")
	cfg := DefaultConfig(ring)
	cfg.BaseURL = srv.server.URL
	cfg.MaxRetries = 1
	cfg.RetryBackoff = 150 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	if _, err := c.Count(context.Background(), "09002", "46", 1); err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected fixed backoff before retry, elapsed %v", elapsed)
	}
}

func TestCount_BackoffRespectsContext(t *testing.T) {
	srv := newRecordingServer(status(http.StatusInternalServerError))
	defer srv.Close()

	ring := newTestRing(t, "a")
	cfg := DefaultConfig(ring)
	cfg.BaseURL = srv.server.URL
	cfg.MaxRetries = 5
	cfg.RetryBackoff = 10 * time.Second

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Count(ctx, "09002", "46", 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Count did not honor context cancellation during backoff")
	}
}

func TestSectors(t *testing.T) {
	body := `[
		{"AE":"46","Total":"10"},
		{"AE":"11","Total":"20"},
		{"AE":"46","Total":"5"},
		{"AE":"461","Total":"1"},
		{"AE":"7","Total":"2"}
	]`
	srv := newRecordingServer(ok(body))
	defer srv.Close()

	c := newTestClient(t, srv.server.URL, newTestRing(t, "tok"), 0)

	sectors, err := c.Sectors(context.Background())
	if err != nil {
		t.Fatalf("Sectors failed: %v", err)
	}

	expected := []string{"11", "46"}
	if len(sectors) != len(expected) {
		t.Fatalf("Sectors = %v, want %v", sectors, expected)
	}
	for i := range expected {
		if sectors[i] != expected[i] {
			t.Errorf("Sectors = %v, want %v", sectors, expected)
			break
		}
	}
}
