// Package testutil provides testing utilities for the DENUE census client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockDENUE is a configurable mock Cuantificar server for testing. It
// understands the /{sector}/{municipality}/{stratum}/{token} path shape,
// serves scripted counts per combination, and can inject failures.
type MockDENUE struct {
	server *httptest.Server

	mu            sync.Mutex
	counts        map[string]int
	failuresLeft  map[string]int
	failureStatus int

	requestCount int
	tokensSeen   []string
}

// NewMockDENUE creates a mock server. Unknown combinations answer with an
// empty envelope (a legitimate zero result).
func NewMockDENUE() *MockDENUE {
	mock := &MockDENUE{
		counts:        make(map[string]int),
		failuresLeft:  make(map[string]int),
		failureStatus: http.StatusInternalServerError,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL, usable as a client base URL.
func (m *MockDENUE) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDENUE) Close() {
	m.server.Close()
}

func comboKey(sector, municipality, stratum string) string {
	return sector + "/" + municipality + "/" + stratum
}

// SetCount scripts the count returned for one combination.
func (m *MockDENUE) SetCount(sector, municipality string, stratum, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[comboKey(sector, municipality, fmt.Sprint(stratum))] = count
}

// FailTimes makes the next n requests for a combination fail with the
// configured failure status before the scripted count takes over.
func (m *MockDENUE) FailTimes(sector, municipality string, stratum, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresLeft[comboKey(sector, municipality, fmt.Sprint(stratum))] = n
}

// SetFailureStatus changes the status code used for injected failures.
func (m *MockDENUE) SetFailureStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureStatus = status
}

// RequestCount returns the number of requests the server has received.
func (m *MockDENUE) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// TokensSeen returns the token path segments in request order.
func (m *MockDENUE) TokensSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokensSeen...)
}

// Reset clears all tracking counters, keeping scripted counts.
func (m *MockDENUE) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.tokensSeen = nil
}

func (m *MockDENUE) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	sector, municipality, stratum, token := parts[0], parts[1], parts[2], parts[3]
	key := comboKey(sector, municipality, stratum)

	m.mu.Lock()
	m.requestCount++
	m.tokensSeen = append(m.tokensSeen, token)

	if left := m.failuresLeft[key]; left > 0 {
		m.failuresLeft[key] = left - 1
		status := m.failureStatus
		m.mu.Unlock()
		w.WriteHeader(status)
		return
	}

	count, known := m.counts[key]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if !known {
		w.Write([]byte(`[]`))
		return
	}
	fmt.Fprintf(w, `[{"AE":%q,"Nombre":"mock","Total":"%d"}]`, sector, count)
}
