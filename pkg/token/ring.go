// Package token manages the pool of INEGI API credentials.
//
// The DENUE endpoints authorize each call with a token embedded in the
// request path. A single token gets rate limited quickly under parallel
// use, so callers hold several tokens and rotate through them; every retry
// draws a fresh token so that an expired or throttled credential does not
// stall a lookup.
package token

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "denue_token_rotations_total",
	Help: "Total number of credential draws from the rotation ring",
})

// ErrNoTokens is returned when a ring is constructed without any usable credential.
var ErrNoTokens = errors.New("no API tokens configured")

// Ring holds an ordered set of credentials and a rotation cursor.
// The cursor is the only piece of shared mutable state in the whole
// program; Next is safe for concurrent use by any number of workers.
type Ring struct {
	mu     sync.Mutex
	tokens []string
	cursor int
}

// NewRing creates a rotation ring from the given credentials.
// Blank entries are dropped. Returns ErrNoTokens if nothing usable remains.
func NewRing(tokens []string) (*Ring, error) {
	usable := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoTokens
	}

	// Start just before the first token so the first Next returns index 0.
	return &Ring{tokens: usable, cursor: len(usable) - 1}, nil
}

// Next advances the cursor modulo the ring length and returns the
// credential at the new position together with its index. The index is
// meant for logging and metrics only, never for addressing the ring.
func (r *Ring) Next() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursor = (r.cursor + 1) % len(r.tokens)
	tokenRotationsTotal.Inc()
	return r.tokens[r.cursor], r.cursor
}

// Len returns the number of credentials in the ring.
func (r *Ring) Len() int {
	return len(r.tokens)
}
