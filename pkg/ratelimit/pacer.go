// Package ratelimit provides client-side request pacing for the DENUE API.
//
// INEGI publishes no machine-readable quota headers, so pacing is a local
// politeness knob rather than a feedback loop: an optional requests-per-
// second ceiling applied before every outbound attempt, shared by all
// workers.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer gates outbound requests to a configured rate. A nil Pacer, or one
// constructed with a non-positive rate, never blocks.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing rps requests per second with the given
// burst. Non-positive rps disables pacing entirely. Burst values below 1
// are clamped to 1 so a configured pacer can always make progress.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		return &Pacer{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the next request may proceed or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Enabled reports whether a rate ceiling is configured.
func (p *Pacer) Enabled() bool {
	return p != nil && p.limiter != nil
}
