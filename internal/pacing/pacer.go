package pacing

import (
	"math"
	"time"
)

// PacerConfig holds the tuning constants for an AdaptivePacer. The zero
// value is normalized to the documented defaults by NewAdaptivePacer.
type PacerConfig struct {
	// BaseDelayMin/Max bound the randomized delay between clean pages.
	BaseDelayMin time.Duration
	BaseDelayMax time.Duration
	// CooldownMin/Max bound the extended delay once the breaker trips.
	CooldownMin time.Duration
	CooldownMax time.Duration
	// BreakerThreshold is the consecutive-retry-page count that trips the
	// breaker.
	BreakerThreshold int
}

// DefaultPacerConfig returns the documented defaults: 2-4s between pages,
// breaker at 3 consecutive retry pages, 45-60s cooldown.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		BaseDelayMin:     2000 * time.Millisecond,
		BaseDelayMax:     4000 * time.Millisecond,
		CooldownMin:      45 * time.Second,
		CooldownMax:      60 * time.Second,
		BreakerThreshold: 3,
	}
}

// PageResult is what a scrape session reports after fetching one page.
type PageResult struct {
	// RetriesUsed is how many times the page fetch had to be retried.
	RetriesUsed int
	// Encountered503 is set when any attempt for the page was answered
	// with 503, the scraped source's way of asking for a slowdown.
	Encountered503 bool
}

// retry reports whether the page counts against the breaker.
func (r PageResult) retry() bool {
	return r.RetriesUsed > 0 || r.Encountered503
}

// AdaptivePacer decides how long a scrape session should wait before its
// next page. Retry pages scale the baseline delay up; enough of them in a
// row trip a circuit breaker that imposes a long cooldown; clean pages wind
// the counter back down one step at a time so recovery never oscillates.
//
// One instance serves exactly one scrape session. Concurrent sessions
// against different targets each need their own pacer, since breaker state
// is target-scoped. The pacer never sleeps; it only returns the delay the
// caller must honor.
type AdaptivePacer struct {
	cfg                   PacerConfig
	consecutiveRetryPages int
}

func NewAdaptivePacer(cfg PacerConfig) *AdaptivePacer {
	def := DefaultPacerConfig()
	if cfg.BaseDelayMin <= 0 {
		cfg.BaseDelayMin = def.BaseDelayMin
	}
	if cfg.BaseDelayMax <= cfg.BaseDelayMin {
		cfg.BaseDelayMax = cfg.BaseDelayMin + (def.BaseDelayMax - def.BaseDelayMin)
	}
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = def.CooldownMin
	}
	if cfg.CooldownMax <= cfg.CooldownMin {
		cfg.CooldownMax = cfg.CooldownMin + (def.CooldownMax - def.CooldownMin)
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	return &AdaptivePacer{cfg: cfg}
}

// ReportPageResult records one fetched page and returns the delay to honor
// before the next fetch.
//
// A retry page increments consecutiveRetryPages (capped at the breaker
// threshold); a clean page decrements it. While the counter sits at the
// threshold the breaker is tripped and the returned delay is a cooldown in
// [CooldownMin, CooldownMax); otherwise it is a random baseline in
// [BaseDelayMin, BaseDelayMax) scaled by 1.5 per outstanding retry page.
func (p *AdaptivePacer) ReportPageResult(r PageResult) time.Duration {
	if r.retry() {
		if p.consecutiveRetryPages < p.cfg.BreakerThreshold {
			p.consecutiveRetryPages++
		}
	} else if p.consecutiveRetryPages > 0 {
		p.consecutiveRetryPages--
	}

	if p.Tripped() {
		return randBetween(p.cfg.CooldownMin, p.cfg.CooldownMax)
	}

	base := randBetween(p.cfg.BaseDelayMin, p.cfg.BaseDelayMax)
	scale := math.Pow(1.5, float64(p.consecutiveRetryPages))
	return time.Duration(float64(base) * scale)
}

// Reset zeroes the retry counter for a fresh session.
func (p *AdaptivePacer) Reset() {
	p.consecutiveRetryPages = 0
}

// Tripped reports whether the circuit breaker is currently open.
func (p *AdaptivePacer) Tripped() bool {
	return p.consecutiveRetryPages >= p.cfg.BreakerThreshold
}

// ConsecutiveRetryPages exposes the counter for logging and metrics.
func (p *AdaptivePacer) ConsecutiveRetryPages() int {
	return p.consecutiveRetryPages
}
