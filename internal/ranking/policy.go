// Package ranking scores candidate releases against a wanted audiobook and
// produces a deterministic ordering. Rank is a pure function: no I/O, no
// clock, no shared state, so identical inputs always yield identical output.
package ranking

import "github.com/readmeabook/readmeabook/internal/domain"

// Target is the wanted audiobook candidates are scored against.
type Target struct {
	Title  string
	Author string
	// RuntimeMinutes drives the size plausibility check; zero disables it.
	RuntimeMinutes int
}

// Policy carries the externally supplied tuning for one ranking run.
// FlagBonuses is an ordered slice, not a map, so the recorded modifiers
// come out in a stable order run after run.
type Policy struct {
	// MinMatchRatio is the similarity floor in [0,1]. Candidates below it
	// are excluded outright: a weak title match must never win on size or
	// seeders alone.
	MinMatchRatio float64

	FlagBonuses []domain.FlagRule

	// UsenetSeederScore is the fixed neutral contribution for usenet
	// candidates, which have no seeder concept.
	UsenetSeederScore float64

	// MinBytesPerMinute/MaxBytesPerMinute bound the plausible size band
	// for a known runtime. The defaults cover roughly 27-200 kbps audio.
	MinBytesPerMinute int64
	MaxBytesPerMinute int64
}

// DefaultPolicy returns the documented tuning defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinMatchRatio:     0.5,
		UsenetSeederScore: 8,
		MinBytesPerMinute: 200 << 10,  // 200 KiB
		MaxBytesPerMinute: 1536 << 10, // 1.5 MiB
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MinMatchRatio <= 0 {
		p.MinMatchRatio = def.MinMatchRatio
	}
	if p.UsenetSeederScore == 0 {
		p.UsenetSeederScore = def.UsenetSeederScore
	}
	if p.MinBytesPerMinute <= 0 {
		p.MinBytesPerMinute = def.MinBytesPerMinute
	}
	if p.MaxBytesPerMinute <= p.MinBytesPerMinute {
		p.MaxBytesPerMinute = def.MaxBytesPerMinute
	}
	return p
}
