package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/readmeabook/readmeabook/internal/domain"
)

const (
	// matchWeight scales similarity into the dominant score component.
	matchWeight = 50.0

	formatScoreM4B  = 15.0
	formatScoreM4A  = 12.0
	formatScoreMP3  = 8.0
	formatScoreFLAC = 4.0

	sizeScoreMax = 10.0
	// sampleCutoff marks a release too small to be a real audiobook.
	sampleCutoff = int64(10) << 20

	seederScoreMax       = 15.0
	seederScorePerDouble = 3.0
)

// Rank scores every candidate against the target and returns the survivors
// ordered best first. Candidates whose similarity falls below the policy
// floor are dropped entirely. The sort is stable: candidates with equal
// final scores keep their input order, so callers control tie-breaking by
// the order they pass candidates in.
func Rank(candidates []domain.CandidateRelease, target Target, pol Policy) []domain.ScoredRelease {
	pol = pol.withDefaults()
	matcher := newTargetMatcher(target)

	scored := make([]domain.ScoredRelease, 0, len(candidates))
	for _, c := range candidates {
		sim := matcher.similarity(c.Title)
		if sim < pol.MinMatchRatio {
			continue
		}
		s := domain.ScoredRelease{CandidateRelease: c}
		s.MatchScore = round2(sim * matchWeight)
		s.FormatScore = formatScore(c)
		s.SizeScore = round2(sizeScore(c.SizeBytes, target.RuntimeMinutes, pol))
		s.SeederScore = round2(seederScore(c, pol))
		s.BonusPoints, s.BonusModifiers = flagBonus(c.Flags, pol.FlagBonuses)
		s.FinalScore = round2(s.MatchScore + s.FormatScore + s.SizeScore + s.SeederScore + s.BonusPoints)
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	return scored
}

// formatScore prefers chaptered single-file audio formats. Unknown formats
// score zero rather than being excluded.
func formatScore(c domain.CandidateRelease) float64 {
	f := c.Format
	if f == domain.FormatUnknown {
		f = FormatFromTitle(c.Title)
	}
	switch f {
	case domain.FormatM4B:
		return formatScoreM4B
	case domain.FormatM4A:
		return formatScoreM4A
	case domain.FormatMP3:
		return formatScoreMP3
	case domain.FormatFLAC:
		return formatScoreFLAC
	default:
		return 0
	}
}

// FormatFromTitle sniffs the audio format out of a release title. Checks run
// in preference order so a "M4B/MP3" bundle counts as m4b.
func FormatFromTitle(title string) domain.AudioFormat {
	t := strings.ToLower(title)
	for _, probe := range []struct {
		needle string
		format domain.AudioFormat
	}{
		{"m4b", domain.FormatM4B},
		{"m4a", domain.FormatM4A},
		{"flac", domain.FormatFLAC},
		{"mp3", domain.FormatMP3},
	} {
		if strings.Contains(t, probe.needle) {
			return probe.format
		}
	}
	return domain.FormatUnknown
}

// sizeScore rewards sizes inside the plausible band for the target runtime
// and degrades smoothly outside it. A release under sampleCutoff is almost
// certainly a sample or a fake and takes the full penalty. With no known
// runtime the component stays neutral.
func sizeScore(sizeBytes int64, runtimeMinutes int, pol Policy) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	if sizeBytes < sampleCutoff {
		return -sizeScoreMax
	}
	if runtimeMinutes <= 0 {
		return 0
	}

	lo := pol.MinBytesPerMinute * int64(runtimeMinutes)
	hi := pol.MaxBytesPerMinute * int64(runtimeMinutes)
	switch {
	case sizeBytes >= lo && sizeBytes <= hi:
		return sizeScoreMax
	case sizeBytes < lo:
		// Approaches +max as size nears the band, -max as it nears zero.
		return -sizeScoreMax + 2*sizeScoreMax*float64(sizeBytes)/float64(lo)
	default:
		return -sizeScoreMax + 2*sizeScoreMax*float64(hi)/float64(sizeBytes)
	}
}

// seederScore rewards torrent swarm health with diminishing returns: each
// doubling of seeders adds a fixed increment until the cap. Usenet has no
// swarm, so it gets the policy's fixed neutral score.
func seederScore(c domain.CandidateRelease, pol Policy) float64 {
	if c.Protocol == domain.ProtocolUsenet {
		return pol.UsenetSeederScore
	}
	if c.Seeders <= 0 {
		return 0
	}
	score := seederScorePerDouble * math.Log2(float64(1+c.Seeders))
	return math.Min(score, seederScoreMax)
}

// flagBonus sums the bonus rules matched by the candidate's flags. Rules are
// evaluated in policy order and each rule counts at most once no matter how
// often its flag appears.
func flagBonus(flags []string, rules []domain.FlagRule) (float64, []domain.BonusModifier) {
	if len(rules) == 0 || len(flags) == 0 {
		return 0, nil
	}
	have := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		have[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	var total float64
	var mods []domain.BonusModifier
	for _, rule := range rules {
		if _, ok := have[strings.ToLower(rule.Flag)]; !ok {
			continue
		}
		total += rule.Points
		mods = append(mods, domain.BonusModifier{Flag: rule.Flag, Points: rule.Points})
	}
	return round2(total), mods
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
