package ranking

import (
	"strings"
	"unicode"
)

const (
	titleWeight  = 0.7
	authorWeight = 0.3
)

// targetMatcher precomputes the token sets for one target so similarity can
// be evaluated cheaply per candidate.
type targetMatcher struct {
	title     map[string]struct{}
	mainTitle map[string]struct{}
	author    map[string]struct{}
}

func newTargetMatcher(t Target) targetMatcher {
	return targetMatcher{
		title:     tokenSet(t.Title),
		mainTitle: tokenSet(stripSubtitle(t.Title)),
		author:    tokenSet(t.Author),
	}
}

// similarity returns how well a release title covers the target in [0,1].
// Title coverage is taken as the better of the full title and the
// subtitle-stripped title, so "Project Hail Mary" still matches a target
// titled "Project Hail Mary: A Novel". Author tokens are compared as a set,
// which makes "Weir, Andy" and "Andy Weir" equivalent.
func (m targetMatcher) similarity(releaseTitle string) float64 {
	have := tokenSet(releaseTitle)

	title := containment(m.title, have)
	if len(m.mainTitle) > 0 && len(m.mainTitle) < len(m.title) {
		if alt := containment(m.mainTitle, have); alt > title {
			title = alt
		}
	}
	if len(m.author) == 0 {
		return title
	}
	return titleWeight*title + authorWeight*containment(m.author, have)
}

// containment is |want ∩ have| / |want|. An empty want set matches nothing.
func containment(want, have map[string]struct{}) float64 {
	if len(want) == 0 {
		return 0
	}
	hits := 0
	for tok := range want {
		if _, ok := have[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// stripSubtitle drops everything after the first subtitle separator.
func stripSubtitle(title string) string {
	for _, sep := range []string{":", " - ", " – "} {
		if i := strings.Index(title, sep); i > 0 {
			return title[:i]
		}
	}
	return title
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

var apostrophes = strings.NewReplacer("'", "", "’", "")

// tokenize lowercases s and splits it on anything that is not a letter or
// digit, so punctuation and bracket noise in release titles falls away.
// Apostrophes are removed rather than split on, keeping "hitchhiker's" and
// "hitchhikers" the same token.
func tokenize(s string) []string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
