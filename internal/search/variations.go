// Package search implements the search_indexers processor: fan out query
// variations over every enabled indexer, aggregate and dedupe candidates,
// rank them, and either stage a download or park the request for the
// re-search sweep.
package search

import (
	"strings"
	"unicode"
)

// QueryVariations builds the ordered query phrasings tried against every
// indexer: the raw title, title with author, a punctuation-normalized form,
// and the subtitle-stripped title with author. Earlier variations win
// ranking ties, so the list starts with the most specific phrasing.
// Duplicates collapse to their first position.
func QueryVariations(title, author string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			return
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}

	add(title)
	add(title + " " + author)
	add(normalizeQuery(title + " " + author))
	if main := stripSubtitle(title); main != title {
		add(main + " " + author)
	}
	return out
}

// normalizeQuery lowercases and strips punctuation, the phrasing that
// matches indexers which index cleaned-up release names.
func normalizeQuery(s string) string {
	s = strings.ToLower(s)
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func stripSubtitle(title string) string {
	for _, sep := range []string{":", " - ", " – "} {
		if i := strings.Index(title, sep); i > 0 {
			return strings.TrimSpace(title[:i])
		}
	}
	return title
}
