package agents

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// foldKey normalises text for comparison: case folded, whitespace collapsed.
// A Caser keeps state, so each call builds its own.
func foldKey(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// traceSimilarity scores how well quote can be found in text, between 0
// and 1. An exact folded substring scores 1; otherwise the best
// Levenshtein similarity over word windows of the quote's length is used.
func traceSimilarity(quote, text string) float64 {
	q := foldKey(quote)
	t := foldKey(text)
	if q == "" {
		return 1
	}
	if strings.Contains(t, q) {
		return 1
	}

	qWords := strings.Fields(q)
	tWords := strings.Fields(t)
	if len(tWords) == 0 {
		return 0
	}

	best := 0.0
	for _, size := range []int{len(qWords) - 1, len(qWords), len(qWords) + 1} {
		if size <= 0 {
			continue
		}
		if size > len(tWords) {
			size = len(tWords)
		}
		for i := 0; i+size <= len(tWords); i++ {
			window := strings.Join(tWords[i:i+size], " ")
			if s := similarity(q, window); s > best {
				best = s
				if best == 1 {
					return best
				}
			}
		}
	}
	return best
}

func similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
