package agents

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
)

var (
	// questionHeading matches "Q1.", "Question 2", "3)" or "4." at a line start.
	questionHeading = regexp.MustCompile(
		`(?im)^[ \t]*(?:(?:q|question)[ \t]*\.?[ \t]*(\d{1,3})[ \t]*[.):]?|(\d{1,3})[ \t]*[.)])(?:[ \t]+|$)`)
	marksPattern      = regexp.MustCompile(`(?i)[\[(]\s*(\d+(?:\.\d+)?)\s*(?:marks?|pts?|points?)\s*[\])]`)
	totalMarksPattern = regexp.MustCompile(`(?i)\btotal(?:\s+marks)?\s*[:=]?\s*(\d+(?:\.\d+)?)`)
)

// FindSectionHints splits a guide into per-question slices by numbered
// headings. Headings must keep the style of the first one found and count up
// from it, so numbered lists inside a model answer do not start new
// sections. Fewer than two headings yields no hints.
func FindSectionHints(text string) []domain.SectionHint {
	hints := findSections(text, func(prev, h heading) bool {
		return h.prefixed == prev.prefixed && h.number == prev.number+1
	}, nil)
	if len(hints) < 2 {
		return nil
	}
	return hints
}

// SplitAnswers assigns the text of an answer sheet to the guide's questions
// by numbered headings. A heading counts when its number belongs to the guide
// and has not been seen yet, so students may skip questions or answer out of
// order. Bare numbers ("2.") must still increase, which keeps numbered lists
// inside an answer from splitting it.
//
// located[i] is false when question i has no heading on the sheet. A sheet
// without any heading is attributed whole to a single-question guide.
func SplitAnswers(text string, questions []domain.AnalyzedQuestion) (answers []string, located []bool) {
	answers = make([]string, len(questions))
	located = make([]bool, len(questions))

	wanted := make(map[int]bool, len(questions))
	for _, q := range questions {
		if n, err := strconv.Atoi(normalizeNumber(q.Number)); err == nil {
			wanted[n] = true
		}
	}
	seen := make(map[int]bool, len(questions))
	sections := findSections(text, func(prev, h heading) bool {
		if h.prefixed != prev.prefixed {
			return false
		}
		return h.prefixed || h.number > prev.number
	}, func(h heading) bool {
		if !wanted[h.number] || seen[h.number] {
			return false
		}
		seen[h.number] = true
		return true
	})

	if len(sections) == 0 {
		if len(questions) == 1 {
			answers[0], located[0] = strings.TrimSpace(text), true
		}
		return answers, located
	}

	byNumber := make(map[string]string, len(sections))
	for _, s := range sections {
		byNumber[s.Number] = s.Text
	}
	for i, q := range questions {
		answers[i], located[i] = byNumber[normalizeNumber(q.Number)]
	}
	return answers, located
}

// normalizeNumber reduces "Q03", "3." or "3" to "3".
func normalizeNumber(number string) string {
	start := strings.IndexFunc(number, unicode.IsDigit)
	if start < 0 {
		return strings.TrimSpace(number)
	}
	end := start
	for end < len(number) && unicode.IsDigit(rune(number[end])) {
		end++
	}
	n, err := strconv.Atoi(number[start:end])
	if err != nil {
		return number[start:end]
	}
	return strconv.Itoa(n)
}

// heading is one numbered question heading found in a document.
type heading struct {
	number     int
	prefixed   bool
	start, end int
}

// findSections cuts text at the accepted headings. follows decides whether a
// heading may come after the last accepted one; keep, when set, is a final
// filter applied to every candidate including the first.
func findSections(text string, follows func(prev, h heading) bool, keep func(h heading) bool) []domain.SectionHint {
	matches := questionHeading.FindAllStringSubmatchIndex(text, -1)

	var accepted []heading
	for _, m := range matches {
		h := heading{start: m[0], end: m[1]}
		digits := ""
		switch {
		case m[2] >= 0:
			digits, h.prefixed = text[m[2]:m[3]], true
		case m[4] >= 0:
			digits = text[m[4]:m[5]]
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		h.number = n
		if len(accepted) > 0 && !follows(accepted[len(accepted)-1], h) {
			continue
		}
		if keep != nil && !keep(h) {
			continue
		}
		accepted = append(accepted, h)
	}
	if len(accepted) == 0 {
		return nil
	}

	hints := make([]domain.SectionHint, 0, len(accepted))
	for i, h := range accepted {
		end := len(text)
		if i+1 < len(accepted) {
			end = accepted[i+1].start
		}
		body := strings.TrimSpace(text[h.end:end])
		hint := domain.SectionHint{Number: strconv.Itoa(h.number), Text: body}
		if m := marksPattern.FindStringSubmatch(body); m != nil {
			hint.Marks, _ = strconv.ParseFloat(m[1], 64)
		}
		hints = append(hints, hint)
	}
	return hints
}

// GuideHeader guesses a guide's title and stated total from its first lines.
func GuideHeader(text string) (title string, total float64) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !questionHeading.MatchString(line) {
			title = line
		}
		break
	}
	if m := totalMarksPattern.FindStringSubmatch(text); m != nil {
		total, _ = strconv.ParseFloat(m[1], 64)
	}
	return title, total
}
