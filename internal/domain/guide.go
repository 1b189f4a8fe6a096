// Package domain holds the marking model: guides, evaluations, reports and the
// messages agents exchange while producing them.
package domain

import (
	"fmt"
	"math"
)

// MarksEpsilon is the tolerance used when comparing a guide's stated total
// against the sum of its question maxima. Guides routinely round, so a
// mismatch inside this window is not reported.
const MarksEpsilon = 0.01

// QuestionType classifies how a question expects to be answered.
type QuestionType string

// Supported question types.
const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
	QuestionNumeric        QuestionType = "numeric"
	QuestionTrueFalse      QuestionType = "true_false"
)

// QuestionTypes lists every valid QuestionType in a stable order.
var QuestionTypes = []QuestionType{
	QuestionMultipleChoice,
	QuestionShortAnswer,
	QuestionEssay,
	QuestionNumeric,
	QuestionTrueFalse,
}

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	for _, known := range QuestionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// KeyConcept is a single rubric element a good answer is expected to contain.
type KeyConcept struct {
	Text      string  `json:"text"`
	Points    float64 `json:"points"`
	Mandatory bool    `json:"mandatory"`
}

// RubricTiers describes what each quality tier looks like for a question.
type RubricTiers struct {
	Excellent    string `json:"excellent"`
	Good         string `json:"good"`
	Satisfactory string `json:"satisfactory"`
	Poor         string `json:"poor"`
}

// AnalyzedQuestion is one question of a marking guide after rubric extraction.
type AnalyzedQuestion struct {
	ID          string       `json:"id"`
	Number      string       `json:"number"`
	Text        string       `json:"text"`
	Type        QuestionType `json:"type"`
	MaxMarks    float64      `json:"max_marks"`
	KeyConcepts []KeyConcept `json:"key_concepts"`
	Rubric      RubricTiers  `json:"rubric"`
	ModelAnswer string       `json:"model_answer,omitempty"`
}

// ConceptPoints returns the total points attainable through key concepts.
func (q AnalyzedQuestion) ConceptPoints() float64 {
	var total float64
	for _, c := range q.KeyConcepts {
		total += c.Points
	}
	return total
}

// MandatoryConcepts returns the texts of all mandatory key concepts.
func (q AnalyzedQuestion) MandatoryConcepts() []string {
	var out []string
	for _, c := range q.KeyConcepts {
		if c.Mandatory {
			out = append(out, c.Text)
		}
	}
	return out
}

// MarkingGuide is the analyzed form of an uploaded marking guide.
// Questions are kept in the order they appear in the source document.
type MarkingGuide struct {
	ID          string             `json:"id"`
	ContentHash string             `json:"content_hash"`
	Title       string             `json:"title"`
	TotalMarks  float64            `json:"total_marks"`
	Questions   []AnalyzedQuestion `json:"questions"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// QuestionMarksSum returns the sum of every question's maximum marks.
func (g MarkingGuide) QuestionMarksSum() float64 {
	var sum float64
	for _, q := range g.Questions {
		sum += q.MaxMarks
	}
	return sum
}

// Question finds a question by id.
func (g MarkingGuide) Question(id string) (AnalyzedQuestion, bool) {
	for _, q := range g.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return AnalyzedQuestion{}, false
}

// Check inspects the guide for structural problems. Hard problems (no
// questions, negative marks, unknown types) are returned as a
// ValidationError. A total-marks mismatch is only a warning.
func (g MarkingGuide) Check() (warnings []string, err error) {
	verr := NewValidationError("marking guide")
	if len(g.Questions) == 0 {
		verr.AddError("guide has no questions")
	}

	seen := make(map[string]bool, len(g.Questions))
	for i, q := range g.Questions {
		if q.ID == "" {
			verr.AddError(fmt.Sprintf("question %d has no id", i+1))
		} else if seen[q.ID] {
			verr.AddError(fmt.Sprintf("duplicate question id %q", q.ID))
		}
		seen[q.ID] = true

		if q.MaxMarks < 0 {
			verr.AddError(fmt.Sprintf("question %s has negative max marks", q.ID))
		}
		if !q.Type.Valid() {
			verr.AddError(fmt.Sprintf("question %s has unknown type %q", q.ID, q.Type))
		}
	}

	if sum := g.QuestionMarksSum(); g.TotalMarks > 0 && math.Abs(sum-g.TotalMarks) > MarksEpsilon {
		warnings = append(warnings, fmt.Sprintf(
			"question marks sum to %.2f but guide total is %.2f", sum, g.TotalMarks))
	}

	if verr.HasErrors() {
		return warnings, verr
	}
	return warnings, nil
}

// SectionHint is a pattern-extracted slice of a document that probably
// corresponds to one question.
type SectionHint struct {
	Number string  `json:"number"`
	Text   string  `json:"text"`
	Marks  float64 `json:"marks,omitempty"`
}
