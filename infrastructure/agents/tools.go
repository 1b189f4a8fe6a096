package agents

import (
	"encoding/json"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Tool names.
const (
	ToolQuestionRubric   = "record_question_rubric"
	ToolGuideQuestions   = "record_guide_questions"
	ToolAnswerEvaluation = "record_answer_evaluation"
)

const questionSchema = `{
  "type": "object",
  "properties": {
    "number": {"type": "string", "description": "Question number as printed, such as 1, 2(a) or Q3"},
    "text": {"type": "string", "description": "Full question text"},
    "type": {"type": "string", "enum": ["multiple_choice", "short_answer", "essay", "numeric", "true_false"]},
    "max_marks": {"type": "number", "minimum": 0, "description": "Marks available for the question"},
    "key_concepts": {
      "type": "array",
      "description": "Rubric elements a good answer contains",
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string"},
          "points": {"type": "number", "minimum": 0},
          "mandatory": {"type": "boolean", "description": "True when an answer cannot score highly without it"}
        },
        "required": ["text", "points", "mandatory"]
      }
    },
    "rubric": {
      "type": "object",
      "properties": {
        "excellent": {"type": "string"},
        "good": {"type": "string"},
        "satisfactory": {"type": "string"},
        "poor": {"type": "string"}
      }
    },
    "model_answer": {"type": "string"}
  },
  "required": ["text", "type", "max_marks", "key_concepts"]
}`

// QuestionRubricTool extracts one question from a guide section.
var QuestionRubricTool = ports.ToolDefinition{
	Name:        ToolQuestionRubric,
	Description: "Record the structure and marking rubric of one exam question.",
	Schema:      json.RawMessage(questionSchema),
}

// GuideQuestionsTool extracts every question of a guide in one call.
var GuideQuestionsTool = ports.ToolDefinition{
	Name:        ToolGuideQuestions,
	Description: "Record every question of the marking guide with its rubric, in document order.",
	Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "total_marks": {"type": "number", "minimum": 0},
    "questions": {"type": "array", "minItems": 1, "items": ` + questionSchema + `}
  },
  "required": ["questions"]
}`),
}

// AnswerEvaluationTool records the evaluator's judgment of one answer.
var AnswerEvaluationTool = ports.ToolDefinition{
	Name:        ToolAnswerEvaluation,
	Description: "Record the evaluation of a student's answer against the key concepts.",
	Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "concepts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "concept": {"type": "string", "description": "Key concept text exactly as listed"},
          "present": {"type": "boolean"},
          "accuracy": {"type": "string", "enum": ["excellent", "good", "satisfactory", "poor", "none"]},
          "evidence": {"type": "string", "description": "Quote from the answer supporting the verdict, empty when absent"},
          "points_earned": {"type": "number", "minimum": 0}
        },
        "required": ["concept", "present", "accuracy", "evidence", "points_earned"]
      }
    },
    "overall_quality": {"type": "string", "enum": ["excellent", "good", "satisfactory", "poor", "none"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "marks_awarded": {"type": "number", "minimum": 0},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "weaknesses": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["concepts", "overall_quality", "confidence", "marks_awarded"]
}`),
}

// questionInput mirrors questionSchema.
type questionInput struct {
	Number      string             `json:"number"`
	Text        string             `json:"text" validate:"required"`
	Type        string             `json:"type" validate:"required"`
	MaxMarks    float64            `json:"max_marks" validate:"gte=0"`
	KeyConcepts []conceptInput     `json:"key_concepts" validate:"dive"`
	Rubric      domain.RubricTiers `json:"rubric"`
	ModelAnswer string             `json:"model_answer"`
}

type conceptInput struct {
	Text      string  `json:"text" validate:"required"`
	Points    float64 `json:"points" validate:"gte=0"`
	Mandatory bool    `json:"mandatory"`
}

type guideInput struct {
	Title      string          `json:"title"`
	TotalMarks float64         `json:"total_marks" validate:"gte=0"`
	Questions  []questionInput `json:"questions" validate:"required,min=1,dive"`
}

type evaluationInput struct {
	Concepts       []conceptVerdict `json:"concepts" validate:"dive"`
	OverallQuality string           `json:"overall_quality" validate:"required"`
	Confidence     float64          `json:"confidence" validate:"gte=0,lte=1"`
	MarksAwarded   float64          `json:"marks_awarded" validate:"gte=0"`
	Strengths      []string         `json:"strengths"`
	Weaknesses     []string         `json:"weaknesses"`
}

type conceptVerdict struct {
	Concept      string  `json:"concept" validate:"required"`
	Present      bool    `json:"present"`
	Accuracy     string  `json:"accuracy" validate:"required"`
	Evidence     string  `json:"evidence"`
	PointsEarned float64 `json:"points_earned" validate:"gte=0"`
}
