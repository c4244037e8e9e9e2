package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type ArtifactType string

const (
	ArtifactCode   ArtifactType = "code"
	ArtifactDesign ArtifactType = "design"
)

type CodeSubmission struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Question string `json:"question"`
}

type DesignSubmission struct {
	Question    string          `json:"question"`
	CanvasImage []byte          `json:"-"`
	ImageMIME   string          `json:"image_mime,omitempty"`
	CanvasData  json.RawMessage `json:"canvas_data,omitempty"`
}

// Artifact is one candidate submission. Exactly one of Code or Design is set.
type Artifact struct {
	Type   ArtifactType      `json:"type"`
	Code   *CodeSubmission   `json:"code,omitempty"`
	Design *DesignSubmission `json:"design,omitempty"`
}

// EvaluationResult is written once per submission and never updated.
type EvaluationResult struct {
	ID           string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RoundID      string         `gorm:"column:round_id;type:uuid;index" json:"round_id"`
	ArtifactType ArtifactType   `gorm:"column:artifact_type;type:text" json:"artifact_type"`
	Question     string         `gorm:"column:question;type:text" json:"question"`
	Input        datatypes.JSON `gorm:"column:input;type:jsonb" json:"input"`

	Passed   bool     `gorm:"column:passed" json:"passed"`
	Score    *float64 `gorm:"column:score" json:"score,omitempty"`
	Feedback string   `gorm:"column:feedback;type:text" json:"feedback"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (EvaluationResult) TableName() string { return "evaluation_results" }

func (r *EvaluationResult) Verdict() string {
	if r.Passed {
		return "pass"
	}
	return "fail"
}
