package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type RoundType string

const (
	RoundAgent      RoundType = "agent"
	RoundCode       RoundType = "code"
	RoundDesign     RoundType = "design"
	RoundBehavioral RoundType = "behavioral"
)

func (t RoundType) Valid() bool {
	switch t {
	case RoundAgent, RoundCode, RoundDesign, RoundBehavioral:
		return true
	}
	return false
}

// RoundState is the lifecycle state of one interview round.
// Transitions only move forward; Failed is absorbing.
type RoundState string

const (
	RoundPending    RoundState = "pending"
	RoundVerifying  RoundState = "verifying"
	RoundActive     RoundState = "active"
	RoundEvaluating RoundState = "evaluating"
	RoundCompleted  RoundState = "completed"
	RoundFailed     RoundState = "failed"
)

func (s RoundState) Terminal() bool {
	return s == RoundCompleted || s == RoundFailed
}

// RoundContext is the verified identity of a round. Immutable once built by the verifier.
type RoundContext struct {
	InterviewID string    `json:"interview_id"`
	RoundID     string    `json:"round_id"`
	RoundType   RoundType `json:"round_type"`
	CandidateID string    `json:"candidate_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Round is the backend-of-record row for a round.
type Round struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InterviewID string    `gorm:"column:interview_id;type:uuid;index" json:"interview_id"`
	CandidateID string    `gorm:"column:candidate_id;type:uuid;index" json:"candidate_id"`
	Type        RoundType `gorm:"column:type;type:text" json:"type"`
	Status      string    `gorm:"column:status;type:text" json:"status"`

	// artifact kinds ("code", "design") the round expects before it ends
	RequiredArtifacts pq.StringArray `gorm:"column:required_artifacts;type:text[]" json:"required_artifacts"`
	Warnings          pq.StringArray `gorm:"column:warnings;type:text[]" json:"warnings"`

	AgentEndpoint string         `gorm:"column:agent_endpoint;type:text" json:"agent_endpoint,omitempty"`
	Metadata      datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	StartedAt *time.Time `gorm:"column:started_at;type:timestamptz" json:"started_at,omitempty"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (Round) TableName() string { return "interview_rounds" }

// RoundStatus is the view of a live round returned to clients.
type RoundStatus struct {
	Context     RoundContext `json:"context"`
	State       RoundState   `json:"state"`
	Warnings    []string     `json:"warnings"`
	Submissions int          `json:"submissions"`
	FailReason  string       `json:"fail_reason,omitempty"`
}
