package models

import "time"

type MentorRole string

const (
	MentorRoleCandidate MentorRole = "candidate"
	MentorRoleAI        MentorRole = "ai_mentor"
)

// MessageStatus tracks a mentor message through its stream.
// Only "streaming" messages are mutated; "final" and "error" are frozen.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageStreaming MessageStatus = "streaming"
	MessageFinal     MessageStatus = "final"
	MessageError     MessageStatus = "error"
)

func (s MessageStatus) Frozen() bool {
	return s == MessageFinal || s == MessageError
}

type MentorSession struct {
	ID                 string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CandidateID        string    `gorm:"column:candidate_id;type:uuid;index" json:"candidate_id"`
	InterviewSessionID *string   `gorm:"column:interview_session_id;type:uuid" json:"interview_session_id,omitempty"`
	Title              string    `gorm:"column:title;type:text" json:"title"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (MentorSession) TableName() string { return "mentor_sessions" }

type MentorMessage struct {
	ID            string        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID     string        `gorm:"column:session_id;type:uuid;index" json:"session_id"`
	MessengerRole MentorRole    `gorm:"column:messenger_role;type:text" json:"messenger_role"`
	Content       string        `gorm:"column:content;type:text" json:"content"`
	Status        MessageStatus `gorm:"column:status;type:text" json:"status"`
	CreatedAt     time.Time     `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (MentorMessage) TableName() string { return "mentor_messages" }
