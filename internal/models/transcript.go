package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MessengerRole string

const (
	RoleAIInterviewer MessengerRole = "ai_interviewer"
	RoleCandidate     MessengerRole = "candidate"
	RoleSystem        MessengerRole = "system"
)

func (r MessengerRole) Valid() bool {
	switch r {
	case RoleAIInterviewer, RoleCandidate, RoleSystem:
		return true
	}
	return false
}

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageAudio      MessageType = "audio"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageSystem     MessageType = "system"
	MessageFeedback   MessageType = "feedback"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageAudio, MessageToolCall, MessageToolResult, MessageSystem, MessageFeedback:
		return true
	}
	return false
}

// TranscriptEvent is one row of a round's append-only transcript.
// SequenceNo is assigned by the transcript logger, never by producers.
type TranscriptEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RoundID    string             `bson:"round_id" json:"round_id"`
	SequenceNo int64              `bson:"sequence_no" json:"sequence_no"`

	MessengerRole MessengerRole `bson:"messenger_role" json:"messenger_role"`
	MessageType   MessageType   `bson:"message_type" json:"message_type"`
	Content       string        `bson:"content" json:"content"`

	Tool *ToolInvocation `bson:"tool,omitempty" json:"tool,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type ToolInvocation struct {
	Name   string `bson:"name" json:"name"`
	Input  string `bson:"input,omitempty" json:"input,omitempty"`
	Output string `bson:"output,omitempty" json:"output,omitempty"`
	Passed *bool  `bson:"passed,omitempty" json:"passed,omitempty"`
}
