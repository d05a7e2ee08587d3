// Package types provides core types used across the convoloop engine.
// This package has ZERO dependencies on other convoloop packages to avoid
// circular imports. All other packages should import types from here.
package types

import (
	"fmt"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// SpeakerUser and SpeakerSystem are the reserved speaker names for
// non-agent messages. Agent messages carry the agent's display name.
const (
	SpeakerUser   = "user"
	SpeakerSystem = "system"
)

// Message represents a single conversation message. Messages are immutable
// once appended to a transcript; append order is the sole source of
// conversational sequence.
type Message struct {
	Speaker   string    `json:"speaker"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Synopsis  bool      `json:"synopsis,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewAgentMessage creates a message spoken by the named agent.
func NewAgentMessage(speaker, content string) Message {
	return Message{
		Speaker:   speaker,
		Role:      RoleAgent,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(content string) Message {
	return Message{
		Speaker:   SpeakerUser,
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a system-authored message. System messages are
// used for synopses and in-transcript error records.
func NewSystemMessage(content string) Message {
	return Message{
		Speaker:   SpeakerSystem,
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSynopsisMessage creates the condensed-history system message that the
// memory governor places at the head of a trimmed transcript.
func NewSynopsisMessage(content string) Message {
	m := NewSystemMessage(content)
	m.Synopsis = true
	return m
}

// IsSynopsis reports whether this message is a condensed-history synopsis.
func (m Message) IsSynopsis() bool {
	return m.Synopsis && m.Role == RoleSystem
}

// Line renders the message in "Speaker: content" form, the format used by
// selector and persona prompts.
func (m Message) Line() string {
	return fmt.Sprintf("%s: %s", m.Speaker, m.Content)
}

// TokenCounter is the minimal token counting interface.
type TokenCounter interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) int
}
