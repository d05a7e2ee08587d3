package types

import "time"

// Snapshot is a consistent point-in-time export of a conversation session.
// One is produced after every completed turn and on every state change; it
// carries everything needed to resume the session elsewhere.
type Snapshot struct {
	SessionID            string         `json:"session_id"`
	Title                string         `json:"title,omitempty"`
	State                string         `json:"state"`
	Scene                Scene          `json:"scene"`
	Agents               []Agent        `json:"agents"`
	History              []Message      `json:"history"`
	InvocationCounts     map[string]int `json:"invocation_counts"`
	Round                int            `json:"round"`
	TerminationCondition string         `json:"termination_condition,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Clone returns a deep copy. Snapshots cross goroutine boundaries, so
// subscribers always receive their own copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Agents = append([]Agent(nil), s.Agents...)
	out.History = append([]Message(nil), s.History...)
	out.InvocationCounts = make(map[string]int, len(s.InvocationCounts))
	for k, v := range s.InvocationCounts {
		out.InvocationCounts[k] = v
	}
	return &out
}
