package types

import "testing"

func TestMessageConstructors(t *testing.T) {
	m := NewAgentMessage("Elena", "Good evening.")
	if m.Role != RoleAgent || m.Speaker != "Elena" {
		t.Errorf("unexpected agent message: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	u := NewUserMessage("hello")
	if u.Role != RoleUser || u.Speaker != SpeakerUser {
		t.Errorf("unexpected user message: %+v", u)
	}

	s := NewSystemMessage("generation failed")
	if s.Role != RoleSystem || s.Speaker != SpeakerSystem {
		t.Errorf("unexpected system message: %+v", s)
	}
	if s.IsSynopsis() {
		t.Error("plain system message must not be a synopsis")
	}
}

func TestSynopsisMessage(t *testing.T) {
	m := NewSynopsisMessage("The group argued about the map.")
	if !m.IsSynopsis() {
		t.Error("expected synopsis flag")
	}
	if m.Role != RoleSystem {
		t.Errorf("synopsis must be system-role, got %s", m.Role)
	}
}

func TestMessageLine(t *testing.T) {
	m := NewAgentMessage("Marcus", "I disagree.")
	if m.Line() != "Marcus: I disagree." {
		t.Errorf("unexpected line: %q", m.Line())
	}
}

func TestAgentValidate(t *testing.T) {
	a := NewAgent("Elena", "historian", "You are a meticulous archivist.", []string{"curious"})
	if err := a.Validate(); err != nil {
		t.Fatalf("valid agent rejected: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Error("expected generated id and timestamp")
	}

	bad := Agent{Name: " "}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for empty name")
	}

	noRole := Agent{Name: "Elena"}
	if err := noRole.Validate(); GetErrorCode(err) != ErrInvalidConfig {
		t.Errorf("expected INVALID_CONFIG, got %v", err)
	}
}
