package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent is the read-only persona configuration for one conversation
// participant. Records are created and edited by an external configuration
// provider; the orchestration core never mutates them during a session.
type Agent struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Role              string    `json:"role" yaml:"role"`
	PersonalityTraits []string  `json:"personality_traits" yaml:"personality_traits"`
	BasePrompt        string    `json:"base_prompt" yaml:"base_prompt"`
	CreatedAt         time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// NewAgent creates an agent record with a generated ID.
func NewAgent(name, role, basePrompt string, traits []string) Agent {
	return Agent{
		ID:                "agent_" + uuid.NewString()[:8],
		Name:              name,
		Role:              role,
		PersonalityTraits: traits,
		BasePrompt:        basePrompt,
		CreatedAt:         time.Now(),
	}
}

// Validate checks that the agent record is usable as a session participant.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return NewError(ErrInvalidConfig, "agent name must not be empty")
	}
	if strings.TrimSpace(a.Role) == "" {
		return NewError(ErrInvalidConfig, fmt.Sprintf("agent %q has no role", a.Name))
	}
	return nil
}

// Scene is the shared narrative context the agents speak inside. It is
// replaced atomically by a change-scene operation; messages appended before
// the change are not retroactively rewritten.
type Scene struct {
	Environment      string `json:"environment" yaml:"environment"`
	SceneDescription string `json:"scene_description" yaml:"scene_description"`
}
