// Package persona renders the in-character prompt for one agent turn and
// generates replies through an llm.Provider.
package persona

import (
	"fmt"
	"strings"

	"github.com/BaSui01/convoloop/types"
)

// DefaultTerminationReminderEvery is how often (in rounds) the prompt
// restates the termination condition to the speaking agent.
const DefaultTerminationReminderEvery = 4

// PromptInput carries everything needed to render one turn prompt.
type PromptInput struct {
	Agent   types.Agent
	Scene   types.Scene
	Roster  []types.Agent
	History []types.Message
	// Round is the 1-based conversation round, used for the periodic
	// termination reminder.
	Round                int
	TerminationCondition string
	// ReminderEvery <= 0 disables the periodic reminder.
	ReminderEvery int
}

// BuildPrompt renders the full prompt sent to the LLM for one agent turn.
// A leading synopsis message is rendered as its own summary block instead
// of a conversation line.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString(BasePrompt(in.Agent))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "INITIAL SCENE: %s\n", in.Scene.Environment)
	fmt.Fprintf(&b, "SCENE DESCRIPTION: %s\n\n", in.Scene.SceneDescription)

	b.WriteString("PARTICIPANTS:\n")
	for _, a := range in.Roster {
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, a.Role)
	}
	b.WriteString("\n")

	history := in.History
	if len(history) > 0 && history[0].IsSynopsis() {
		b.WriteString("PREVIOUS CONVERSATION SUMMARY:\n")
		b.WriteString(history[0].Content)
		b.WriteString("\n\n")
		history = history[1:]
	}

	b.WriteString("CONVERSATION SO FAR:\n")
	if len(history) == 0 {
		b.WriteString("(the conversation is just beginning)\n")
	}
	for _, m := range history {
		b.WriteString(m.Line())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	cond := strings.TrimSpace(in.TerminationCondition)
	if cond != "" && in.ReminderEvery > 0 && in.Round > 0 && in.Round%in.ReminderEvery == 0 {
		fmt.Fprintf(&b, "Reminder: the conversation ends once this condition is met: %s\n", cond)
		b.WriteString("Steer toward it if it fits the scene naturally.\n\n")
	}

	fmt.Fprintf(&b, "You are %s. Reply in character with 1-3 sentences.\n", in.Agent.Name)
	b.WriteString("Do not narrate for other participants and do not prefix your reply with your name.\n")
	return b.String()
}

// BasePrompt renders the static persona block for an agent.
func BasePrompt(a types.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.", a.Name, a.Role)
	if len(a.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, " Personality: %s.", strings.Join(a.PersonalityTraits, ", "))
	}
	if strings.TrimSpace(a.BasePrompt) != "" {
		b.WriteString("\n")
		b.WriteString(a.BasePrompt)
	}
	return b.String()
}
