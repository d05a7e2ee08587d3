package selector

import (
	"encoding/json"
	"strings"
)

// DecisionKind discriminates the outcomes of a turn-selection request.
type DecisionKind string

const (
	// DecisionAgent means a specific agent should speak next.
	DecisionAgent DecisionKind = "agent"
	// DecisionTerminate means the oracle judged the termination condition met.
	DecisionTerminate DecisionKind = "terminate"
	// DecisionUnparseable means no decision could be extracted from the
	// oracle's reply. The session applies its own retry / round-robin policy.
	DecisionUnparseable DecisionKind = "unparseable"
)

// Decision is the structured outcome of one selection request. The oracle's
// free-text reply is untrusted; it is coerced into this tagged result by a
// chain of extraction strategies, never by exceptions-as-control-flow.
type Decision struct {
	Kind  DecisionKind `json:"kind"`
	Agent string       `json:"agent,omitempty"`
}

// AgentTurn builds an agent decision.
func AgentTurn(name string) Decision { return Decision{Kind: DecisionAgent, Agent: name} }

// Terminate is the terminate decision.
func Terminate() Decision { return Decision{Kind: DecisionTerminate} }

// Unparseable is the parse-failure decision.
func Unparseable() Decision { return Decision{Kind: DecisionUnparseable} }

// terminateToken is the reserved next_response value that ends a conversation.
const terminateToken = "terminate"

// replyPayload is the strict JSON object the oracle is instructed to emit.
type replyPayload struct {
	NextResponse string `json:"next_response"`
}

// ParseDecision coerces the oracle's raw reply into a Decision. Extraction
// strategies, in order:
//
//  1. strict JSON parse of the whole reply
//  2. first balanced {...} region anywhere in the text
//  3. inner text of a fenced code block (``` or ```json)
//
// A reply that defeats all three yields the Unparseable decision; this
// function never returns an error and never panics.
func ParseDecision(raw string) Decision {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Unparseable()
	}

	if d, ok := tryParse(text); ok {
		return d
	}
	if region, ok := firstBraceRegion(text); ok {
		if d, ok := tryParse(region); ok {
			return d
		}
	}
	if inner, ok := fencedBlock(text); ok {
		if d, ok := tryParse(inner); ok {
			return d
		}
		// The fence may wrap prose around the object itself.
		if region, ok := firstBraceRegion(inner); ok {
			if d, ok := tryParse(region); ok {
				return d
			}
		}
	}
	return Unparseable()
}

// tryParse attempts a strict JSON parse and maps the payload to a Decision.
func tryParse(text string) (Decision, bool) {
	var p replyPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return Decision{}, false
	}
	name := strings.TrimSpace(p.NextResponse)
	if name == "" {
		return Decision{}, false
	}
	if strings.EqualFold(name, terminateToken) {
		return Terminate(), true
	}
	return AgentTurn(name), true
}

// firstBraceRegion returns the first balanced {...} region in the text.
// Braces inside JSON string literals are skipped.
func firstBraceRegion(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// fencedBlock returns the inner text of the first triple-backtick block,
// tolerating an optional language tag such as "json".
func fencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	close := strings.Index(rest, "```")
	if close < 0 {
		return "", false
	}
	inner := rest[:close]
	// Strip a leading language tag on the opening line.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(inner[:nl])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner), true
}
