package selector

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			name: "strict json agent",
			raw:  `{"next_response": "Alice"}`,
			want: AgentTurn("Alice"),
		},
		{
			name: "strict json terminate",
			raw:  `{"next_response": "terminate"}`,
			want: Terminate(),
		},
		{
			name: "terminate case insensitive",
			raw:  `{"next_response": "Terminate"}`,
			want: Terminate(),
		},
		{
			name: "leading whitespace",
			raw:  "\n\t  {\"next_response\": \"Bob\"}  \n",
			want: AgentTurn("Bob"),
		},
		{
			name: "embedded in prose",
			raw:  `Sure! Based on the flow, here is my choice: {"next_response": "Carol"} Hope that helps.`,
			want: AgentTurn("Carol"),
		},
		{
			name: "fenced block with tag",
			raw:  "```json\n{\"next_response\": \"Dave\"}\n```",
			want: AgentTurn("Dave"),
		},
		{
			name: "fenced block without tag",
			raw:  "```\n{\"next_response\": \"Eve\"}\n```",
			want: AgentTurn("Eve"),
		},
		{
			name: "prose inside fence",
			raw:  "```\nThe answer is {\"next_response\": \"Mallory\"} of course.\n```",
			want: AgentTurn("Mallory"),
		},
		{
			name: "brace region with braces in string",
			raw:  `prefix {"next_response": "A{B}C"} suffix`,
			want: AgentTurn("A{B}C"),
		},
		{
			name: "plain text",
			raw:  "I think Alice should speak next.",
			want: Unparseable(),
		},
		{
			name: "empty reply",
			raw:  "",
			want: Unparseable(),
		},
		{
			name: "wrong key",
			raw:  `{"speaker": "Alice"}`,
			want: Unparseable(),
		},
		{
			name: "empty name",
			raw:  `{"next_response": "  "}`,
			want: Unparseable(),
		},
		{
			name: "unterminated brace",
			raw:  `{"next_response": "Alice"`,
			want: Unparseable(),
		},
		{
			name: "unterminated fence",
			raw:  "```json\n{\"next_response\"",
			want: Unparseable(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDecision(tt.raw))
		})
	}
}

// 属性:只要回复中嵌入了合法的 next_response 对象,无论包裹多少
// 干扰文本,解析结果都是对应 agent;且解析永不 panic。
func TestParseDecisionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z][A-Za-z0-9_ ]{0,20}[A-Za-z0-9]`).
			Filter(func(s string) bool { return !strings.EqualFold(s, terminateToken) }).
			Draw(t, "name")
		payload, err := json.Marshal(map[string]string{"next_response": name})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		// 干扰前后缀不含大括号与反引号,避免自造歧义。
		prefix := rapid.StringMatching(`[A-Za-z0-9 .,!?\n]{0,40}`).Draw(t, "prefix")
		suffix := rapid.StringMatching(`[A-Za-z0-9 .,!?\n]{0,40}`).Draw(t, "suffix")

		var raw string
		switch rapid.IntRange(0, 2).Draw(t, "wrap") {
		case 0:
			raw = string(payload)
		case 1:
			raw = prefix + string(payload) + suffix
		default:
			raw = fmt.Sprintf("%s\n```json\n%s\n```\n%s", prefix, payload, suffix)
		}

		got := ParseDecision(raw)
		if got.Kind != DecisionAgent || got.Agent != name {
			t.Fatalf("raw %q: got %+v, want agent %q", raw, got, name)
		}
	})
}

// 属性:任意不含大括号的文本都解析为 Unparseable,永不 panic。
func TestParseDecisionGarbageProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[^{}]{0,200}`).Draw(t, "raw")
		got := ParseDecision(raw)
		if got.Kind != DecisionUnparseable {
			t.Fatalf("raw %q: got %+v, want unparseable", raw, got)
		}
	})
}
