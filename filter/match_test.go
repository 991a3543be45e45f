package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"a*c", "abbbc", true},
		{"a*c", "abbbd", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*@example.com", "bob@example.com", true},
		{"*@example.com", "bob@example.org", false},
		{`\*x`, "*x", true},
		{`\*x`, "ax", false},
		{`a\?`, "a?", true},
		{"news*", "newsletter@x", true},
		{"*a*b*", "xxaxxbxx", true},
		{"?", "ü", false},
		{"??", "ü", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.s), "%q ~ %q", tt.pattern, tt.s)
	}
}

func TestConditionOperators(t *testing.T) {
	m := Message{Sender: "Alerts@Bank.example", Subject: "Your statement is ready"}
	tests := []struct {
		op    Operator
		value string
		want  bool
	}{
		{OperatorContains, "bank", true},
		{OperatorContains, "shop", false},
		{OperatorIs, "alerts@bank.example", true},
		{OperatorIs, "alerts@bank", false},
		{OperatorStartsWith, "alerts@", true},
		{OperatorEndsWith, ".example", true},
		{OperatorEndsWith, ".com", false},
		{OperatorMatches, "*@bank.*", true},
		{OperatorHas, "", true},
	}
	for _, tt := range tests {
		c := Condition{Type: ConditionSender, Operator: tt.op, Value: tt.value}
		assert.Equal(t, tt.want, c.Matches(m), "%s %q", tt.op, tt.value)
	}
}

func TestConditionASCIICaseMap(t *testing.T) {
	c := Condition{Type: ConditionSubject, Operator: OperatorContains, Value: "über"}
	assert.False(t, c.Matches(Message{Subject: "ÜBER alles"}))
	assert.False(t, c.Matches(Message{Subject: "Über alles"}))
	assert.True(t, c.Matches(Message{Subject: "über ALLES"}))

	d := Condition{Type: ConditionSubject, Operator: OperatorIs, Value: "CAFÉ"}
	assert.False(t, d.Matches(Message{Subject: "café"}))
	assert.True(t, d.Matches(Message{Subject: "caFÉ"}))
}

func TestConditionAlternatives(t *testing.T) {
	c := Condition{Type: ConditionSender, Operator: OperatorContains, Value: "alice|bob", Alternatives: []string{"alice", "bob"}}
	assert.True(t, c.Matches(Message{Sender: "bob@x"}))
	assert.True(t, c.Matches(Message{Sender: "alice@x"}))
	assert.False(t, c.Matches(Message{Sender: "carol@x"}))
}

func TestConditionLiteralPipe(t *testing.T) {
	c := Condition{Type: ConditionSubject, Operator: OperatorIs, Value: "build|deploy"}
	assert.True(t, c.Matches(Message{Subject: "build|deploy"}))
	assert.False(t, c.Matches(Message{Subject: "build"}))
	assert.False(t, c.Matches(Message{Subject: "deploy"}))

	h := Condition{Type: ConditionHeader, Operator: OperatorContains, Value: "X-Tag: a|b"}
	assert.True(t, h.Matches(Message{Headers: map[string][]string{"X-Tag": {"x a|b y"}}}))
	assert.False(t, h.Matches(Message{Headers: map[string][]string{"X-Tag": {"b"}}}))
}

func TestConditionTargets(t *testing.T) {
	m := Message{
		Recipients:  []string{"me@x", "list@lists.example"},
		Headers:     map[string][]string{"X-Spam-Flag": {"YES"}},
		Attachments: true,
	}
	assert.True(t, Condition{Type: ConditionRecipient, Operator: OperatorEndsWith, Value: "lists.example"}.Matches(m))
	assert.True(t, Condition{Type: ConditionHeader, Operator: OperatorIs, Value: "x-spam-flag: yes"}.Matches(m))
	assert.False(t, Condition{Type: ConditionHeader, Operator: OperatorIs, Value: "X-Other: yes"}.Matches(m))
	assert.True(t, Condition{Type: ConditionAttachments, Operator: OperatorHas}.Matches(m))
	assert.False(t, Condition{Type: ConditionAttachments, Operator: OperatorHas}.Matches(Message{}))
}

func TestGroupLogic(t *testing.T) {
	senderA := Condition{Type: ConditionSender, Operator: OperatorContains, Value: "a@x"}
	subjectB := Condition{Type: ConditionSubject, Operator: OperatorContains, Value: "invoice"}
	msg := Message{Sender: "a@x", Subject: "hello"}

	and := ConditionGroup{Logic: LogicAnd, Conditions: []Condition{senderA, subjectB}}
	or := ConditionGroup{Logic: LogicOr, Conditions: []Condition{senderA, subjectB}}
	assert.False(t, and.Matches(msg))
	assert.True(t, or.Matches(msg))
	assert.True(t, ConditionGroup{}.Matches(msg))
}

func TestConsolidatedRuleMatchesAnyGroup(t *testing.T) {
	cr := ConsolidatedRule{Groups: []ConditionGroup{
		{Logic: LogicAnd, Conditions: []Condition{
			{Type: ConditionSender, Operator: OperatorContains, Value: "a@x"},
			{Type: ConditionSubject, Operator: OperatorContains, Value: "b"},
		}},
		{Logic: LogicAnd, Conditions: []Condition{{Type: ConditionSender, Operator: OperatorContains, Value: "c@x"}}},
	}}
	assert.False(t, cr.Matches(Message{Sender: "a@x", Subject: "unrelated"}))
	assert.True(t, cr.Matches(Message{Sender: "a@x", Subject: "about b"}))
	assert.True(t, cr.Matches(Message{Sender: "c@x"}))
}
