package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAliases(t *testing.T) {
	assert.Equal(t, ConditionSender, ParseConditionType("From"))
	assert.Equal(t, ConditionAttachments, ParseConditionType("Has attachment"))
	assert.Equal(t, ConditionSender, ParseConditionType(""))
	assert.Equal(t, OperatorIs, ParseOperator("is exactly"))
	assert.Equal(t, OperatorStartsWith, ParseOperator("Starts with"))
	assert.Equal(t, ActionDelete, ParseActionType("Move to trash"))
	assert.Equal(t, ActionArchive, ParseActionType("move to archive"))
	assert.Equal(t, ActionMoveTo, ParseActionType("Move to"))
	assert.Equal(t, ActionMoveTo, ParseActionType("teleport"))
	assert.Equal(t, ConditionSubject, ParseConditionType("ſubject"))
	assert.Equal(t, OperatorEndsWith, ParseOperator("ENDS WITH"))
}

func TestDecodeScraped(t *testing.T) {
	data := []byte(`[
		{"name": "Spam", "enabled": true, "logic": "OR",
		 "conditions": [{"type": "from", "operator": "contains", "value": "spam@x"}],
		 "actions": [{"type": "move to", "parameters": {"folder": "Spam"}}]},
		{"name": "Old", "enabled": false, "conditions": [], "actions": [{"type": "delete"}]},
		{"name": "Kept", "status": "archived", "actions": [{"type": "star"}]},
		{"name": "", "actions": []},
		{"name": "Bad", "status": "paused"}
	]`)

	rules, err := DecodeScraped(data)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, LogicOr, rules[0].Logic)
	assert.Equal(t, StatusEnabled, rules[0].Status)
	assert.Equal(t, Condition{Type: ConditionSender, Operator: OperatorContains, Value: "spam@x"}, rules[0].Conditions[0])
	assert.Equal(t, "Spam", rules[0].Actions[0].Parameters["folder"])

	assert.Equal(t, StatusDisabled, rules[1].Status)
	assert.Equal(t, LogicAnd, rules[1].Logic)
	assert.Equal(t, StatusArchived, rules[2].Status)
}

func TestDecodeScrapedMalformed(t *testing.T) {
	_, err := DecodeScraped([]byte(`{"name": "not an array"}`))
	assert.Error(t, err)
}
