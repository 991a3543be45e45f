package filter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/migadu/protonfusion/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spamRule(name, sender string) Rule {
	return Rule{
		Name:       name,
		Status:     StatusEnabled,
		Logic:      LogicAnd,
		Conditions: []Condition{{Type: ConditionSender, Operator: OperatorContains, Value: sender}},
		Actions:    []Action{{Type: ActionDelete}},
	}
}

func TestStatusDerivesActive(t *testing.T) {
	r := spamRule("a", "x")
	assert.True(t, r.Active())
	for _, st := range []Status{StatusDisabled, StatusArchived, StatusDeprecated} {
		assert.False(t, r.WithStatus(st).Active(), st)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Archived ")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, st)

	_, err = ParseStatus("paused")
	assert.True(t, errors.Is(err, consts.ErrInvalidStatus))
}

func TestRuleJSONRoundTripKeepsStatus(t *testing.T) {
	r := spamRule("a", "x").WithStatus(StatusDeprecated)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"enabled"`)

	var back Rule
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
}

func TestRuleJSONLegacyEnabledFlag(t *testing.T) {
	var r Rule
	require.NoError(t, json.Unmarshal([]byte(`{"name":"old","enabled":false,"logic":"or"}`), &r))
	assert.Equal(t, StatusDisabled, r.Status)
	assert.Equal(t, LogicOr, r.Logic)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"old2"}`), &r))
	assert.Equal(t, StatusEnabled, r.Status)
	assert.Equal(t, LogicAnd, r.Logic)
}

func TestCloneIsDeep(t *testing.T) {
	r := Rule{Name: "a", Actions: []Action{{Type: ActionMoveTo, Parameters: map[string]string{"folder": "Spam"}}}}
	c := r.Clone()
	c.Actions[0].Parameters["folder"] = "Other"
	assert.Equal(t, "Spam", r.Actions[0].Parameters["folder"])
}

func TestActionsKey(t *testing.T) {
	a := []Action{{Type: ActionMoveTo, Parameters: map[string]string{"folder": "Spam", "b": "1"}}, {Type: ActionStar}}
	b := []Action{{Type: ActionStar}, {Type: ActionMoveTo, Parameters: map[string]string{"b": "1", "folder": "Spam"}}}
	assert.Equal(t, ActionsKey(a), ActionsKey(b))
	assert.Equal(t, "move_to|b=1:folder=Spam||star|", ActionsKey(a))

	c := []Action{{Type: ActionMoveTo, Parameters: map[string]string{"folder": "Other", "b": "1"}}, {Type: ActionStar}}
	assert.NotEqual(t, ActionsKey(a), ActionsKey(c))
}

func TestDescribeActions(t *testing.T) {
	assert.Equal(t, "Move to Spam + Mark as read", DescribeActions([]Action{
		{Type: ActionMoveTo, Parameters: map[string]string{"folder": "Spam"}},
		{Type: ActionMarkRead},
	}))
	assert.Equal(t, "Label News", DescribeActions([]Action{{Type: ActionLabel, Parameters: map[string]string{"label": "News"}}}))
	assert.Equal(t, "Label ?", DescribeActions([]Action{{Type: ActionLabel}}))
	assert.Equal(t, "Unknown action", DescribeActions(nil))
}

func TestHeaderName(t *testing.T) {
	c := Condition{Type: ConditionHeader, Operator: OperatorContains, Value: "X-Spam-Flag: YES|maybe"}
	assert.Equal(t, "X-Spam-Flag", c.HeaderName())
	name, patterns := c.HeaderPatterns()
	assert.Equal(t, "X-Spam-Flag", name)
	assert.Equal(t, []string{"YES|maybe"}, patterns)

	c.Alternatives = []string{"YES", "maybe"}
	name, patterns = c.HeaderPatterns()
	assert.Equal(t, "X-Spam-Flag", name)
	assert.Equal(t, []string{"YES", "maybe"}, patterns)
	assert.Equal(t, []string{"YES", "maybe"}, c.Values())
}
