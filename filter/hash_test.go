package filter

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestContentHashIgnoresLifecycle(t *testing.T) {
	r := spamRule("spam", "a@b.c")
	h := r.ContentHash()
	assert.Len(t, h, 64)

	moved := r.WithStatus(StatusArchived)
	moved.Priority = 42
	assert.Equal(t, h, moved.ContentHash())
}

func TestContentHashTracksContent(t *testing.T) {
	base := spamRule("spam", "a@b.c")
	h := base.ContentHash()

	mutations := map[string]func(*Rule){
		"name":            func(r *Rule) { r.Name = "spam2" },
		"logic":           func(r *Rule) { r.Logic = LogicOr },
		"condition value": func(r *Rule) { r.Conditions[0].Value = "a@b.d" },
		"condition op":    func(r *Rule) { r.Conditions[0].Operator = OperatorIs },
		"condition type":  func(r *Rule) { r.Conditions[0].Type = ConditionRecipient },
		"extra condition": func(r *Rule) {
			r.Conditions = append(r.Conditions, Condition{Type: ConditionSubject, Operator: OperatorContains})
		},
		"action type":  func(r *Rule) { r.Actions[0].Type = ActionArchive },
		"action param": func(r *Rule) { r.Actions[0].Parameters = map[string]string{"folder": "x"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := base.Clone()
			mutate(&r)
			assert.NotEqual(t, h, r.ContentHash())
		})
	}
}

func TestContentHashFieldBoundaries(t *testing.T) {
	a := Rule{Name: "ab", Logic: LogicAnd, Conditions: []Condition{{Type: ConditionSender, Operator: OperatorContains, Value: "c"}}}
	b := Rule{Name: "a", Logic: LogicAnd, Conditions: []Condition{{Type: ConditionSender, Operator: OperatorContains, Value: "bc"}}}
	assert.NotEqual(t, a.ContentHash(), b.ContentHash())
}

func TestContentHashParameterOrder(t *testing.T) {
	a := Rule{Name: "r", Actions: []Action{{Type: ActionMoveTo, Parameters: map[string]string{"folder": "F", "x": "y"}}}}
	b := Rule{Name: "r", Actions: []Action{{Type: ActionMoveTo, Parameters: map[string]string{"x": "y", "folder": "F"}}}}
	assert.Equal(t, a.ContentHash(), b.ContentHash())
}

func TestContentHashProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statuses := gen.OneConstOf(StatusEnabled, StatusDisabled, StatusArchived, StatusDeprecated)

	properties.Property("hash is invariant under status and priority", prop.ForAll(
		func(name, value string, st Status, prio int) bool {
			r := spamRule(name, value)
			moved := r.WithStatus(st)
			moved.Priority = prio
			return r.ContentHash() == moved.ContentHash()
		},
		gen.AnyString(), gen.AnyString(), statuses, gen.Int(),
	))

	properties.Property("hash changes with the name", prop.ForAll(
		func(name, other, value string) bool {
			if name == other {
				return true
			}
			return spamRule(name, value).ContentHash() != spamRule(other, value).ContentHash()
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("hash changes with a condition value", prop.ForAll(
		func(value, other string) bool {
			if value == other {
				return true
			}
			return spamRule("r", value).ContentHash() != spamRule("r", other).ContentHash()
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestHashSet(t *testing.T) {
	rules := []Rule{spamRule("a", "x"), spamRule("a", "x").WithStatus(StatusDisabled), spamRule("b", "y")}
	set := HashSet(rules)
	assert.Len(t, set, 2)
	_, ok := set[rules[2].ContentHash()]
	assert.True(t, ok)
}
