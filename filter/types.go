package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/migadu/protonfusion/consts"
)

// Status is the lifecycle state of a rule. The "active" flag the remote UI
// shows is derived from it and never stored separately.
type Status string

const (
	StatusEnabled    Status = "enabled"
	StatusDisabled   Status = "disabled"
	StatusArchived   Status = "archived"
	StatusDeprecated Status = "deprecated"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusEnabled, StatusDisabled, StatusArchived, StatusDeprecated}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Statuses {
		if st == valid {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of enabled, disabled, archived, deprecated)", consts.ErrInvalidStatus, s)
}

type ConditionType string

const (
	ConditionSender      ConditionType = "sender"
	ConditionRecipient   ConditionType = "recipient"
	ConditionSubject     ConditionType = "subject"
	ConditionAttachments ConditionType = "attachments"
	ConditionHeader      ConditionType = "header"
)

type Operator string

const (
	OperatorContains   Operator = "contains"
	OperatorIs         Operator = "is"
	OperatorMatches    Operator = "matches"
	OperatorStartsWith Operator = "starts_with"
	OperatorEndsWith   Operator = "ends_with"
	OperatorHas        Operator = "has"
)

type ActionType string

const (
	ActionMoveTo   ActionType = "move_to"
	ActionLabel    ActionType = "label"
	ActionMarkRead ActionType = "mark_read"
	ActionStar     ActionType = "star"
	ActionArchive  ActionType = "archive"
	ActionDelete   ActionType = "delete"
)

// Logic governs how the conditions of one rule combine.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// ValueSeparator joins alternative values of a merged condition for display.
const ValueSeparator = "|"

// Condition is one test of a rule. Value is matched literally. A merged
// condition also carries Alternatives, which the compiler expands into a
// Sieve string list; its Value is then only the joined form for display.
type Condition struct {
	Type         ConditionType `json:"type"`
	Operator     Operator      `json:"operator"`
	Value        string        `json:"value"`
	Alternatives []string      `json:"alternatives,omitempty"`
}

// Values returns the alternatives of a merged condition, or the value itself.
func (c Condition) Values() []string {
	if len(c.Alternatives) > 0 {
		return c.Alternatives
	}
	return []string{c.Value}
}

// HeaderName returns the header a header condition tests. Header condition
// values are written as "Name:pattern".
func (c Condition) HeaderName() string {
	name, _ := splitHeaderValue(c.Value)
	return name
}

// HeaderPatterns splits a header condition value into the header name and
// its patterns.
func (c Condition) HeaderPatterns() (name string, patterns []string) {
	name, rest := splitHeaderValue(c.Value)
	if len(c.Alternatives) > 0 {
		return name, c.Alternatives
	}
	return name, []string{rest}
}

func splitHeaderValue(v string) (name, pattern string) {
	name, pattern, found := strings.Cut(v, ":")
	if !found {
		return "", v
	}
	return strings.TrimSpace(name), strings.TrimLeft(pattern, " ")
}

type Action struct {
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// SortedParamKeys returns the parameter keys in lexicographic order.
func (a Action) SortedParamKeys() []string {
	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical key identifying the action and its parameters.
func (a Action) Key() string {
	params := make([]string, 0, len(a.Parameters))
	for _, k := range a.SortedParamKeys() {
		params = append(params, k+"="+a.Parameters[k])
	}
	return string(a.Type) + "|" + strings.Join(params, ":")
}

// Folder returns the destination of a move or label action.
func (a Action) Folder() string {
	if a.Type == ActionLabel {
		if l := a.Parameters["label"]; l != "" {
			return l
		}
	}
	return a.Parameters["folder"]
}

// Describe returns a human-readable description of the action.
func (a Action) Describe() string {
	switch a.Type {
	case ActionMoveTo:
		return "Move to " + orUnknown(a.Folder())
	case ActionLabel:
		return "Label " + orUnknown(a.Folder())
	case ActionMarkRead:
		return "Mark as read"
	case ActionStar:
		return "Star"
	case ActionArchive:
		return "Archive"
	case ActionDelete:
		return "Delete"
	default:
		return string(a.Type)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// DescribeActions joins the descriptions of a list of actions.
func DescribeActions(actions []Action) string {
	if len(actions) == 0 {
		return "Unknown action"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.Describe()
	}
	return strings.Join(parts, " + ")
}

// ActionsKey is the canonical grouping key of a rule's actions. Action order
// does not participate.
func ActionsKey(actions []Action) string {
	keys := make([]string, len(actions))
	for i, a := range actions {
		keys[i] = a.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, "||")
}

// Rule is one user-authored filter as it exists on the remote system.
type Rule struct {
	Name       string      `json:"name"`
	Status     Status      `json:"status"`
	Priority   int         `json:"priority"`
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

// Active reports whether the rule is enabled on the remote system.
func (r Rule) Active() bool {
	return r.Status == StatusEnabled
}

// WithStatus returns a deep copy of r carrying the given status.
func (r Rule) WithStatus(s Status) Rule {
	c := r.Clone()
	c.Status = s
	return c
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	c := r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	for i := range c.Conditions {
		if alts := c.Conditions[i].Alternatives; alts != nil {
			c.Conditions[i].Alternatives = append([]string(nil), alts...)
		}
	}
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = Action{Type: a.Type}
		if a.Parameters != nil {
			c.Actions[i].Parameters = make(map[string]string, len(a.Parameters))
			for k, v := range a.Parameters {
				c.Actions[i].Parameters[k] = v
			}
		}
	}
	return c
}

type ruleJSON Rule

// UnmarshalJSON accepts captures written before the status field existed,
// which only carried an "enabled" boolean.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var aux struct {
		ruleJSON
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Rule(aux.ruleJSON)
	if r.Status == "" {
		r.Status = StatusEnabled
		if aux.Enabled != nil && !*aux.Enabled {
			r.Status = StatusDisabled
		}
	}
	if r.Logic == "" {
		r.Logic = LogicAnd
	}
	return nil
}

// ConditionGroup is one source rule's conditions together with the logic that
// combines them. Consolidation never splits or flattens a group.
type ConditionGroup struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// ConsolidatedRule fires its actions when any of its groups matches.
type ConsolidatedRule struct {
	Name        string           `json:"name"`
	Groups      []ConditionGroup `json:"conditionGroups"`
	Actions     []Action         `json:"actions"`
	Sources     []string         `json:"sourceRules"`
	SourceCount int              `json:"sourceCount"`
}
