package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/migadu/protonfusion/logger"
	"golang.org/x/text/cases"
)

// RawRule is a rule as exported by the scraper, before normalisation.
type RawRule struct {
	Name       string         `json:"name"`
	Enabled    *bool          `json:"enabled,omitempty"`
	Status     string         `json:"status,omitempty"`
	Priority   int            `json:"priority"`
	Logic      string         `json:"logic"`
	Conditions []RawCondition `json:"conditions"`
	Actions    []RawAction    `json:"actions"`
}

type RawCondition struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type RawAction struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
}

type alias[T any] struct {
	text  string
	value T
}

// Alias tables are ordered: partial matches resolve to the first hit.
var conditionTypeAliases = []alias[ConditionType]{
	{"sender", ConditionSender},
	{"from", ConditionSender},
	{"recipient", ConditionRecipient},
	{"to", ConditionRecipient},
	{"subject", ConditionSubject},
	{"attachments", ConditionAttachments},
	{"has attachment", ConditionAttachments},
	{"header", ConditionHeader},
}

var operatorAliases = []alias[Operator]{
	{"contains", OperatorContains},
	{"is exactly", OperatorIs},
	{"is", OperatorIs},
	{"matches", OperatorMatches},
	{"starts with", OperatorStartsWith},
	{"starts_with", OperatorStartsWith},
	{"ends with", OperatorEndsWith},
	{"ends_with", OperatorEndsWith},
	{"has", OperatorHas},
}

var actionTypeAliases = []alias[ActionType]{
	{"move to trash", ActionDelete},
	{"move to archive", ActionArchive},
	{"move message to", ActionMoveTo},
	{"move to", ActionMoveTo},
	{"move_to", ActionMoveTo},
	{"apply label", ActionLabel},
	{"label", ActionLabel},
	{"mark as read", ActionMarkRead},
	{"mark_read", ActionMarkRead},
	{"star it", ActionStar},
	{"star", ActionStar},
	{"archive", ActionArchive},
	{"permanently delete", ActionDelete},
	{"delete", ActionDelete},
}

// Scraped labels are UI text and get full Unicode case folding.
func lookup[T any](table []alias[T], raw string, fallback T, kind string) T {
	normalized := cases.Fold().String(strings.TrimSpace(raw))
	for _, a := range table {
		if a.text == normalized {
			return a.value
		}
	}
	if normalized != "" {
		for _, a := range table {
			if strings.Contains(normalized, a.text) || strings.Contains(a.text, normalized) {
				return a.value
			}
		}
	}
	logger.Warn("Unknown scraped value, using default", "kind", kind, "value", raw, "default", fallback)
	return fallback
}

func ParseConditionType(raw string) ConditionType {
	return lookup(conditionTypeAliases, raw, ConditionSender, "condition type")
}

func ParseOperator(raw string) Operator {
	return lookup(operatorAliases, raw, OperatorContains, "operator")
}

func ParseActionType(raw string) ActionType {
	return lookup(actionTypeAliases, raw, ActionMoveTo, "action type")
}

// ParseRule normalises one scraped rule.
func ParseRule(raw RawRule) (Rule, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return Rule{}, fmt.Errorf("rule has no name")
	}

	r := Rule{
		Name:     raw.Name,
		Priority: raw.Priority,
		Logic:    LogicAnd,
		Status:   StatusEnabled,
	}
	if strings.EqualFold(strings.TrimSpace(raw.Logic), "or") {
		r.Logic = LogicOr
	}

	switch {
	case raw.Status != "":
		st, err := ParseStatus(raw.Status)
		if err != nil {
			return Rule{}, err
		}
		r.Status = st
	case raw.Enabled != nil && !*raw.Enabled:
		r.Status = StatusDisabled
	}

	for _, c := range raw.Conditions {
		r.Conditions = append(r.Conditions, Condition{
			Type:     ParseConditionType(c.Type),
			Operator: ParseOperator(c.Operator),
			Value:    c.Value,
		})
	}
	for _, a := range raw.Actions {
		action := Action{Type: ParseActionType(a.Type)}
		if len(a.Parameters) > 0 {
			action.Parameters = make(map[string]string, len(a.Parameters))
			for k, v := range a.Parameters {
				action.Parameters[k] = v
			}
		}
		r.Actions = append(r.Actions, action)
	}
	return r, nil
}

// ParseScraped normalises a scraper export. Rules that cannot be parsed are
// logged and skipped.
func ParseScraped(raws []RawRule) []Rule {
	parsed := make([]Rule, 0, len(raws))
	for _, raw := range raws {
		r, err := ParseRule(raw)
		if err != nil {
			logger.Warn("Failed to parse rule", "name", raw.Name, "error", err)
			continue
		}
		parsed = append(parsed, r)
	}
	logger.Info("Parsed scraped rules", "parsed", len(parsed), "total", len(raws))
	return parsed
}

// DecodeScraped reads a scraper export: a JSON array of rules.
func DecodeScraped(data []byte) ([]Rule, error) {
	var raws []RawRule
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decoding scraped rules: %w", err)
	}
	return ParseScraped(raws), nil
}
