// Package consolidate reduces a selected rule set to the smallest list of
// consolidated rules with the same matching behaviour.
//
// The pipeline has three stages that must run in order: GroupByAction,
// MergeConditions and OrderByPriority. Every stage keeps each source rule's
// conditions inside its own ConditionGroup, so a compound rule is never
// flattened into its neighbours.
package consolidate

import (
	"fmt"

	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
)

// GroupByAction folds rules with identical actions (type and parameters)
// into one consolidated rule. Groups appear in the order their first member
// appears in rules.
func GroupByAction(rules []filter.Rule) []filter.ConsolidatedRule {
	var order []string
	groups := make(map[string][]filter.Rule)
	for _, r := range rules {
		key := filter.ActionsKey(r.Actions)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]filter.ConsolidatedRule, 0, len(order))
	for _, key := range order {
		members := groups[key]
		cr := filter.ConsolidatedRule{
			Actions:     cloneActions(members[0].Actions),
			SourceCount: len(members),
		}
		for _, r := range members {
			cr.Groups = append(cr.Groups, filter.ConditionGroup{
				Logic:      r.Logic,
				Conditions: append([]filter.Condition(nil), r.Conditions...),
			})
			cr.Sources = append(cr.Sources, r.Name)
		}
		if len(members) == 1 {
			cr.Name = members[0].Name
		} else {
			cr.Name = fmt.Sprintf("%s (consolidated from %d rules)", filter.DescribeActions(cr.Actions), len(members))
		}
		out = append(out, cr)
	}

	logger.Debug("Grouped rules by action", "rules", len(rules), "groups", len(out))
	return out
}

func cloneActions(actions []filter.Action) []filter.Action {
	return filter.Rule{Actions: actions}.Clone().Actions
}
