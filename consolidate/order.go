package consolidate

import (
	"sort"

	"github.com/migadu/protonfusion/filter"
)

// DefaultPriority is used for action types without an entry in
// ActionPriority and for rules without actions.
const DefaultPriority = 10

// ActionPriority ranks actions; lower values are evaluated first so
// destructive and terminal actions run before tagging ones.
var ActionPriority = map[filter.ActionType]int{
	filter.ActionDelete:   0,
	filter.ActionArchive:  1,
	filter.ActionMoveTo:   2,
	filter.ActionLabel:    3,
	filter.ActionMarkRead: 4,
	filter.ActionStar:     5,
}

// Priority is the lowest priority value over the rule's actions.
func Priority(actions []filter.Action) int {
	if len(actions) == 0 {
		return DefaultPriority
	}
	min := DefaultPriority
	for _, a := range actions {
		p, ok := ActionPriority[a.Type]
		if !ok {
			p = DefaultPriority
		}
		if p < min {
			min = p
		}
	}
	return min
}

// OrderByPriority sorts consolidated rules by action priority, then by
// source count descending, then by name. The input slice is not modified.
func OrderByPriority(rules []filter.ConsolidatedRule) []filter.ConsolidatedRule {
	out := append([]filter.ConsolidatedRule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := Priority(out[i].Actions), Priority(out[j].Actions)
		if pi != pj {
			return pi < pj
		}
		if out[i].SourceCount != out[j].SourceCount {
			return out[i].SourceCount > out[j].SourceCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}
