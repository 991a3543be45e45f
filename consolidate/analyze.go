package consolidate

import (
	"sort"

	"github.com/migadu/protonfusion/filter"
)

// Count is one entry of a distribution, ordered by descending count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Analysis struct {
	Total                 int     `json:"totalRules"`
	Enabled               int     `json:"enabled"`
	Disabled              int     `json:"disabled"`
	ActionDistribution    []Count `json:"actionDistribution"`
	ConditionDistribution []Count `json:"conditionDistribution"`
	// Opportunities lists action keys shared by more than one active rule.
	Opportunities      []Count `json:"consolidationOpportunities"`
	PotentialReduction int     `json:"potentialReduction"`
}

// Analyze reports how the active rules are distributed over actions and
// condition types and where consolidation would help, without consolidating.
func Analyze(rules []filter.Rule) Analysis {
	a := Analysis{Total: len(rules)}
	actions := make(map[string]int)
	conditions := make(map[string]int)
	byKey := make(map[string]int)
	keyLabel := make(map[string]string)

	for _, r := range rules {
		if !r.Active() {
			a.Disabled++
			continue
		}
		a.Enabled++
		for _, act := range r.Actions {
			actions[analysisLabel(act)]++
		}
		for _, c := range r.Conditions {
			conditions[string(c.Type)]++
		}
		key := filter.ActionsKey(r.Actions)
		byKey[key]++
		if _, ok := keyLabel[key]; !ok {
			keyLabel[key] = filter.DescribeActions(r.Actions)
		}
	}

	a.ActionDistribution = sortedCounts(actions)
	a.ConditionDistribution = sortedCounts(conditions)

	opportunities := make(map[string]int)
	groups := 0
	for key, n := range byKey {
		groups++
		if n > 1 {
			opportunities[keyLabel[key]] += n
		}
	}
	a.Opportunities = sortedCounts(opportunities)
	a.PotentialReduction = a.Enabled - groups
	return a
}

func analysisLabel(a filter.Action) string {
	label := string(a.Type)
	if folder := a.Folder(); folder != "" {
		label += " -> " + folder
	}
	return label
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
