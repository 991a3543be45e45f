package consolidate

import (
	"strings"

	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
)

type bucketKey struct {
	typ    filter.ConditionType
	op     filter.Operator
	header string
}

func keyOf(c filter.Condition) bucketKey {
	k := bucketKey{typ: c.Type, op: c.Operator}
	if c.Type == filter.ConditionHeader {
		k.header = strings.ToLower(c.HeaderName())
	}
	return k
}

// MergeConditions collapses single-condition groups that test the same
// field with the same operator into one group whose value lists every
// alternative. Groups with more than one condition pass through untouched
// and are never merged with anything. Merged groups come first in bucket
// order, followed by the compound groups in their original order.
//
// The transform is idempotent.
func MergeConditions(rules []filter.ConsolidatedRule) []filter.ConsolidatedRule {
	out := make([]filter.ConsolidatedRule, 0, len(rules))
	merged := 0
	for _, cr := range rules {
		if len(cr.Groups) <= 1 {
			out = append(out, cr)
			continue
		}

		var order []bucketKey
		buckets := make(map[bucketKey][]filter.ConditionGroup)
		var compound []filter.ConditionGroup
		for _, g := range cr.Groups {
			if len(g.Conditions) != 1 {
				compound = append(compound, g)
				continue
			}
			k := keyOf(g.Conditions[0])
			if _, ok := buckets[k]; !ok {
				order = append(order, k)
			}
			buckets[k] = append(buckets[k], g)
		}

		groups := make([]filter.ConditionGroup, 0, len(order)+len(compound))
		for _, k := range order {
			b := buckets[k]
			if len(b) == 1 {
				groups = append(groups, b[0])
				continue
			}
			groups = append(groups, mergeBucket(b))
			merged += len(b) - 1
		}
		groups = append(groups, compound...)

		cr.Groups = groups
		out = append(out, cr)
	}

	logger.Debug("Merged compatible conditions", "rules", len(rules), "groups_removed", merged)
	return out
}

// mergeBucket joins the values of single-condition groups sharing a bucket.
// Header conditions keep one "Name:" prefix in front of the alternatives.
// Source values stay literal; only the merge introduces alternatives.
func mergeBucket(b []filter.ConditionGroup) filter.ConditionGroup {
	first := b[0].Conditions[0]
	var values []string
	for _, g := range b {
		c := g.Conditions[0]
		if c.Type == filter.ConditionHeader {
			_, patterns := c.HeaderPatterns()
			values = append(values, patterns...)
			continue
		}
		values = append(values, c.Values()...)
	}

	value := strings.Join(values, filter.ValueSeparator)
	if first.Type == filter.ConditionHeader {
		value = first.HeaderName() + ":" + value
	}
	return filter.ConditionGroup{
		Logic: b[0].Logic,
		Conditions: []filter.Condition{{
			Type:         first.Type,
			Operator:     first.Operator,
			Value:        value,
			Alternatives: values,
		}},
	}
}
