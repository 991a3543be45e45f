package remote

import (
	"sort"

	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
)

type OpKind string

const (
	OpEnable  OpKind = "enable"
	OpDisable OpKind = "disable"
	OpDelete  OpKind = "delete"
	OpUpload  OpKind = "upload"
)

// Op is a single change to one named rule.
type Op struct {
	Kind OpKind `json:"kind"`
	Name string `json:"name"`
}

// Plan lists the operations to apply and the rules that need none.
type Plan struct {
	Ops            []Op     `json:"ops"`
	NotFound       []string `json:"notFound,omitempty"`
	AlreadyCorrect []string `json:"alreadyCorrect,omitempty"`
}

// Count returns how many operations of kind the plan holds.
func (p Plan) Count(kind OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func indexByName(rules []filter.Rule) map[string]filter.Rule {
	m := make(map[string]filter.Rule, len(rules))
	for _, r := range rules {
		m[r.Name] = r
	}
	return m
}

// PlanRestore returns the enable and disable operations that bring current
// back to the active state recorded in captured. Names are processed in
// sorted order; a repeated name uses its last occurrence.
func PlanRestore(captured, current []filter.Rule) Plan {
	want := indexByName(captured)
	have := indexByName(current)

	names := make([]string, 0, len(want))
	for n := range want {
		names = append(names, n)
	}
	sort.Strings(names)

	var p Plan
	for _, name := range names {
		cur, ok := have[name]
		if !ok {
			logger.Warn("Captured rule not found on remote, it may have been deleted", "name", name)
			p.NotFound = append(p.NotFound, name)
			continue
		}
		switch active := want[name].Active(); {
		case active == cur.Active():
			p.AlreadyCorrect = append(p.AlreadyCorrect, name)
		case active:
			p.Ops = append(p.Ops, Op{Kind: OpEnable, Name: name})
		default:
			p.Ops = append(p.Ops, Op{Kind: OpDisable, Name: name})
		}
	}
	return p
}

// PlanCleanup deletes every rule that is not active on the remote system.
func PlanCleanup(current []filter.Rule) Plan {
	var p Plan
	for _, r := range current {
		if !r.Active() {
			p.Ops = append(p.Ops, Op{Kind: OpDelete, Name: r.Name})
		}
	}
	return p
}

// PlanDisableActive disables every active rule, freeing the provider's
// active-filter slots before the consolidated script is uploaded.
func PlanDisableActive(current []filter.Rule) Plan {
	var p Plan
	for _, r := range current {
		if r.Active() {
			p.Ops = append(p.Ops, Op{Kind: OpDisable, Name: r.Name})
		}
	}
	return p
}
