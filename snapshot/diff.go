package snapshot

import (
	"sort"

	"github.com/migadu/protonfusion/filter"
)

// Change pairs the two versions of a rule that share a name.
type Change struct {
	Old filter.Rule `json:"old"`
	New filter.Rule `json:"new"`
}

// DiffResult compares two rule sets by name. Every list is sorted by name.
type DiffResult struct {
	Added        []filter.Rule `json:"added"`
	Removed      []filter.Rule `json:"removed"`
	Modified     []Change      `json:"modified"`
	StateChanged []Change      `json:"stateChanged"`
	Unchanged    int           `json:"unchanged"`
}

type DiffSummary struct {
	Added        int `json:"added"`
	Removed      int `json:"removed"`
	Modified     int `json:"modified"`
	StateChanged int `json:"stateChanged"`
	Unchanged    int `json:"unchanged"`
	TotalChanges int `json:"totalChanges"`
}

func (d DiffResult) Summary() DiffSummary {
	s := DiffSummary{
		Added:        len(d.Added),
		Removed:      len(d.Removed),
		Modified:     len(d.Modified),
		StateChanged: len(d.StateChanged),
		Unchanged:    d.Unchanged,
	}
	s.TotalChanges = s.Added + s.Removed + s.Modified + s.StateChanged
	return s
}

// HasChanges reports whether the two sets differ at all.
func (d DiffResult) HasChanges() bool {
	return d.Summary().TotalChanges > 0
}

// Diff compares old and new. A rule whose content and priority are equal but
// whose status differs is reported as a state change; any other difference
// is a modification. When a name repeats, the last occurrence wins.
func Diff(old, new []filter.Rule) DiffResult {
	oldByName := byName(old)
	newByName := byName(new)

	var d DiffResult
	for _, name := range sortedNames(newByName) {
		n := newByName[name]
		o, ok := oldByName[name]
		switch {
		case !ok:
			d.Added = append(d.Added, n)
		case o.ContentHash() != n.ContentHash() || o.Priority != n.Priority:
			d.Modified = append(d.Modified, Change{Old: o, New: n})
		case o.Status != n.Status:
			d.StateChanged = append(d.StateChanged, Change{Old: o, New: n})
		default:
			d.Unchanged++
		}
	}
	for _, name := range sortedNames(oldByName) {
		if _, ok := newByName[name]; !ok {
			d.Removed = append(d.Removed, oldByName[name])
		}
	}
	return d
}

func byName(rules []filter.Rule) map[string]filter.Rule {
	m := make(map[string]filter.Rule, len(rules))
	for _, r := range rules {
		m[r.Name] = r
	}
	return m
}

func sortedNames(m map[string]filter.Rule) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
