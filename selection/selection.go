// Package selection decides which rules take part in a consolidation run.
//
// Inputs are the rules currently on the remote system (after the archive
// overlay has been applied to the capture), the rules the user archived,
// the content hashes a previous run already pushed live, a set of names to
// exclude and the include-disabled switch. Resolution is deterministic:
// archived rules come first, then current rules, each in input order.
package selection

import (
	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/metrics"
)

type Input struct {
	Current  []filter.Rule
	Archived []filter.Rule
	// SyncedHashes holds the content hashes recorded by the latest promoted
	// manifest. Nil means no run has been synced yet.
	SyncedHashes    map[string]struct{}
	Exclude         map[string]struct{}
	IncludeDisabled bool
}

// Stats accounts for every input rule exactly once:
//
//	len(Current)+len(Archived) == Selected + DisabledSkipped + Excluded + Deprecated + Superseded
//
// and Selected is split into active current rules, DisabledIncluded and
// ArchivedIncluded.
type Stats struct {
	Selected         int `json:"selected"`
	DisabledSkipped  int `json:"disabledSkipped"`
	DisabledIncluded int `json:"disabledIncluded"`
	ArchivedIncluded int `json:"archivedIncluded"`
	Excluded         int `json:"excluded"`
	Deprecated       int `json:"deprecated"`
	Superseded       int `json:"superseded"`
}

// Total is the number of input rules the stats account for.
func (s Stats) Total() int {
	return s.Selected + s.DisabledSkipped + s.Excluded + s.Deprecated + s.Superseded
}

func (in Input) excluded(name string) bool {
	_, ok := in.Exclude[name]
	return ok
}

func (in Input) synced(r filter.Rule) bool {
	if in.SyncedHashes == nil {
		return false
	}
	_, ok := in.SyncedHashes[r.ContentHash()]
	return ok
}

// Resolve returns the rules to consolidate and the selection statistics.
func Resolve(in Input) ([]filter.Rule, Stats) {
	var stats Stats
	selected := make([]filter.Rule, 0, len(in.Archived)+len(in.Current))

	archivedByName := make(map[string]string, len(in.Archived))
	for _, r := range in.Archived {
		switch {
		case r.Status == filter.StatusDeprecated:
			stats.Deprecated++
		case in.excluded(r.Name):
			stats.Excluded++
		default:
			stats.ArchivedIncluded++
			selected = append(selected, r)
			archivedByName[r.Name] = r.ContentHash()
		}
	}

	for _, r := range in.Current {
		if r.Status == filter.StatusDeprecated {
			stats.Deprecated++
			continue
		}
		if in.excluded(r.Name) {
			stats.Excluded++
			continue
		}
		if hash, ok := archivedByName[r.Name]; ok {
			// The archived version of a rule wins over the live one.
			if hash != r.ContentHash() {
				logger.Warn("Rule name exists in archive with different content, using archived version",
					"name", r.Name, "archived_hash", hash, "current_hash", r.ContentHash())
			}
			stats.Superseded++
			continue
		}

		switch {
		case in.IncludeDisabled:
			if !r.Active() {
				stats.DisabledIncluded++
			}
		case r.Active():
		case in.synced(r):
			stats.DisabledIncluded++
		default:
			stats.DisabledSkipped++
			continue
		}
		selected = append(selected, r)
	}

	stats.Selected = len(selected)
	stats.record()
	logger.Info("Selection resolved",
		"selected", stats.Selected,
		"archived_included", stats.ArchivedIncluded,
		"disabled_included", stats.DisabledIncluded,
		"disabled_skipped", stats.DisabledSkipped,
		"excluded", stats.Excluded,
		"deprecated", stats.Deprecated,
		"superseded", stats.Superseded)
	return selected, stats
}

func (s Stats) record() {
	for outcome, n := range map[string]int{
		"selected":          s.Selected,
		"disabled_skipped":  s.DisabledSkipped,
		"disabled_included": s.DisabledIncluded,
		"archived_included": s.ArchivedIncluded,
		"excluded":          s.Excluded,
		"deprecated":        s.Deprecated,
		"superseded":        s.Superseded,
	} {
		metrics.SelectionRules.WithLabelValues(outcome).Set(float64(n))
	}
}
