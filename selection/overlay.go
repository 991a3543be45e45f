package selection

import (
	"github.com/migadu/protonfusion/filter"
)

// Entry is the part of an archive entry the overlay needs. It is satisfied
// by snapshot.ArchiveEntry without importing the store.
type Entry interface {
	ArchivedRule() filter.Rule
}

// Overlay resolves the archive overlay against an immutable capture.
//
// An archive entry overrides the captured rule with the same content hash.
// Overrides with status archived are returned in archived (together with
// archive-only entries); overrides with any other status replace the
// captured rule in place, so a deprecated override reaches Resolve as
// deprecated and is dropped there. Captured rules without an override pass
// through unchanged.
func Overlay[E Entry](captured []filter.Rule, entries []E) (current, archived []filter.Rule) {
	overrides := make(map[string]filter.Rule, len(entries))
	for _, e := range entries {
		r := e.ArchivedRule()
		overrides[r.ContentHash()] = r
		if r.Status == filter.StatusArchived {
			archived = append(archived, r)
		}
	}

	current = make([]filter.Rule, 0, len(captured))
	for _, r := range captured {
		o, ok := overrides[r.ContentHash()]
		if !ok {
			current = append(current, r)
			continue
		}
		if o.Status == filter.StatusArchived {
			continue
		}
		current = append(current, o)
	}
	return current, archived
}

// Merged returns the flat overlay view: every archive entry first, then the
// captured rules no entry overrides.
func Merged[E Entry](captured []filter.Rule, entries []E) []filter.Rule {
	seen := make(map[string]struct{}, len(entries)+len(captured))
	merged := make([]filter.Rule, 0, len(entries)+len(captured))
	for _, e := range entries {
		r := e.ArchivedRule()
		merged = append(merged, r)
		seen[r.ContentHash()] = struct{}{}
	}
	for _, r := range captured {
		h := r.ContentHash()
		if _, ok := seen[h]; ok {
			continue
		}
		merged = append(merged, r)
		seen[h] = struct{}{}
	}
	return merged
}
