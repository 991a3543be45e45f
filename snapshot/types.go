package snapshot

import (
	"time"

	"github.com/migadu/protonfusion/filter"
)

// Counts summarises the rules of a capture.
type Counts struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
}

func countRules(rules []filter.Rule) Counts {
	c := Counts{Total: len(rules)}
	for _, r := range rules {
		if r.Active() {
			c.Enabled++
		}
	}
	c.Disabled = c.Total - c.Enabled
	return c
}

// Capture is the immutable record of the remote rules at one point in time.
type Capture struct {
	ID                string        `json:"-"`
	SchemaVersion     string        `json:"schemaVersion"`
	CreatedAt         time.Time     `json:"createdAt"`
	Counts            Counts        `json:"counts"`
	AccountIdentity   string        `json:"accountIdentity"`
	ToolVersion       string        `json:"toolVersion"`
	Rules             []filter.Rule `json:"rules"`
	ForeignScriptText string        `json:"foreignScriptText"`
	Checksum          string        `json:"checksum"`
}

// ArchiveEntry overrides or extends the captured rules of a snapshot.
type ArchiveEntry struct {
	Rule           filter.Rule `json:"rule"`
	ArchivedAt     time.Time   `json:"archivedAt"`
	SourceSnapshot string      `json:"sourceSnapshot"`
}

func (e ArchiveEntry) ArchivedRule() filter.Rule {
	return e.Rule
}

type archiveFile struct {
	SchemaVersion string         `json:"schemaVersion"`
	Entries       []ArchiveEntry `json:"entries"`
}

// Manifest fingerprints the rules a consolidation run emitted. SyncedAt is
// set only once the generated script is confirmed live.
type Manifest struct {
	CreatedAt    time.Time  `json:"createdAt"`
	FilterHashes []string   `json:"filterHashes"`
	FilterNames  []string   `json:"filterNames"`
	FilterCount  int        `json:"filterCount"`
	ScriptPath   string     `json:"scriptPath"`
	SyncedAt     *time.Time `json:"syncedAt"`
}

// ConsolidationArgs records the selection inputs of a run so it can be
// replayed.
type ConsolidationArgs struct {
	Exclude         []string  `json:"exclude"`
	IncludeDisabled bool      `json:"includeDisabled"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Summary describes one snapshot in a listing.
type Summary struct {
	ID              string `json:"id"`
	CreatedAt       string `json:"createdAt"`
	AccountIdentity string `json:"accountIdentity,omitempty"`
	Total           int    `json:"total"`
	Enabled         int    `json:"enabled"`
	Disabled        int    `json:"disabled"`
	SizeBytes       int64  `json:"sizeBytes"`
	Latest          bool   `json:"latest"`
	HasManifest     bool   `json:"hasManifest"`
	Synced          bool   `json:"synced"`
}
