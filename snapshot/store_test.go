package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRule(name string, st filter.Status) filter.Rule {
	return filter.Rule{
		Name:       name,
		Status:     st,
		Logic:      filter.LogicAnd,
		Conditions: []filter.Condition{{Type: filter.ConditionSubject, Operator: filter.OperatorContains, Value: name}},
		Actions:    []filter.Action{{Type: filter.ActionMoveTo, Parameters: map[string]string{"folder": "F-" + name}}},
	}
}

// newTestStore returns a store whose clock advances one second per call.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func frozen(s *Store, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestCreateCaptureEmpty(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, Counts{}, c.Counts)
	assert.NotEmpty(t, c.Checksum)
	assert.Contains(t, c.Checksum, "sha256:")
	assert.Equal(t, consts.SchemaVersion, c.SchemaVersion)

	loaded, err := s.LoadCapture(consts.LatestLink)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
	assert.NotNil(t, loaded.Rules)
	assert.True(t, VerifyCapture(loaded))
}

func TestVerifyCaptureDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture([]filter.Rule{testRule("a", filter.StatusEnabled)}, "keep;\n", "")
	require.NoError(t, err)

	path := filepath.Join(s.Root(), c.ID, consts.CaptureFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["foreignScriptText"] = "discard;\n"
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := s.LoadCapture(c.ID)
	require.NoError(t, err)
	assert.False(t, VerifyCapture(loaded))
}

func TestChecksumIgnoresKeyOrder(t *testing.T) {
	r := testRule("a", filter.StatusEnabled)
	r.Actions[0].Parameters = map[string]string{"z": "1", "a": "2", "folder": "<x>"}
	first, err := Checksum([]filter.Rule{r}, "")
	require.NoError(t, err)
	second, err := Checksum([]filter.Rule{r.Clone()}, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := Checksum([]filter.Rule{r}, "x")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestLatestFollowsNewestCapture(t *testing.T) {
	s := newTestStore(t)
	first, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	second, err := s.CreateCapture([]filter.Rule{testRule("a", filter.StatusEnabled)}, "", "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	target, err := os.Readlink(filepath.Join(s.Root(), consts.LatestLink))
	require.NoError(t, err)
	assert.Equal(t, second.ID, target)

	id, err := s.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

func TestResolveRejectsUnknownAndPaths(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Resolve(consts.LatestLink)
	assert.ErrorIs(t, err, consts.ErrSnapshotNotFound)
	_, err = s.Resolve("../etc")
	assert.ErrorIs(t, err, consts.ErrSnapshotNotFound)
	_, err = s.LoadCapture("2001-01-01_00-00-00")
	assert.ErrorIs(t, err, consts.ErrSnapshotNotFound)
}

func TestArchiveCarriedForward(t *testing.T) {
	s := newTestStore(t)
	first, err := s.CreateCapture([]filter.Rule{testRule("a", filter.StatusEnabled)}, "", "")
	require.NoError(t, err)
	added, err := s.ArchiveRules(first.ID, []filter.Rule{testRule("old", filter.StatusEnabled)})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	second, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	entries, err := s.LoadArchive(second.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "old", entries[0].Rule.Name)
	assert.Equal(t, filter.StatusArchived, entries[0].Rule.Status)
	assert.Equal(t, first.ID, entries[0].SourceSnapshot)
}

func TestSameSecondCaptureIsRejected(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frozen(s, at)

	first, err := s.CreateCapture([]filter.Rule{testRule("one", filter.StatusEnabled)}, "", "")
	require.NoError(t, err)
	_, err = s.WriteManifest(first.ID, []filter.Rule{testRule("one", filter.StatusEnabled)}, "x.sieve")
	require.NoError(t, err)

	_, err = s.CreateCapture([]filter.Rule{testRule("two", filter.StatusEnabled)}, "", "")
	require.ErrorIs(t, err, consts.ErrSnapshotExists)

	loaded, err := s.LoadCapture(first.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "one", loaded.Rules[0].Name)
	assert.Equal(t, first.Checksum, loaded.Checksum)
	assert.True(t, VerifyCapture(loaded))

	m, err := s.LoadManifest(first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, m.FilterNames)

	frozen(s, at.Add(time.Second))
	next, err := s.CreateCapture([]filter.Rule{testRule("two", filter.StatusEnabled)}, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestArchiveRulesSkipsKnownHashes(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	rules := []filter.Rule{testRule("a", filter.StatusEnabled), testRule("a", filter.StatusDisabled)}
	added, err := s.ArchiveRules(c.ID, rules)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	added, err = s.ArchiveRules(c.ID, rules)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestManifestPromotionAndSyncedHashes(t *testing.T) {
	s := newTestStore(t)
	a := testRule("a", filter.StatusEnabled)
	b := testRule("b", filter.StatusDisabled)

	hashes, err := s.LoadLatestSyncedHashes()
	require.NoError(t, err)
	assert.Nil(t, hashes)

	first, err := s.CreateCapture([]filter.Rule{a}, "", "")
	require.NoError(t, err)
	m, err := s.WriteManifest(first.ID, []filter.Rule{a, a}, "x.sieve")
	require.NoError(t, err)
	assert.Equal(t, 2, m.FilterCount)
	assert.Len(t, m.FilterHashes, 1)
	assert.Nil(t, m.SyncedAt)
	require.NoError(t, s.PromoteManifest(first.ID))

	// An unpromoted newer manifest is ignored.
	second, err := s.CreateCapture([]filter.Rule{a, b}, "", "")
	require.NoError(t, err)
	_, err = s.WriteManifest(second.ID, []filter.Rule{a, b}, "y.sieve")
	require.NoError(t, err)

	hashes, err = s.LoadLatestSyncedHashes()
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{a.ContentHash(): {}}, hashes)

	loaded, err := s.LoadManifest(first.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.SyncedAt)
	assert.Equal(t, []string{"a"}, loaded.FilterNames)

	list, err := s.ListCaptures()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Synced)
	assert.False(t, list[1].Synced)
	assert.True(t, list[1].HasManifest)
	assert.True(t, list[1].Latest)
	assert.Equal(t, 1, list[1].Disabled)
}

func TestPromoteWithoutManifest(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	assert.ErrorIs(t, s.PromoteManifest(c.ID), consts.ErrManifestNotFound)
}

func TestMalformedArchive(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), c.ID, consts.ArchiveFile), []byte("{not json"), 0644))

	_, err = s.LoadArchive(c.ID)
	assert.ErrorIs(t, err, consts.ErrMalformedState)
	_, err = s.CreateCapture(nil, "", "")
	assert.ErrorIs(t, err, consts.ErrMalformedState)
}

func TestListSkipsMalformedCapture(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	broken := filepath.Join(s.Root(), "2000-01-01_00-00-00")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, consts.CaptureFile), []byte("]"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "not-a-snapshot"), 0755))

	list, err := s.ListCaptures()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}

func TestSetStatusAndRemove(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture([]filter.Rule{testRule("a", filter.StatusEnabled)}, "", "")
	require.NoError(t, err)

	created, err := s.SetStatus(c.ID, "a", filter.StatusDeprecated)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetStatus(c.ID, "a", filter.StatusArchived)
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := s.LoadArchive(c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filter.StatusArchived, entries[0].Rule.Status)

	loaded, err := s.LoadCapture(c.ID)
	require.NoError(t, err)
	assert.Equal(t, filter.StatusEnabled, loaded.Rules[0].Status)
	assert.True(t, VerifyCapture(loaded))

	_, err = s.SetStatus(c.ID, "missing", filter.StatusArchived)
	assert.ErrorIs(t, err, consts.ErrRuleNotFound)

	removed, err := s.RemoveFromArchive(c.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.RemoveFromArchive(c.ID, "a")
	require.ErrorIs(t, err, consts.ErrRuleNotFound)
	assert.Contains(t, err.Error(), "deprecated")
}

func TestDeleteSnapshotMovesLatest(t *testing.T) {
	s := newTestStore(t)
	first, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)
	second, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSnapshot(consts.LatestLink))
	id, err := s.Resolve(consts.LatestLink)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)
	_, err = s.Resolve(second.ID)
	assert.ErrorIs(t, err, consts.ErrSnapshotNotFound)

	require.NoError(t, s.DeleteSnapshot(first.ID))
	_, err = os.Lstat(filepath.Join(s.Root(), consts.LatestLink))
	assert.True(t, os.IsNotExist(err))
}

func TestScriptAndArgs(t *testing.T) {
	s := newTestStore(t)
	c, err := s.CreateCapture(nil, "", "")
	require.NoError(t, err)

	_, err = s.ReadScript(c.ID, "sieve")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)
	path, err := s.WriteScript(c.ID, "sieve", "keep;\n")
	require.NoError(t, err)
	assert.Equal(t, consts.ScriptBaseName+".sieve", filepath.Base(path))
	script, err := s.ReadScript(consts.LatestLink, "sieve")
	require.NoError(t, err)
	assert.Equal(t, "keep;\n", script)

	_, err = s.LoadConsolidationArgs(c.ID)
	assert.ErrorIs(t, err, consts.ErrArgsNotFound)
	_, err = s.WriteConsolidationArgs(c.ID, []string{"b", "a", "b"}, true)
	require.NoError(t, err)
	args, err := s.LoadConsolidationArgs(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, args.Exclude)
	assert.True(t, args.IncludeDisabled)
}
