// Package snapshot persists rule history: one directory per run holding the
// immutable capture, the mutable archive overlay, the sync manifest, the
// compiled script and the recorded consolidation arguments.
//
// Directory names use consts.SnapshotTimeLayout, so lexicographic order is
// chronological. The "latest" symlink always points at a fully written
// snapshot: it is replaced with a single rename as the last step of
// CreateCapture.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/metrics"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Store struct {
	root string
	now  func() time.Time
}

// NewStore opens the snapshot root, creating it if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root %s: %w", root, err)
	}
	return &Store{root: root, now: time.Now}, nil
}

func (s *Store) Root() string {
	return s.root
}

func record(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SnapshotOperationsTotal.WithLabelValues(op, status).Inc()
}

// Resolve maps "latest" or a snapshot id to an existing snapshot id.
func (s *Store) Resolve(id string) (string, error) {
	if id == "" || id == consts.LatestLink {
		target, err := os.Readlink(filepath.Join(s.root, consts.LatestLink))
		if err != nil {
			return "", fmt.Errorf("%w: no latest snapshot in %s", consts.ErrSnapshotNotFound, s.root)
		}
		id = filepath.Base(target)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: invalid snapshot id %q", consts.ErrSnapshotNotFound, id)
	}
	info, err := os.Stat(filepath.Join(s.root, id))
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", consts.ErrSnapshotNotFound, id)
	}
	return id, nil
}

// Dir returns the directory of a resolved snapshot.
func (s *Store) Dir(id string) (string, error) {
	id, err := s.Resolve(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// snapshotIDs returns every snapshot directory name in chronological order.
func (s *Store) snapshotIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot root %s: %w", s.root, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == consts.LatestLink || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := time.Parse(consts.SnapshotTimeLayout, e.Name()); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Checksum computes the integrity checksum of a capture: SHA-256 over the
// sorted-key JSON serialization of the rules and the foreign script.
func Checksum(rules []filter.Rule, foreignScript string) (string, error) {
	if rules == nil {
		rules = []filter.Rule{}
	}
	raw, err := json.Marshal(struct {
		Rules             []filter.Rule `json:"rules"`
		ForeignScriptText string        `json:"foreignScriptText"`
	}{rules, foreignScript})
	if err != nil {
		return "", fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}

	// Decoding into interface{} turns every object into a map, which
	// encoding/json writes with sorted keys.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}
	var canonical bytes.Buffer
	enc := json.NewEncoder(&canonical)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}

	sum := sha256.Sum256(bytes.TrimRight(canonical.Bytes(), "\n"))
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// CreateCapture writes a new snapshot for rules, carries the archive of the
// previous latest snapshot forward and then moves "latest" to it. A capture
// is never overwritten: a second capture within the same second fails with
// ErrSnapshotExists.
func (s *Store) CreateCapture(rules []filter.Rule, foreignScript, account string) (c *Capture, err error) {
	defer func() { record("create_capture", err) }()

	now := s.now()
	id := now.Format(consts.SnapshotTimeLayout)
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	capturePath := filepath.Join(dir, consts.CaptureFile)
	if _, err := os.Lstat(capturePath); err == nil {
		return nil, fmt.Errorf("%w: %s", consts.ErrSnapshotExists, id)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to check %s: %w", capturePath, err)
	}

	checksum, err := Checksum(rules, foreignScript)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []filter.Rule{}
	}
	c = &Capture{
		ID:                id,
		SchemaVersion:     consts.SchemaVersion,
		CreatedAt:         now.UTC(),
		Counts:            countRules(rules),
		AccountIdentity:   account,
		ToolVersion:       consts.ToolVersion,
		Rules:             rules,
		ForeignScriptText: foreignScript,
		Checksum:          checksum,
	}
	if err := writeJSON(capturePath, c); err != nil {
		return nil, err
	}

	if err := s.carryForward(id); err != nil {
		return nil, err
	}
	if err := s.pointLatest(id); err != nil {
		return nil, err
	}

	logger.Info("Capture created", "snapshot", id, "rules", c.Counts.Total,
		"enabled", c.Counts.Enabled, "disabled", c.Counts.Disabled, "checksum", checksum)
	return c, nil
}

// carryForward copies the archive of the snapshot "latest" points to into
// target. Nothing is copied onto itself or from an empty archive.
func (s *Store) carryForward(target string) error {
	prev, err := s.Resolve(consts.LatestLink)
	if err != nil {
		return nil
	}
	if prev == target {
		logger.Debug("Skipping archive carry-forward onto itself", "snapshot", target)
		return nil
	}
	entries, err := s.LoadArchive(prev)
	if err != nil {
		return fmt.Errorf("carrying archive forward from %s: %w", prev, err)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.WriteArchive(target, entries); err != nil {
		return err
	}
	logger.Info("Archive carried forward", "from", prev, "to", target, "entries", len(entries))
	return nil
}

// pointLatest atomically replaces the "latest" symlink.
func (s *Store) pointLatest(id string) error {
	link := filepath.Join(s.root, consts.LatestLink)
	tmp := filepath.Join(s.root, fmt.Sprintf(".%s-%d.tmp", consts.LatestLink, s.now().UnixNano()))
	if err := os.Symlink(id, tmp); err != nil {
		return fmt.Errorf("failed to create temporary latest link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace latest link: %w", err)
	}
	return nil
}

// LoadCapture reads the capture of a snapshot id or "latest".
func (s *Store) LoadCapture(id string) (c *Capture, err error) {
	defer func() { record("load_capture", err) }()

	id, err = s.Resolve(id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, id, consts.CaptureFile)
	c = &Capture{}
	if err := readJSON(path, c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no capture", consts.ErrSnapshotNotFound, id)
		}
		return nil, err
	}
	c.ID = id
	logger.Debug("Capture loaded", "snapshot", id, "rules", len(c.Rules))
	return c, nil
}

// VerifyCapture recomputes the checksum of a loaded capture. A mismatch is
// logged and reported as false.
func VerifyCapture(c *Capture) bool {
	if c.Checksum == "" {
		logger.Warn("Capture has no checksum", "snapshot", c.ID)
		return false
	}
	computed, err := Checksum(c.Rules, c.ForeignScriptText)
	if err != nil {
		logger.Warn("Failed to compute capture checksum", "snapshot", c.ID, "error", err)
		return false
	}
	if computed != c.Checksum {
		logger.Warn("Capture checksum mismatch", "snapshot", c.ID, "expected", c.Checksum, "computed", computed)
		return false
	}
	return true
}

// ListCaptures summarises every snapshot, oldest first. Snapshots with an
// unreadable capture are logged and skipped.
func (s *Store) ListCaptures() ([]Summary, error) {
	ids, err := s.snapshotIDs()
	if err != nil {
		return nil, err
	}
	latest, _ := s.Resolve(consts.LatestLink)

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		path := filepath.Join(s.root, id, consts.CaptureFile)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Skipping snapshot without readable capture", "snapshot", id, "error", err)
			continue
		}
		if !gjson.ValidBytes(data) {
			logger.Warn("Skipping snapshot with malformed capture", "snapshot", id)
			continue
		}
		fields := gjson.GetManyBytes(data, "createdAt", "accountIdentity", "counts.total", "counts.enabled", "counts.disabled")
		sum := Summary{
			ID:              id,
			CreatedAt:       fields[0].String(),
			AccountIdentity: fields[1].String(),
			Total:           int(fields[2].Int()),
			Enabled:         int(fields[3].Int()),
			Disabled:        int(fields[4].Int()),
			SizeBytes:       int64(len(data)),
			Latest:          id == latest,
		}
		if manifest, err := os.ReadFile(filepath.Join(s.root, id, consts.ManifestFile)); err == nil {
			sum.HasManifest = true
			synced := gjson.GetBytes(manifest, "syncedAt")
			sum.Synced = synced.Exists() && synced.Type != gjson.Null
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// DeleteSnapshot removes a snapshot directory. If it was the latest one,
// "latest" moves to the newest remaining snapshot or is removed.
func (s *Store) DeleteSnapshot(id string) (err error) {
	defer func() { record("delete_snapshot", err) }()

	id, err = s.Resolve(id)
	if err != nil {
		return err
	}
	latest, _ := s.Resolve(consts.LatestLink)
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	logger.Info("Snapshot deleted", "snapshot", id)

	if latest != id {
		return nil
	}
	ids, err := s.snapshotIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		if err := os.Remove(filepath.Join(s.root, consts.LatestLink)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove latest link: %w", err)
		}
		return nil
	}
	return s.pointLatest(ids[len(ids)-1])
}

// LoadArchive returns the archive entries of a snapshot; a snapshot without
// an archive has none.
func (s *Store) LoadArchive(id string) ([]ArchiveEntry, error) {
	id, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	var a archiveFile
	if err := readJSON(filepath.Join(s.root, id, consts.ArchiveFile), &a); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return a.Entries, nil
}

// WriteArchive replaces the archive of a snapshot.
func (s *Store) WriteArchive(id string, entries []ArchiveEntry) (err error) {
	defer func() { record("write_archive", err) }()

	id, err = s.Resolve(id)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []ArchiveEntry{}
	}
	a := archiveFile{SchemaVersion: consts.SchemaVersion, Entries: entries}
	if err := writeJSON(filepath.Join(s.root, id, consts.ArchiveFile), a); err != nil {
		return err
	}
	metrics.ArchiveEntries.Set(float64(len(entries)))
	logger.Debug("Archive written", "snapshot", id, "entries", len(entries))
	return nil
}

// ArchiveRules appends an archived entry for every rule whose content hash
// the archive does not hold yet and returns how many were added.
func (s *Store) ArchiveRules(id string, rules []filter.Rule) (int, error) {
	id, err := s.Resolve(id)
	if err != nil {
		return 0, err
	}
	entries, err := s.LoadArchive(id)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		known[e.Rule.ContentHash()] = struct{}{}
	}

	now := s.now().UTC()
	added := 0
	for _, r := range rules {
		h := r.ContentHash()
		if _, ok := known[h]; ok {
			continue
		}
		known[h] = struct{}{}
		entries = append(entries, ArchiveEntry{
			Rule:           r.WithStatus(filter.StatusArchived),
			ArchivedAt:     now,
			SourceSnapshot: id,
		})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.WriteArchive(id, entries); err != nil {
		return 0, err
	}
	logger.Info("Rules archived", "snapshot", id, "added", added)
	return added, nil
}

// SetStatus overrides the status of the named rule. An existing archive
// entry is updated in place; otherwise a new entry is created from the
// captured rule, leaving the capture untouched. It reports whether a new
// entry was created.
func (s *Store) SetStatus(id, name string, status filter.Status) (bool, error) {
	c, err := s.LoadCapture(id)
	if err != nil {
		return false, err
	}
	entries, err := s.LoadArchive(c.ID)
	if err != nil {
		return false, err
	}

	for i := range entries {
		if entries[i].Rule.Name == name {
			entries[i].Rule.Status = status
			if err := s.WriteArchive(c.ID, entries); err != nil {
				return false, err
			}
			logger.Info("Archive entry updated", "snapshot", c.ID, "name", name, "status", status)
			return false, nil
		}
	}

	for _, r := range c.Rules {
		if r.Name != name {
			continue
		}
		entries = append(entries, ArchiveEntry{
			Rule:           r.WithStatus(status),
			ArchivedAt:     s.now().UTC(),
			SourceSnapshot: c.ID,
		})
		if err := s.WriteArchive(c.ID, entries); err != nil {
			return false, err
		}
		logger.Info("Archive entry created", "snapshot", c.ID, "name", name, "status", status)
		return true, nil
	}
	return false, fmt.Errorf("%w: %q in snapshot %s", consts.ErrRuleNotFound, name, c.ID)
}

// RemoveFromArchive deletes every archive entry with the given name and
// returns how many were removed. Captured rules cannot be removed.
func (s *Store) RemoveFromArchive(id, name string) (int, error) {
	c, err := s.LoadCapture(id)
	if err != nil {
		return 0, err
	}
	entries, err := s.LoadArchive(c.ID)
	if err != nil {
		return 0, err
	}

	kept := entries[:0:0]
	for _, e := range entries {
		if e.Rule.Name != name {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		for _, r := range c.Rules {
			if r.Name == name {
				return 0, fmt.Errorf("%w: %q exists only in the immutable capture, set its status to deprecated instead",
					consts.ErrRuleNotFound, name)
			}
		}
		return 0, fmt.Errorf("%w: %q in snapshot %s", consts.ErrRuleNotFound, name, c.ID)
	}
	if err := s.WriteArchive(c.ID, kept); err != nil {
		return 0, err
	}
	logger.Info("Archive entries removed", "snapshot", c.ID, "name", name, "removed", removed)
	return removed, nil
}

// WriteManifest records the fingerprint of the rules a run emitted.
func (s *Store) WriteManifest(id string, processed []filter.Rule, scriptPath string) (m *Manifest, err error) {
	defer func() { record("write_manifest", err) }()

	id, err = s.Resolve(id)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]struct{}, len(processed))
	names := make(map[string]struct{}, len(processed))
	for _, r := range processed {
		hashes[r.ContentHash()] = struct{}{}
		names[r.Name] = struct{}{}
	}
	m = &Manifest{
		CreatedAt:    s.now().UTC(),
		FilterHashes: sortedKeys(hashes),
		FilterNames:  sortedKeys(names),
		FilterCount:  len(processed),
		ScriptPath:   scriptPath,
	}
	if err := writeJSON(filepath.Join(s.root, id, consts.ManifestFile), m); err != nil {
		return nil, err
	}
	logger.Info("Manifest written", "snapshot", id, "rules", m.FilterCount, "script", scriptPath)
	return m, nil
}

// LoadManifest reads the manifest of a snapshot.
func (s *Store) LoadManifest(id string) (*Manifest, error) {
	id, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := readJSON(filepath.Join(s.root, id, consts.ManifestFile), m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", consts.ErrManifestNotFound, id)
		}
		return nil, err
	}
	return m, nil
}

// PromoteManifest marks the manifest of a snapshot as synced. Call it only
// after the remote upload has been confirmed.
func (s *Store) PromoteManifest(id string) (err error) {
	defer func() { record("promote_manifest", err) }()

	id, err = s.Resolve(id)
	if err != nil {
		return err
	}
	path := filepath.Join(s.root, id, consts.ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", consts.ErrManifestNotFound, id)
		}
		return fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: %s", consts.ErrMalformedState, path)
	}
	updated, err := sjson.SetBytes(data, "syncedAt", s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}
	if err := writeFileAtomic(path, updated); err != nil {
		return err
	}
	logger.Info("Manifest promoted", "snapshot", id)
	return nil
}

// LoadLatestSyncedHashes returns the content hashes of the newest manifest
// that was promoted, or nil if no run has been synced.
func (s *Store) LoadLatestSyncedHashes() (map[string]struct{}, error) {
	ids, err := s.snapshotIDs()
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		m, err := s.LoadManifest(ids[i])
		if errors.Is(err, consts.ErrManifestNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.SyncedAt == nil {
			continue
		}
		hashes := make(map[string]struct{}, len(m.FilterHashes))
		for _, h := range m.FilterHashes {
			hashes[h] = struct{}{}
		}
		logger.Debug("Loaded synced hashes", "snapshot", ids[i], "hashes", len(hashes))
		return hashes, nil
	}
	return nil, nil
}

// ScriptPath returns where the compiled script of a snapshot lives.
func (s *Store) ScriptPath(id, ext string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, consts.ScriptBaseName+"."+ext), nil
}

// WriteScript stores the compiled script of a run and returns its path.
func (s *Store) WriteScript(id, ext, script string) (string, error) {
	path, err := s.ScriptPath(id, ext)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(script)); err != nil {
		return "", err
	}
	metrics.ScriptBytes.Set(float64(len(script)))
	return path, nil
}

func (s *Store) ReadScript(id, ext string) (string, error) {
	path, err := s.ScriptPath(id, ext)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", consts.ErrScriptNotFound, path)
		}
		return "", fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return string(data), nil
}

func (s *Store) WriteConsolidationArgs(id string, exclude []string, includeDisabled bool) (*ConsolidationArgs, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		set[e] = struct{}{}
	}
	args := &ConsolidationArgs{
		Exclude:         sortedKeys(set),
		IncludeDisabled: includeDisabled,
		CreatedAt:       s.now().UTC(),
	}
	if err := writeJSON(filepath.Join(dir, consts.ConsolidationArgsFile), args); err != nil {
		return nil, err
	}
	return args, nil
}

func (s *Store) LoadConsolidationArgs(id string) (*ConsolidationArgs, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	args := &ConsolidationArgs{}
	if err := readJSON(filepath.Join(dir, consts.ConsolidationArgsFile), args); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", consts.ErrArgsNotFound, dir)
		}
		return nil, err
	}
	return args, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", consts.ErrMalformedState, path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", consts.ErrSerializationFailed, path, err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".write-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temporary file %s: %w", tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("failed to move temporary file to %s: %w", path, err)
	}
	return nil
}
