package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Syncer applies changes to the remote system. Implementations return an
// error wrapping consts.ErrRuleNotFound when the named rule does not exist;
// such failures are not retried.
type Syncer interface {
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	Upload(ctx context.Context, script, name string) error
}

// JournalEntry is one line written by JournalSyncer.
type JournalEntry struct {
	Time   time.Time `json:"time"`
	Op     OpKind    `json:"op"`
	Name   string    `json:"name"`
	Script string    `json:"script,omitempty"`
}

// JournalSyncer records every operation as a JSON line instead of performing
// it, so a plan can be reviewed or replayed by an external tool.
type JournalSyncer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewJournalSyncer(w io.Writer) *JournalSyncer {
	return &JournalSyncer{w: w, now: time.Now}
}

func (j *JournalSyncer) write(ctx context.Context, e JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Time = j.now().UTC()
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	if _, err := j.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

func (j *JournalSyncer) Enable(ctx context.Context, name string) error {
	return j.write(ctx, JournalEntry{Op: OpEnable, Name: name})
}

func (j *JournalSyncer) Disable(ctx context.Context, name string) error {
	return j.write(ctx, JournalEntry{Op: OpDisable, Name: name})
}

func (j *JournalSyncer) Delete(ctx context.Context, name string) error {
	return j.write(ctx, JournalEntry{Op: OpDelete, Name: name})
}

func (j *JournalSyncer) Upload(ctx context.Context, script, name string) error {
	return j.write(ctx, JournalEntry{Op: OpUpload, Name: name, Script: script})
}
