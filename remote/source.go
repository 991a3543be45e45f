// Package remote talks to the mail provider's filter settings through two
// narrow interfaces: a Source that reads the current rules and a Syncer that
// changes them. The provider-specific implementations live outside this
// module; the file and journal implementations here back the CLI and tests.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
)

// Source reads the rules and the existing script from the remote system.
type Source interface {
	FetchCurrentRules(ctx context.Context) ([]filter.Rule, error)
	FetchForeignScript(ctx context.Context, name string) (string, error)
}

// FileSource reads a scraper export and an optional script from disk.
type FileSource struct {
	RulesPath  string
	ScriptPath string
}

func (s *FileSource) FetchCurrentRules(ctx context.Context) ([]filter.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules export %s: %w", s.RulesPath, err)
	}
	rules, err := filter.DecodeScraped(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.RulesPath, err)
	}
	return rules, nil
}

// FetchForeignScript returns the script text, or "" when no script path is
// set or the file does not exist.
func (s *FileSource) FetchForeignScript(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.ScriptPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.ScriptPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Existing script not found, treating as empty", "path", s.ScriptPath, "filter", name)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", s.ScriptPath, err)
	}
	return string(data), nil
}
