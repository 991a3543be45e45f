package sieve

import (
	"fmt"
	"strings"
)

// span is the byte range of a managed section, from the first byte of the
// begin marker line to the last byte of the end marker line.
type span struct {
	start, end int
}

// findSection locates the first managed section in script.
func (c *Compiler) findSection(script string) (span, bool, error) {
	start, found := -1, false
	offset := 0
	for offset <= len(script) {
		next := strings.IndexByte(script[offset:], '\n')
		lineEnd := len(script)
		if next >= 0 {
			lineEnd = offset + next
		}
		line := strings.TrimRight(script[offset:lineEnd], " \t\r")

		switch {
		case !found && line == c.Begin:
			start, found = offset, true
		case found && line == c.End:
			return span{start: start, end: offset + len(line)}, true, nil
		}

		if next < 0 {
			break
		}
		offset = lineEnd + 1
	}
	if found {
		return span{}, false, ErrUnterminatedSection
	}
	return span{}, false, nil
}

// Extract returns the managed section of script, markers included.
func (c *Compiler) Extract(script string) (string, bool, error) {
	s, ok, err := c.findSection(script)
	if err != nil || !ok {
		return "", false, err
	}
	return script[s.start:s.end], true, nil
}

// MergeIntoExisting installs the managed section of managed into existing.
//
// If existing already holds a managed section it is replaced and every byte
// outside the markers is kept. Otherwise the section is appended after a
// blank line; existing content is never overwritten. Merging the same
// section into its own output returns that output unchanged.
func (c *Compiler) MergeIntoExisting(managed, existing string) (string, error) {
	section, ok, err := c.Extract(managed)
	if err != nil {
		return "", fmt.Errorf("rendered script: %w", err)
	}
	if !ok {
		section = c.Begin + "\n" + strings.TrimRight(managed, "\n") + "\n" + c.End
	}

	s, ok, err := c.findSection(existing)
	if err != nil {
		return "", fmt.Errorf("existing script: %w", err)
	}
	if ok {
		return existing[:s.start] + section + existing[s.end:], nil
	}

	if existing == "" {
		return section + "\n", nil
	}
	sep := "\n"
	if !strings.HasSuffix(existing, "\n") {
		sep = "\n\n"
	}
	return existing + sep + section + "\n", nil
}
