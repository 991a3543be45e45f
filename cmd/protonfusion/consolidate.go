package main

// consolidate.go - Command handlers for analysis, consolidation and script output

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/migadu/protonfusion/consolidate"
	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/retry"
	"github.com/migadu/protonfusion/remote"
	"github.com/migadu/protonfusion/selection"
	"github.com/migadu/protonfusion/sieve"
	"github.com/migadu/protonfusion/snapshot"
)

// overlaid loads a capture and applies its archive overlay.
func overlaid(store *snapshot.Store, id string) (*snapshot.Capture, []snapshot.ArchiveEntry, []filter.Rule, []filter.Rule, error) {
	c, err := store.LoadCapture(id)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if !snapshot.VerifyCapture(c) {
		logger.Warn("Continuing with a capture that failed its integrity check", "snapshot", c.ID)
	}
	entries, err := store.LoadArchive(c.ID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	current, archived := selection.Overlay(c.Rules, entries)
	return c, entries, current, archived, nil
}

func handleAnalyze(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	includeDisabled := fs.Bool("include-disabled", false, "Analyze disabled rules as if they were enabled")
	asJSON := fs.Bool("json", false, "Output as JSON")
	parseFlags(fs, args)

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	_, _, current, archived, err := overlaid(e.store, *id)
	if err != nil {
		return err
	}
	synced, err := loadSynced(e.store, *includeDisabled)
	if err != nil {
		return err
	}
	rules := analyzedRules(current, archived, synced, *includeDisabled)

	a := consolidate.Analyze(rules)
	if *asJSON {
		return printJSON(a)
	}

	fmt.Printf("Total rules: %d\nEnabled: %d\nDisabled: %d\n", a.Total, a.Enabled, a.Disabled)
	printCounts("ACTION", a.ActionDistribution)
	printCounts("CONDITION TYPE", a.ConditionDistribution)
	if len(a.Opportunities) == 0 {
		fmt.Println("\nNo consolidation opportunities found.")
		return nil
	}
	printCounts("SAME ACTION", a.Opportunities)
	fmt.Printf("\nPotential reduction: ~%d fewer rules\n", a.PotentialReduction)
	return nil
}

// analyzedRules counts archived rules as enabled, since they always take
// part in consolidation. Disabled rules count as enabled when they were
// synced by the last promoted run, or with includeDisabled.
func analyzedRules(current, archived []filter.Rule, synced map[string]struct{}, includeDisabled bool) []filter.Rule {
	rules := make([]filter.Rule, 0, len(archived)+len(current))
	for _, r := range archived {
		rules = append(rules, r.WithStatus(filter.StatusEnabled))
	}
	for _, r := range current {
		if r.Status == filter.StatusDisabled {
			_, wasSynced := synced[r.ContentHash()]
			if includeDisabled || wasSynced {
				r = r.WithStatus(filter.StatusEnabled)
			}
		}
		rules = append(rules, r)
	}
	return rules
}

// loadSynced returns the hashes of the last promoted manifest. They are not
// needed when every disabled rule is included anyway.
func loadSynced(store *snapshot.Store, includeDisabled bool) (map[string]struct{}, error) {
	if includeDisabled {
		return nil, nil
	}
	synced, err := store.LoadLatestSyncedHashes()
	if err != nil {
		return nil, err
	}
	if synced != nil {
		logger.Info("Including previously synced rules from manifest", "hashes", len(synced))
	}
	return synced, nil
}

func printCounts(title string, counts []consolidate.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tCOUNT\n", title)
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Key, c.Count)
	}
	w.Flush()
}

func handleConsolidate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	output := fs.String("output", "", "Also write the script to this path")
	includeDisabled := fs.Bool("include-disabled", false, "Include every disabled rule")
	argsFrom := fs.String("include-args-from", "", "Reuse the excludes recorded by a previous run in this snapshot")
	var exclude stringList
	fs.Var(&exclude, "exclude", "Exclude a rule by name (repeatable)")

	fs.Usage = func() {
		fmt.Printf(`Generate the consolidated Sieve script (local only, nothing is changed remotely)

Usage:
  protonfusion consolidate [options]

Options:
  --snapshot string            Snapshot id or 'latest' (default: latest)
  --exclude string             Exclude a rule by name (repeatable)
  --include-disabled           Include every disabled rule
  --include-args-from string   Reuse the excludes recorded by a previous run in this snapshot
  --output string              Also write the script to this path

The script, manifest and consolidation arguments are written into the
snapshot directory. Rules that took part are added to the archive.
`)
	}
	parseFlags(fs, args)

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	c, _, current, archived, err := overlaid(e.store, *id)
	if err != nil {
		return err
	}

	excludeSet := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excludeSet[name] = struct{}{}
	}
	if *argsFrom != "" {
		saved, err := e.store.LoadConsolidationArgs(*argsFrom)
		switch {
		case errors.Is(err, consts.ErrArgsNotFound):
			fmt.Printf("No consolidation arguments recorded in %s\n", *argsFrom)
		case err != nil:
			return err
		default:
			for _, name := range saved.Exclude {
				excludeSet[name] = struct{}{}
			}
			fmt.Printf("Loaded arguments from %s: +%d excludes\n", *argsFrom, len(saved.Exclude))
		}
	}

	synced, err := loadSynced(e.store, *includeDisabled)
	if err != nil {
		return err
	}

	selected, stats := selection.Resolve(selection.Input{
		Current:         current,
		Archived:        archived,
		SyncedHashes:    synced,
		Exclude:         excludeSet,
		IncludeDisabled: *includeDisabled,
	})
	rules, report := consolidate.NewEngine().Consolidate(selected)

	script := e.compiler.Render(rules)
	if e.cfg.Sieve.Validate {
		if err := sieve.Validate(script, e.cfg.Sieve.Extensions); err != nil {
			return fmt.Errorf("generated script does not parse: %w", err)
		}
	}
	scriptPath, err := e.store.WriteScript(c.ID, e.cfg.Snapshots.ScriptExtension, script)
	if err != nil {
		return err
	}
	if *output != "" {
		if err := os.WriteFile(*output, []byte(script), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", *output, err)
		}
		scriptPath = *output
	}

	if _, err := e.store.WriteManifest(c.ID, selected, scriptPath); err != nil {
		return err
	}

	sources := make(map[string]struct{})
	for _, cr := range rules {
		for _, name := range cr.Sources {
			sources[name] = struct{}{}
		}
	}
	var processed []filter.Rule
	for _, r := range c.Rules {
		if _, ok := sources[r.Name]; ok {
			processed = append(processed, r)
		}
	}
	added, err := e.store.ArchiveRules(c.ID, processed)
	if err != nil {
		return err
	}

	excludes := make([]string, 0, len(excludeSet))
	for name := range excludeSet {
		excludes = append(excludes, name)
	}
	if _, err := e.store.WriteConsolidationArgs(c.ID, excludes, *includeDisabled); err != nil {
		return err
	}

	fmt.Printf("Consolidation of snapshot %s\n\n", c.ID)
	fmt.Printf("Input rules:        %d\n", stats.Total())
	fmt.Printf("Selected:           %d\n", stats.Selected)
	fmt.Printf("Disabled (skipped): %d\n", stats.DisabledSkipped)
	if stats.DisabledIncluded > 0 {
		fmt.Printf("Disabled (included): %d\n", stats.DisabledIncluded)
	}
	if stats.ArchivedIncluded > 0 {
		fmt.Printf("Archived (included): %d\n", stats.ArchivedIncluded)
	}
	if stats.Excluded > 0 {
		fmt.Printf("Excluded by name:   %d (%s)\n", stats.Excluded, strings.Join(sortedStrings(excludes), ", "))
	}
	if stats.Deprecated > 0 {
		fmt.Printf("Deprecated:         %d\n", stats.Deprecated)
	}
	if stats.Superseded > 0 {
		fmt.Printf("Superseded:         %d\n", stats.Superseded)
	}
	fmt.Printf("Consolidated rules: %d\n", report.ConsolidatedCount)
	fmt.Printf("Reduction:          %.1f%%\n", report.ReductionPercent)
	if added > 0 {
		fmt.Printf("Newly archived:     %d\n", added)
	}
	fmt.Printf("\nScript written to %s\n", scriptPath)
	return nil
}

func sortedStrings(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func handleMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	existingPath := fs.String("existing", "", "Existing remote script (default: the script stored in the capture)")
	output := fs.String("output", "", "Write the merged script here instead of stdout")
	journal := fs.String("journal", "", "Append the upload to this JSON-lines journal")
	parseFlags(fs, args)

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	c, err := e.store.LoadCapture(*id)
	if err != nil {
		return err
	}
	managed, err := e.store.ReadScript(c.ID, e.cfg.Snapshots.ScriptExtension)
	if err != nil {
		if errors.Is(err, consts.ErrScriptNotFound) {
			return fmt.Errorf("%w; run 'consolidate' first", err)
		}
		return err
	}

	existing := c.ForeignScriptText
	if *existingPath != "" {
		src := &remote.FileSource{ScriptPath: *existingPath}
		if existing, err = src.FetchForeignScript(ctx, e.cfg.Sieve.FilterName); err != nil {
			return err
		}
	}

	var merged string
	if *journal != "" {
		f, err := os.OpenFile(*journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open journal %s: %w", *journal, err)
		}
		defer f.Close()
		backoff, err := retry.FromConfig(e.cfg.Sync)
		if err != nil {
			return err
		}
		merged, err = remote.Upload(ctx, remote.NewJournalSyncer(f), e.compiler, managed, existing, e.cfg.Sieve.FilterName, backoff)
		if err != nil {
			return err
		}
	} else {
		merged, err = e.compiler.MergeIntoExisting(managed, existing)
		if err != nil {
			return err
		}
	}

	if e.cfg.Sieve.Validate {
		// The user's own commands may need extensions we do not enable.
		if err := sieve.Validate(merged, e.cfg.Sieve.Extensions); err != nil {
			logger.Warn("Merged script does not validate", "error", err)
		}
	}

	if *output == "" {
		fmt.Print(merged)
		return nil
	}
	if err := os.WriteFile(*output, []byte(merged), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}
	fmt.Printf("Merged script written to %s (%d bytes)\n", *output, len(merged))
	if existing != "" && !strings.Contains(existing, e.cfg.Sieve.SectionBegin) {
		fmt.Println("User rules detected, preserved outside the managed section")
	}
	return nil
}

func handlePromote(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	parseFlags(fs, args)

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	resolved, err := e.store.Resolve(*id)
	if err != nil {
		return err
	}
	if err := e.store.PromoteManifest(resolved); err != nil {
		return err
	}
	fmt.Printf("Manifest of %s marked as synced\n", resolved)
	return nil
}

func handleTest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	messagePath := fs.String("message", "", "RFC 5322 message file (required)")
	scriptPath := fs.String("script", "", "Script to run instead of the snapshot's generated one")
	parseFlags(fs, args)

	if *messagePath == "" {
		fmt.Printf("Error: --message is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	var script string
	if *scriptPath != "" {
		data, err := os.ReadFile(*scriptPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", *scriptPath, err)
		}
		script = string(data)
	} else if script, err = e.store.ReadScript(*id, e.cfg.Snapshots.ScriptExtension); err != nil {
		return err
	}

	f, err := os.Open(*messagePath)
	if err != nil {
		return fmt.Errorf("failed to open message: %w", err)
	}
	defer f.Close()
	sctx, msg, err := sieve.ContextFromMessage(f)
	if err != nil {
		return err
	}

	executor, err := sieve.NewSieveExecutor(script, e.cfg.Sieve.Extensions)
	if err != nil {
		return err
	}
	result, err := executor.Evaluate(ctx, sctx)
	if err != nil {
		return err
	}

	fmt.Printf("From:      %s\n", msg.Sender)
	fmt.Printf("To:        %s\n", strings.Join(msg.Recipients, ", "))
	fmt.Printf("Subject:   %s\n\n", msg.Subject)
	fmt.Printf("Action:    %s\n", result.Action)
	if len(result.Mailboxes) > 0 {
		fmt.Printf("Mailboxes: %s\n", strings.Join(result.Mailboxes, ", "))
	}
	if len(result.Flags) > 0 {
		fmt.Printf("Flags:     %s\n", strings.Join(result.Flags, " "))
	}
	fmt.Printf("Keep:      %t\n", result.Keep)
	return nil
}
