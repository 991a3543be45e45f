package main

// snapshots.go - Command handlers for snapshot management

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/remote"
	"github.com/migadu/protonfusion/selection"
	"github.com/migadu/protonfusion/snapshot"
)

func handleCapture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	common := addCommonFlags(fs)
	rulesPath := fs.String("rules", "", "Scraped rules export, a JSON array (required)")
	scriptPath := fs.String("script", "", "Existing remote Sieve script to preserve")
	account := fs.String("account", "", "Account identity recorded in the capture")

	fs.Usage = func() {
		fmt.Printf(`Record the current rules as a new snapshot

Usage:
  protonfusion capture --rules PATH [options]

Options:
  --rules string      Scraped rules export, a JSON array (required)
  --script string     Existing remote Sieve script to preserve
  --account string    Account identity recorded in the capture

The archive of the previous latest snapshot is carried forward.
`)
	}
	parseFlags(fs, args)

	if *rulesPath == "" {
		fmt.Printf("Error: --rules is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	src := &remote.FileSource{RulesPath: *rulesPath, ScriptPath: *scriptPath}
	rules, err := src.FetchCurrentRules(ctx)
	if err != nil {
		return err
	}
	script, err := src.FetchForeignScript(ctx, e.cfg.Sieve.FilterName)
	if err != nil {
		return err
	}

	c, err := e.store.CreateCapture(rules, script, *account)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot %s created: %d rules (%d enabled, %d disabled)\n",
		c.ID, c.Counts.Total, c.Counts.Enabled, c.Counts.Disabled)
	if script != "" {
		fmt.Printf("Existing script preserved (%d bytes)\n", len(script))
	}
	return nil
}

func handleList(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "Output as JSON")
	parseFlags(fs, args)

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	summaries, err := e.store.ListCaptures()
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Printf("No snapshots in %s\n", e.store.Root())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tTOTAL\tENABLED\tDISABLED\tSIZE\tMANIFEST\tLATEST")
	for _, s := range summaries {
		manifest := "-"
		if s.HasManifest {
			manifest = "pending"
			if s.Synced {
				manifest = "synced"
			}
		}
		latest := ""
		if s.Latest {
			latest = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.ID, s.CreatedAt, s.Total, s.Enabled, s.Disabled, s.SizeBytes, manifest, latest)
	}
	return w.Flush()
}

func handleShow(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	asJSON := fs.Bool("json", false, "Output the capture as JSON")
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
	if *asJSON {
		return printJSON(c)
	}

	fmt.Printf("Snapshot:  %s\n", c.ID)
	fmt.Printf("Created:   %s\n", c.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if c.AccountIdentity != "" {
		fmt.Printf("Account:   %s\n", c.AccountIdentity)
	}
	fmt.Printf("Tool:      %s (schema %s)\n", c.ToolVersion, c.SchemaVersion)
	fmt.Printf("Rules:     %d (%d enabled, %d disabled)\n", c.Counts.Total, c.Counts.Enabled, c.Counts.Disabled)
	fmt.Printf("Script:    %d bytes\n", len(c.ForeignScriptText))
	fmt.Printf("Checksum:  %s\n\n", c.Checksum)
	return printRules(c.Rules)
}

func handleVerify(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
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
	if !snapshot.VerifyCapture(c) {
		return fmt.Errorf("snapshot %s failed integrity check", c.ID)
	}
	fmt.Printf("Snapshot %s OK (%s)\n", c.ID, c.Checksum)
	return nil
}

func handleDelete(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", "", "Snapshot id or 'latest' (required)")
	parseFlags(fs, args)

	if *id == "" {
		fmt.Printf("Error: --snapshot is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	resolved, err := e.store.Resolve(*id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteSnapshot(resolved); err != nil {
		return err
	}
	fmt.Printf("Snapshot %s deleted\n", resolved)
	return nil
}

func handleView(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	status := fs.String("status", "", "Only show rules with this status")
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
	entries, err := e.store.LoadArchive(c.ID)
	if err != nil {
		return err
	}
	merged := selection.Merged(c.Rules, entries)

	if *status != "" {
		want, err := filter.ParseStatus(*status)
		if err != nil {
			return err
		}
		kept := merged[:0]
		for _, r := range merged {
			if r.Status == want {
				kept = append(kept, r)
			}
		}
		merged = kept
	}

	counts := make(map[filter.Status]int)
	for _, r := range merged {
		counts[r.Status]++
	}
	fmt.Printf("Snapshot %s: %d rules (%d archive entries)\n", c.ID, len(merged), len(entries))
	parts := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		parts = append(parts, fmt.Sprintf("%s: %d", st, counts[st]))
	}
	fmt.Printf("%s\n\n", strings.Join(parts, "  "))
	return printRules(merged)
}

func handleSetStatus(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	name := fs.String("name", "", "Rule name (required)")
	status := fs.String("status", "", "New status: enabled, disabled, archived, deprecated (required)")
	parseFlags(fs, args)

	if *name == "" || *status == "" {
		fmt.Printf("Error: --name and --status are required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	st, err := filter.ParseStatus(*status)
	if err != nil {
		return err
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	created, err := e.store.SetStatus(*id, *name, st)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created archive entry '%s' -> %s\n", *name, st)
	} else {
		fmt.Printf("Updated archive entry '%s' -> %s\n", *name, st)
	}
	return nil
}

func handleRemove(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot id or 'latest'")
	name := fs.String("name", "", "Rule name (required)")
	parseFlags(fs, args)

	if *name == "" {
		fmt.Printf("Error: --name is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	removed, err := e.store.RemoveFromArchive(*id, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Removed '%s' from archive (%d entries removed)\n", *name, removed)
	return nil
}

func handleDiff(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	common := addCommonFlags(fs)
	from := fs.String("from", "", "Older snapshot id (required)")
	to := fs.String("to", consts.LatestLink, "Newer snapshot id or 'latest'")
	merged := fs.Bool("merged", false, "Compare the archive-merged views instead of the raw captures")
	asJSON := fs.Bool("json", false, "Output as JSON")
	parseFlags(fs, args)

	if *from == "" {
		fmt.Printf("Error: --from is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	load := func(id string) ([]filter.Rule, string, error) {
		c, err := e.store.LoadCapture(id)
		if err != nil {
			return nil, "", err
		}
		if !*merged {
			return c.Rules, c.ID, nil
		}
		entries, err := e.store.LoadArchive(c.ID)
		if err != nil {
			return nil, "", err
		}
		return selection.Merged(c.Rules, entries), c.ID, nil
	}
	oldRules, oldID, err := load(*from)
	if err != nil {
		return err
	}
	newRules, newID, err := load(*to)
	if err != nil {
		return err
	}

	d := snapshot.Diff(oldRules, newRules)
	if *asJSON {
		return printJSON(d)
	}

	fmt.Printf("Diff %s -> %s\n", oldID, newID)
	for _, r := range d.Added {
		fmt.Printf("  + %s\n", r.Name)
	}
	for _, r := range d.Removed {
		fmt.Printf("  - %s\n", r.Name)
	}
	for _, c := range d.Modified {
		fmt.Printf("  ~ %s\n", c.New.Name)
	}
	for _, c := range d.StateChanged {
		fmt.Printf("  * %s: %s -> %s\n", c.New.Name, c.Old.Status, c.New.Status)
	}
	s := d.Summary()
	fmt.Printf("\n%d added, %d removed, %d modified, %d state changes, %d unchanged\n",
		s.Added, s.Removed, s.Modified, s.StateChanged, s.Unchanged)
	return nil
}

func printRules(rules []filter.Rule) error {
	if len(rules) == 0 {
		fmt.Println("No rules.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSTATUS\tCONDITIONS\tACTIONS")
	for i, r := range rules {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Name, r.Status, describeConditions(r), filter.DescribeActions(r.Actions))
	}
	return w.Flush()
}

func describeConditions(r filter.Rule) string {
	if len(r.Conditions) == 0 {
		return "none"
	}
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = fmt.Sprintf("%s %s %q", c.Type, c.Operator, c.Value)
	}
	return strings.Join(parts, " "+strings.ToUpper(string(r.Logic))+" ")
}
