package main

// plans.go - Command handlers that plan changes to the remote rules

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/pkg/retry"
	"github.com/migadu/protonfusion/remote"
)

type planFlags struct {
	rules   *string
	journal *string
	asJSON  *bool
}

func addPlanFlags(fs *flag.FlagSet) *planFlags {
	return &planFlags{
		rules:   fs.String("rules", "", "Scraped export of the rules currently on the remote system (required)"),
		journal: fs.String("journal", "", "Apply the plan by appending its operations to this JSON-lines journal"),
		asJSON:  fs.Bool("json", false, "Output the plan as JSON"),
	}
}

func (p *planFlags) current(ctx context.Context, fs *flag.FlagSet) []filter.Rule {
	if *p.rules == "" {
		fmt.Printf("Error: --rules is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	rules, err := (&remote.FileSource{RulesPath: *p.rules}).FetchCurrentRules(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return rules
}

// output prints the plan and, with --journal, applies it.
func (p *planFlags) output(ctx context.Context, e *env, plan remote.Plan) error {
	if *p.asJSON {
		if err := printJSON(plan); err != nil {
			return err
		}
	} else {
		for _, op := range plan.Ops {
			fmt.Printf("  %-8s %s\n", op.Kind, op.Name)
		}
		for _, name := range plan.NotFound {
			fmt.Printf("  %-8s %s\n", "missing", name)
		}
		fmt.Printf("\n%d operations, %d already correct, %d not found\n",
			len(plan.Ops), len(plan.AlreadyCorrect), len(plan.NotFound))
	}

	if *p.journal == "" || len(plan.Ops) == 0 {
		return nil
	}
	f, err := os.OpenFile(*p.journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", *p.journal, err)
	}
	defer f.Close()

	backoff, err := retry.FromConfig(e.cfg.Sync)
	if err != nil {
		return err
	}
	report := remote.Apply(ctx, remote.NewJournalSyncer(f), plan, backoff)
	fmt.Printf("Journaled %d operations to %s\n", len(report.Applied), *p.journal)
	return report.Err()
}

func handleRestorePlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore-plan", flag.ExitOnError)
	common := addCommonFlags(fs)
	pf := addPlanFlags(fs)
	id := fs.String("snapshot", consts.LatestLink, "Snapshot whose enabled/disabled state to restore")
	parseFlags(fs, args)

	current := pf.current(ctx, fs)
	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	c, err := e.store.LoadCapture(*id)
	if err != nil {
		return err
	}
	fmt.Printf("Restore plan to snapshot %s\n", c.ID)
	return pf.output(ctx, e, remote.PlanRestore(c.Rules, current))
}

func handleCleanupPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cleanup-plan", flag.ExitOnError)
	common := addCommonFlags(fs)
	pf := addPlanFlags(fs)
	disableActive := fs.Bool("disable-active", false, "Plan disabling every active rule instead of deleting inactive ones")
	parseFlags(fs, args)

	current := pf.current(ctx, fs)
	e, err := common.setup(fs)
	if err != nil {
		return err
	}
	defer e.finish()

	if *disableActive {
		return pf.output(ctx, e, remote.PlanDisableActive(current))
	}

	plan := remote.PlanCleanup(current)
	if len(plan.Ops) == 0 {
		fmt.Println("No inactive rules to clean up.")
		return nil
	}

	// Keep deleted rules available to future consolidations.
	if latest, err := e.store.Resolve(consts.LatestLink); err == nil {
		inactive := make([]filter.Rule, 0, len(plan.Ops))
		for _, r := range current {
			if !r.Active() {
				inactive = append(inactive, r)
			}
		}
		added, err := e.store.ArchiveRules(latest, inactive)
		if err != nil {
			return err
		}
		if added > 0 {
			fmt.Printf("Archived %d rules missing from the archive of %s\n", added, latest)
		}
	}
	return pf.output(ctx, e, plan)
}
