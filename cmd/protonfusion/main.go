package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/migadu/protonfusion/config"
	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/metrics"
	"github.com/migadu/protonfusion/sieve"
	"github.com/migadu/protonfusion/snapshot"
)

// Version information, injected at build time.
var (
	commit = "none"
	date   = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"capture", "Record the current rules as a new snapshot", handleCapture},
	{"list", "List snapshots", handleList},
	{"show", "Show the captured rules of a snapshot", handleShow},
	{"verify", "Verify the checksum of a snapshot", handleVerify},
	{"delete", "Delete a snapshot", handleDelete},
	{"view", "Show captured and archived rules merged", handleView},
	{"set-status", "Override the status of a rule in the archive", handleSetStatus},
	{"remove", "Remove a rule from the archive", handleRemove},
	{"analyze", "Report consolidation opportunities", handleAnalyze},
	{"consolidate", "Generate the consolidated Sieve script", handleConsolidate},
	{"merge", "Merge the generated script into an existing one", handleMerge},
	{"promote", "Mark a run's manifest as synced", handlePromote},
	{"diff", "Compare the rules of two snapshots", handleDiff},
	{"restore-plan", "Plan enabling/disabling rules back to a snapshot", handleRestorePlan},
	{"cleanup-plan", "Plan deleting inactive rules", handleCleanupPlan},
	{"test", "Run the generated script against a message", handleTest},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := os.Args[1]
	switch name {
	case "help", "--help", "-h":
		printUsage()
		return
	case "version", "--version":
		fmt.Printf("protonfusion version %s (commit: %s, built at: %s)\n", consts.ToolVersion, commit, date)
		return
	}

	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(ctx, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Unknown command: %s\n\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	var b strings.Builder
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-14s %s\n", cmd.name, cmd.summary)
	}
	fmt.Printf(`ProtonFusion - consolidate mail filter rules into a single Sieve script

Usage:
  protonfusion <command> [options]

Commands:
%s  help           Show this help message

Common options:
  --config string      Path to TOML configuration file (default: protonfusion.toml)
  --snapshots string   Snapshot root directory (overrides config)
  --log-level string   Log level: debug, info, warn, error (overrides config)

Examples:
  protonfusion capture --rules export.json --script current.sieve --account me@example.com
  protonfusion consolidate --exclude "Newsletters" --include-disabled
  protonfusion merge --existing current.sieve --output upload.sieve
  protonfusion promote

Use 'protonfusion <command> --help' for more information about a command.
`, b.String())
}

// commonFlags are registered on every command's flag set.
type commonFlags struct {
	configPath *string
	snapshots  *string
	logLevel   *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", "protonfusion.toml", "Path to TOML configuration file"),
		snapshots:  fs.String("snapshots", "", "Snapshot root directory (overrides config)"),
		logLevel:   fs.String("log-level", "", "Log level (overrides config)"),
	}
}

// env is what a command needs once flags are parsed.
type env struct {
	cfg      config.Config
	store    *snapshot.Store
	compiler *sieve.Compiler
	closeLog func()
}

// setup loads configuration, starts logging and opens the snapshot store.
// Callers must defer env.finish.
func (c *commonFlags) setup(fs *flag.FlagSet) (*env, error) {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(*c.configPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if isFlagSet(fs, "config") {
				return nil, fmt.Errorf("specified configuration file '%s' not found: %w", *c.configPath, err)
			}
		} else {
			return nil, fmt.Errorf("error parsing configuration file '%s': %w", *c.configPath, err)
		}
	}
	cfg.ApplyEnv()
	if isFlagSet(fs, "snapshots") {
		cfg.Snapshots.Dir = *c.snapshots
	}
	if isFlagSet(fs, "log-level") {
		cfg.Logging.Level = *c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := snapshot.NewStore(cfg.Snapshots.Dir)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	return &env{
		cfg:      cfg,
		store:    store,
		compiler: sieve.NewCompiler(cfg.Sieve),
		closeLog: func() {
			if logFile != nil {
				logFile.Close()
			}
		},
	}, nil
}

// finish exports metrics, if configured, and closes the log file.
func (e *env) finish() {
	if e.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics textfile", "path", e.cfg.Metrics.Textfile, "error", err)
		}
	}
	e.closeLog()
}

func parseFlags(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
}

// Helper function to check if a flag was explicitly set
func isFlagSet(fs *flag.FlagSet, name string) bool {
	isSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
