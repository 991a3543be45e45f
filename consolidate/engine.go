package consolidate

import (
	"time"

	"github.com/migadu/protonfusion/filter"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/metrics"
)

// Report summarises one consolidation run.
type Report struct {
	InputCount        int     `json:"inputCount"`
	ConsolidatedCount int     `json:"consolidatedCount"`
	ReductionPercent  float64 `json:"reductionPercent"`
	// Groups maps an action description to the number of source rules
	// that ended up behind it.
	Groups map[string]int `json:"groups"`
}

// Engine runs the consolidation pipeline.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Consolidate runs group-by-action, merge-compatible-conditions and
// priority ordering over rules. Callers are expected to have run selection
// first; every rule passed in is consolidated regardless of its status.
func (e *Engine) Consolidate(rules []filter.Rule) ([]filter.ConsolidatedRule, Report) {
	start := time.Now()

	consolidated := GroupByAction(rules)
	consolidated = MergeConditions(consolidated)
	consolidated = OrderByPriority(consolidated)

	report := Report{
		InputCount:        len(rules),
		ConsolidatedCount: len(consolidated),
		Groups:            make(map[string]int),
	}
	if len(rules) > 0 {
		report.ReductionPercent = (1 - float64(len(consolidated))/float64(len(rules))) * 100
	}
	for _, cr := range consolidated {
		for _, a := range cr.Actions {
			report.Groups[actionLabel(a)] += cr.SourceCount
		}
	}

	metrics.ConsolidationRunsTotal.Inc()
	metrics.ConsolidationInputRules.Set(float64(report.InputCount))
	metrics.ConsolidationOutputRules.Set(float64(report.ConsolidatedCount))
	metrics.ConsolidationReductionPercent.Set(report.ReductionPercent)
	metrics.ConsolidationDuration.Observe(time.Since(start).Seconds())

	logger.Info("Consolidation complete",
		"input", report.InputCount,
		"consolidated", report.ConsolidatedCount,
		"reduction_percent", report.ReductionPercent)
	return consolidated, report
}

// actionLabel is the action type, with its destination folder when it has one.
func actionLabel(a filter.Action) string {
	label := string(a.Type)
	if folder := a.Folder(); folder != "" {
		label += " (" + folder + ")"
	}
	return label
}
