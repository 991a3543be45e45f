package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/logger"
	"github.com/migadu/protonfusion/pkg/metrics"
	"github.com/migadu/protonfusion/pkg/retry"
	"github.com/migadu/protonfusion/sieve"
)

// Failure records an operation that did not succeed after retries.
type Failure struct {
	Op  Op    `json:"op"`
	Err error `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %q: %v", f.Op.Kind, f.Op.Name, f.Err)
}

// Report is the outcome of Apply.
type Report struct {
	Applied  []Op          `json:"applied"`
	Failed   []Failure     `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Err joins every failure, or returns nil if all operations succeeded.
func (r Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func do(ctx context.Context, s Syncer, op Op) error {
	switch op.Kind {
	case OpEnable:
		return s.Enable(ctx, op.Name)
	case OpDisable:
		return s.Disable(ctx, op.Name)
	case OpDelete:
		return s.Delete(ctx, op.Name)
	default:
		return fmt.Errorf("unsupported operation %q", op.Kind)
	}
}

// Apply runs every operation of the plan, retrying each with backoff. A
// failed operation never stops the remaining ones. Apply returns early only
// when ctx is cancelled; the unprocessed operations are then reported as
// failed.
func Apply(ctx context.Context, s Syncer, plan Plan, backoff retry.BackoffConfig) Report {
	start := time.Now()
	var report Report
	for i, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			for _, rest := range plan.Ops[i:] {
				report.Failed = append(report.Failed, Failure{Op: rest, Err: err})
				metrics.SyncOperationsTotal.WithLabelValues(string(rest.Kind), "cancelled").Inc()
			}
			break
		}

		err := retry.WithRetry(ctx, func() error {
			err := do(ctx, s, op)
			if errors.Is(err, consts.ErrRuleNotFound) {
				return retry.Stop(err)
			}
			return err
		}, backoff)
		if err != nil {
			logger.Error("Remote operation failed", "op", op.Kind, "name", op.Name, "error", err)
			report.Failed = append(report.Failed, Failure{Op: op, Err: err})
			metrics.SyncOperationsTotal.WithLabelValues(string(op.Kind), "failure").Inc()
			continue
		}
		logger.Debug("Remote operation applied", "op", op.Kind, "name", op.Name)
		report.Applied = append(report.Applied, op)
		metrics.SyncOperationsTotal.WithLabelValues(string(op.Kind), "success").Inc()
	}
	report.Duration = time.Since(start)

	logger.Info("Plan applied", "applied", len(report.Applied), "failed", len(report.Failed),
		"not_found", len(plan.NotFound), "already_correct", len(plan.AlreadyCorrect),
		"duration", report.Duration)
	return report
}

// Upload merges the managed section into the existing remote script and
// uploads the result under name. It returns the uploaded script.
func Upload(ctx context.Context, s Syncer, c *sieve.Compiler, managed, existing, name string, backoff retry.BackoffConfig) (string, error) {
	merged, err := c.MergeIntoExisting(managed, existing)
	if err != nil {
		return "", err
	}
	err = retry.WithRetry(ctx, func() error {
		return s.Upload(ctx, merged, name)
	}, backoff)
	if err != nil {
		metrics.SyncOperationsTotal.WithLabelValues(string(OpUpload), "failure").Inc()
		return "", fmt.Errorf("failed to upload script %q: %w", name, err)
	}
	metrics.SyncOperationsTotal.WithLabelValues(string(OpUpload), "success").Inc()
	logger.Info("Script uploaded", "filter", name, "bytes", len(merged))
	return merged, nil
}
