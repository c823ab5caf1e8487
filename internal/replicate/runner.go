package replicate

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nodesync/nodesync/internal/inventory"
	"github.com/nodesync/nodesync/internal/metrics"
	"github.com/nodesync/nodesync/internal/report"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Planner  *Planner
	Copier   *Copier
	Reporter *report.Reporter
	Workers  int
	Metrics  *metrics.Metrics // Optional
	Logger   zerolog.Logger
}

// RunSummary holds run-end accounting.
type RunSummary struct {
	Jobs        int
	BytesCopied int64
	Counts      map[Decision]int
}

// Runner executes replication jobs over a bounded worker pool. Jobs are
// independent of each other; the only synchronization point is the
// reporter's append.
type Runner struct {
	planner  *Planner
	copier   *Copier
	reporter *report.Reporter
	workers  int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Runner{
		planner:  cfg.Planner,
		copier:   cfg.Copier,
		reporter: cfg.Reporter,
		workers:  cfg.Workers,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// Run drives every row to a terminal decision. No per-job outcome, success
// or failure, terminates the run; cancellation stops scheduling new jobs and
// lets in-flight ones report. The returned error is only ever a context
// error.
func (r *Runner) Run(ctx context.Context, rows []inventory.Row) (*RunSummary, error) {
	summary := &RunSummary{Counts: make(map[Decision]int)}

	results := make(chan jobOutcome, r.workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for out := range results {
			r.reporter.Append(report.Record{
				Path:        out.res.Path,
				Sources:     out.res.Sources,
				Target:      out.res.Target,
				ProbeStatus: out.res.ProbeStatus,
				Decision:    string(out.res.Decision),
				Info:        out.res.Info,
			})
			summary.Jobs++
			summary.BytesCopied += out.bytes
			summary.Counts[out.res.Decision]++
			if r.metrics != nil {
				r.metrics.Jobs.WithLabelValues(string(out.res.Decision)).Inc()
				r.metrics.BytesCopied.Add(float64(out.bytes))
			}
		}
	}()

	g := &errgroup.Group{}
	g.SetLimit(r.workers)

	var cancelled error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		row := row
		g.Go(func() error {
			results <- r.runJob(ctx, row)
			return nil
		})
	}

	_ = g.Wait()
	close(results)
	<-done

	r.logger.Info().
		Int("jobs", summary.Jobs).
		Int64("bytes_copied", summary.BytesCopied).
		Msg("Replication pass finished")

	return summary, cancelled
}

type jobOutcome struct {
	res   *Result
	bytes int64
}

// runJob advances one row through classify and, when cleared, copy.
func (r *Runner) runJob(ctx context.Context, row inventory.Row) jobOutcome {
	if r.metrics != nil {
		r.metrics.JobsActive.Inc()
		defer r.metrics.JobsActive.Dec()
	}

	res, plan := r.planner.Classify(ctx, row)
	if res != nil {
		return jobOutcome{res: res}
	}

	copied, bytes := r.copier.Execute(ctx, plan)
	return jobOutcome{res: copied, bytes: bytes}
}
