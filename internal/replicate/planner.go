package replicate

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/internal/inventory"
)

// ObjectStore is the object-level surface of one node.
type ObjectStore interface {
	Name() string
	Probe(ctx context.Context, path string) (int, error)
	Fetch(ctx context.Context, path string, w io.Writer) error
	Store(ctx context.Context, path string, r io.Reader, size int64) error
}

// Plan describes a copy the planner cleared for execution.
type Plan struct {
	Job         *Job
	Source      ObjectStore
	Target      ObjectStore
	SrcPath     string
	DstPath     string
	ProbeStatus int // Target probe status observed during classification
}

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	Target            ObjectStore
	Sources           map[string]ObjectStore // Allow-listed source nodes
	NamespaceOverride string
	DryRun            bool
	Logger            zerolog.Logger
}

// Planner classifies replication candidates. Classification is a pure
// function of (row, probe results, config): given unchanged probes it yields
// identical decisions on every rerun.
type Planner struct {
	target   ObjectStore
	sources  map[string]ObjectStore
	override string
	dryRun   bool
	logger   zerolog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{
		target:   cfg.Target,
		sources:  cfg.Sources,
		override: cfg.NamespaceOverride,
		dryRun:   cfg.DryRun,
		logger:   cfg.Logger.With().Str("component", "planner").Logger(),
	}
}

// Classify runs one row through the decision pipeline. It returns either a
// terminal Result or a Plan for the copier; never both. The target existence
// probe runs unconditionally before any source resolution, so an existing
// target object short-circuits to Exists regardless of what the row declares.
func (p *Planner) Classify(ctx context.Context, row inventory.Row) (*Result, *Plan) {
	job, err := ParseJob(row, p.target.Name())
	if err != nil {
		return &Result{
			Path:     row.Path,
			Target:   p.target.Name(),
			Decision: DecisionInvalidFormat,
			Info:     err.Error(),
		}, nil
	}

	res := &Result{
		Path:    job.Path,
		Sources: job.DeclaredNodes,
		Target:  job.Target,
	}

	dstPath := job.DestPath(p.override)
	status, err := p.target.Probe(ctx, dstPath)
	if err != nil {
		// Without a trustworthy probe the never-overwrite invariant cannot
		// be enforced, so the job fails rather than guesses.
		res.Decision = DecisionFailed
		res.Info = fmt.Sprintf("target probe: %v", err)
		return res, nil
	}
	res.ProbeStatus = status

	if probeOK(status) {
		res.Decision = DecisionExists
		return res, nil
	}

	if job.declaresTarget() {
		res.Decision = DecisionTargetListedButMissing
		res.Info = "inventory lists target but probe disagrees"
		return res, nil
	}

	if len(job.DeclaredNodes) > 1 {
		res.Decision = DecisionMultiSource
		res.Info = "ambiguous source, manual resolution required"
		return res, nil
	}

	src := job.DeclaredNodes[0]
	store, ok := p.sources[src]
	if !ok {
		res.Decision = DecisionNotInSources
		res.Info = fmt.Sprintf("source %s not allow-listed", src)
		return res, nil
	}

	srcStatus, err := store.Probe(ctx, job.Path)
	if err != nil || !probeOK(srcStatus) {
		res.Decision = DecisionNotFoundOnSource
		if err != nil {
			res.Info = fmt.Sprintf("source probe: %v", err)
		} else {
			res.Info = fmt.Sprintf("source probe returned %d", srcStatus)
		}
		return res, nil
	}

	if p.dryRun {
		res.Sources = []string{src}
		res.Decision = DecisionWouldCopy
		return res, nil
	}

	p.logger.Debug().
		Str("path", job.Path).
		Str("source", src).
		Str("dest", dstPath).
		Msg("Cleared for copy")

	return nil, &Plan{
		Job:         job,
		Source:      store,
		Target:      p.target,
		SrcPath:     job.Path,
		DstPath:     dstPath,
		ProbeStatus: status,
	}
}

// probeOK reports whether a probe status code means the object exists.
func probeOK(status int) bool {
	return status >= 200 && status <= 299
}
