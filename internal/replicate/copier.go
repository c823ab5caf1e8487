package replicate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/internal/metrics"
)

// CopierConfig configures a Copier.
type CopierConfig struct {
	ScratchDir string           // Defaults to the OS temp dir
	Retries    int              // Additional attempts after the first failure
	RetryDelay time.Duration    // Fixed delay between attempts
	Metrics    *metrics.Metrics // Optional
	Logger     zerolog.Logger
}

// Copier executes byte-for-byte transfers through a per-job scratch file.
// It shares no mutable state across jobs, so distinct paths copy in
// parallel safely.
type Copier struct {
	scratchDir string
	retries    int
	delay      time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewCopier creates a Copier.
func NewCopier(cfg CopierConfig) *Copier {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Copier{
		scratchDir: cfg.ScratchDir,
		retries:    cfg.Retries,
		delay:      cfg.RetryDelay,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "copier").Logger(),
	}
}

// Execute runs one planned copy to its terminal decision: fetch from the
// source into a scratch file, upload to the target, then re-probe the
// target. Fetch and upload failures are retried up to the configured bound
// with a fixed delay; an uploaded-but-unverifiable object is Failed, never a
// partial success. Returns the bytes transferred for accounting.
func (c *Copier) Execute(ctx context.Context, plan *Plan) (*Result, int64) {
	res := &Result{
		Path:        plan.Job.Path,
		Sources:     []string{plan.Source.Name()},
		Target:      plan.Job.Target,
		ProbeStatus: plan.ProbeStatus,
	}

	var size int64
	var lastErr error
	attempts := c.retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.CopyRetries.Inc()
			}
			select {
			case <-ctx.Done():
				res.Decision = DecisionFailed
				res.Info = fmt.Sprintf("cancelled: %v", ctx.Err())
				return res, 0
			case <-time.After(c.delay):
			}
		}

		size, lastErr = c.transfer(ctx, plan)
		if lastErr == nil {
			break
		}
		c.logger.Warn().
			Err(lastErr).
			Str("path", plan.Job.Path).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Transfer attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		res.Decision = DecisionFailed
		res.Info = fmt.Sprintf("transfer: %v", lastErr)
		return res, 0
	}

	status, err := plan.Target.Probe(ctx, plan.DstPath)
	if err != nil || !probeOK(status) {
		res.Decision = DecisionFailed
		if err != nil {
			res.Info = fmt.Sprintf("post-copy verify: %v", err)
		} else {
			res.Info = fmt.Sprintf("post-copy verify returned %d", status)
		}
		return res, size
	}

	c.logger.Info().
		Str("path", plan.Job.Path).
		Str("source", plan.Source.Name()).
		Str("dest", plan.DstPath).
		Int64("bytes", size).
		Msg("Object copied")

	res.Decision = DecisionCopied
	return res, size
}

// transfer performs one fetch+upload attempt through a scratch file. The
// scratch file is removed on every exit path.
func (c *Copier) transfer(ctx context.Context, plan *Plan) (int64, error) {
	scratch := filepath.Join(c.scratchDir, "nodesync-"+uuid.New().String()+".tmp")
	f, err := os.OpenFile(scratch, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() { _ = os.Remove(scratch) }()

	if err := plan.Source.Fetch(ctx, plan.SrcPath, f); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("fetch from %s: %w", plan.Source.Name(), err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("flush scratch file: %w", err)
	}

	info, err := os.Stat(scratch)
	if err != nil {
		return 0, fmt.Errorf("stat scratch file: %w", err)
	}

	rf, err := os.Open(scratch)
	if err != nil {
		return 0, fmt.Errorf("reopen scratch file: %w", err)
	}
	defer func() { _ = rf.Close() }()

	if err := plan.Target.Store(ctx, plan.DstPath, rf, info.Size()); err != nil {
		return 0, fmt.Errorf("store to %s: %w", plan.Target.Name(), err)
	}
	return info.Size(), nil
}
