// Package report provides the append-only run report shared by all
// replication workers.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// summaryHeader is the first line of the run summary artifact.
const summaryHeader = "path\tsource_nodes\ttarget_node\ttarget_probe_status\tdecision\tinfo"

// Record is one job outcome appended to the run summary.
type Record struct {
	Path        string
	Sources     []string // Declared source nodes; the resolved source when a copy ran
	Target      string
	ProbeStatus int // Target pre-check probe status, 0 when the probe never ran
	Decision    string
	Info        string
}

// Reporter appends job outcomes to the run summary. Writes are line-atomic:
// each record is a single Write call under the lock, so the file is safe to
// tail during a run and every line is valid at any cancellation point.
type Reporter struct {
	mu      sync.Mutex
	f       *os.File
	counts  map[string]int
	records int
	logger  zerolog.Logger
}

// New creates the run summary file in dir, truncating any previous one.
func New(dir string, logger zerolog.Logger) (*Reporter, error) {
	path := filepath.Join(dir, "run-summary.tsv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create run summary: %w", err)
	}
	if _, err := f.WriteString(summaryHeader + "\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write summary header: %w", err)
	}
	return &Reporter{
		f:      f,
		counts: make(map[string]int),
		logger: logger.With().Str("component", "report").Logger(),
	}, nil
}

// Append writes one record. A write failure is logged, never propagated:
// losing a report line must not fail the job it describes.
func (r *Reporter) Append(rec Record) {
	probe := "-"
	if rec.ProbeStatus != 0 {
		probe = fmt.Sprintf("%d", rec.ProbeStatus)
	}
	info := rec.Info
	if info == "" {
		info = "OK"
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\n",
		rec.Path, strings.Join(rec.Sources, ","), rec.Target, probe, rec.Decision, sanitize(info))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.WriteString(line); err != nil {
		r.logger.Error().Err(err).Str("path", rec.Path).Msg("Failed to append summary record")
	}
	r.counts[rec.Decision]++
	r.records++
}

// Counts returns per-decision totals accumulated so far.
func (r *Reporter) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Total returns the number of appended records.
func (r *Reporter) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// LogCounts emits the run-end per-decision totals.
func (r *Reporter) LogCounts() {
	counts := r.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev := r.logger.Info().Int("total", r.Total())
	for _, k := range keys {
		ev = ev.Int(k, counts[k])
	}
	ev.Msg("Run complete")
}

// Close flushes and closes the summary file.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// sanitize keeps the free-text info column on one line.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
