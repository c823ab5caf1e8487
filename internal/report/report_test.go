package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReporter(t *testing.T) (*Reporter, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, filepath.Join(dir, "run-summary.tsv")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestReporter_Append(t *testing.T) {
	r, path := newTestReporter(t)

	r.Append(Record{
		Path:        "ns1/reports/2024/q1.ccf",
		Sources:     []string{"nodeA"},
		Target:      "nodeC",
		ProbeStatus: 404,
		Decision:    "copied",
	})

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "path\tsource_nodes\ttarget_node\ttarget_probe_status\tdecision\tinfo", lines[0])
	assert.Equal(t, "ns1/reports/2024/q1.ccf\tnodeA\tnodeC\t404\tcopied\tOK", lines[1])
}

func TestReporter_NoProbeStatus(t *testing.T) {
	r, path := newTestReporter(t)

	r.Append(Record{
		Path:     "ns1/bad.ccf",
		Target:   "nodeC",
		Decision: "invalid_format",
		Info:     "invalid node identifier \"nodeA nodeB\"",
	})

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 6)
	assert.Equal(t, "-", fields[3])
}

func TestReporter_SanitizesInfo(t *testing.T) {
	r, path := newTestReporter(t)

	r.Append(Record{
		Path:     "ns1/x.ccf",
		Target:   "nodeC",
		Decision: "failed",
		Info:     "line one\nline two\twith tab",
	})

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, 5, strings.Count(lines[1], "\t"))
}

func TestReporter_Counts(t *testing.T) {
	r, _ := newTestReporter(t)

	for i := 0; i < 3; i++ {
		r.Append(Record{Path: fmt.Sprintf("ns1/%d", i), Decision: "copied"})
	}
	r.Append(Record{Path: "ns1/x", Decision: "exists"})

	counts := r.Counts()
	assert.Equal(t, 3, counts["copied"])
	assert.Equal(t, 1, counts["exists"])
	assert.Equal(t, 4, r.Total())
}

// Concurrent appends interleave at line granularity only.
func TestReporter_ConcurrentAppends(t *testing.T) {
	r, path := newTestReporter(t)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.Append(Record{
					Path:        fmt.Sprintf("ns1/w%d/obj-%d.ccf", w, i),
					Sources:     []string{"nodeA"},
					Target:      "nodeC",
					ProbeStatus: 404,
					Decision:    "copied",
				})
			}
		}()
	}
	wg.Wait()

	lines := readLines(t, path)
	require.Len(t, lines, workers*perWorker+1)
	for _, line := range lines {
		assert.Equal(t, 5, strings.Count(line, "\t"), "line %q", line)
	}
	assert.Equal(t, workers*perWorker, r.Counts()["copied"])
}
