package replicate

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodesync/nodesync/internal/inventory"
)

func newTestCopier(t *testing.T, retries int) (*Copier, string) {
	t.Helper()
	scratchDir := t.TempDir()
	return NewCopier(CopierConfig{
		ScratchDir: scratchDir,
		Retries:    retries,
		RetryDelay: time.Millisecond,
		Logger:     zerolog.Nop(),
	}), scratchDir
}

func planFor(t *testing.T, target *mockStore, source *mockStore, path string) *Plan {
	t.Helper()
	p := newTestPlanner(target, false, source)
	res, plan := p.Classify(context.Background(), inventory.Row{Path: path, Nodes: source.name})
	require.Nil(t, res)
	require.NotNil(t, plan)
	return plan
}

func TestExecute_Copied(t *testing.T) {
	target := newMockStore("nodeC")
	source := newMockStore("nodeA")
	source.put("ns1/reports/2024/q1.ccf", []byte("the payload"))

	copier, scratchDir := newTestCopier(t, 3)
	plan := planFor(t, target, source, "ns1/reports/2024/q1.ccf")

	res, bytes := copier.Execute(context.Background(), plan)

	assert.Equal(t, DecisionCopied, res.Decision)
	assert.Equal(t, []string{"nodeA"}, res.Sources)
	assert.Equal(t, 404, res.ProbeStatus)
	assert.Equal(t, int64(len("the payload")), bytes)

	data, ok := target.get("ns1/reports/2024/q1.ccf")
	require.True(t, ok)
	assert.Equal(t, "the payload", string(data))

	assertScratchEmpty(t, scratchDir)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	target := newMockStore("nodeC")
	target.storeFails = 2
	source := newMockStore("nodeA")
	source.put("ns1/x.ccf", []byte("data"))

	copier, scratchDir := newTestCopier(t, 3)
	plan := planFor(t, target, source, "ns1/x.ccf")

	res, _ := copier.Execute(context.Background(), plan)

	assert.Equal(t, DecisionCopied, res.Decision)
	assert.Equal(t, 3, target.storeCount())
	assertScratchEmpty(t, scratchDir)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	target := newMockStore("nodeC")
	target.storeErr = fmt.Errorf("connection reset")
	source := newMockStore("nodeA")
	source.put("ns1/x.ccf", []byte("data"))

	copier, scratchDir := newTestCopier(t, 2)
	plan := planFor(t, target, source, "ns1/x.ccf")

	res, bytes := copier.Execute(context.Background(), plan)

	assert.Equal(t, DecisionFailed, res.Decision)
	assert.Contains(t, res.Info, "transfer")
	assert.Zero(t, bytes)
	// Retry bound: one initial attempt plus two retries.
	assert.Equal(t, 3, target.storeCount())
	assertScratchEmpty(t, scratchDir)
}

func TestExecute_FetchFailureRetried(t *testing.T) {
	target := newMockStore("nodeC")
	source := newMockStore("nodeA")
	source.fetchErr = fmt.Errorf("read timeout")

	copier, scratchDir := newTestCopier(t, 1)
	source.put("ns1/x.ccf", []byte("data")) // present, but fetch always errors
	plan := planFor(t, target, source, "ns1/x.ccf")

	res, _ := copier.Execute(context.Background(), plan)

	assert.Equal(t, DecisionFailed, res.Decision)
	assert.Empty(t, target.storeCalls)
	assertScratchEmpty(t, scratchDir)
}

// An uploaded-but-unverifiable object is a failure, never a partial success.
func TestExecute_VerifyFailure(t *testing.T) {
	target := newMockStore("nodeC")
	target.dropStores = true // Store succeeds but the object never appears
	source := newMockStore("nodeA")
	source.put("ns1/x.ccf", []byte("data"))

	copier, scratchDir := newTestCopier(t, 0)
	plan := planFor(t, target, source, "ns1/x.ccf")

	res, _ := copier.Execute(context.Background(), plan)

	assert.Equal(t, DecisionFailed, res.Decision)
	assert.Contains(t, res.Info, "post-copy verify")
	assertScratchEmpty(t, scratchDir)
}

func TestExecute_CancelledBetweenRetries(t *testing.T) {
	target := newMockStore("nodeC")
	target.storeErr = fmt.Errorf("connection reset")
	source := newMockStore("nodeA")
	source.put("ns1/x.ccf", []byte("data"))

	scratchDir := t.TempDir()
	copier := NewCopier(CopierConfig{
		ScratchDir: scratchDir,
		Retries:    5,
		RetryDelay: time.Minute, // Cancellation must not wait this out
		Logger:     zerolog.Nop(),
	})
	plan := planFor(t, target, source, "ns1/x.ccf")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, _ := copier.Execute(ctx, plan)

	assert.Equal(t, DecisionFailed, res.Decision)
	assert.Less(t, time.Since(start), 10*time.Second)
	assertScratchEmpty(t, scratchDir)
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must be removed on every exit path")
}
