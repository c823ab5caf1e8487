package replicate_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodesync/nodesync/internal/inventory"
	"github.com/nodesync/nodesync/internal/node"
	"github.com/nodesync/nodesync/internal/replicate"
	"github.com/nodesync/nodesync/internal/report"
	"github.com/nodesync/nodesync/testutil"
)

// End-to-end over HTTP: fake source and target nodes, real clients, real
// planner, copier and reporter.
func TestReplicationPipeline_HTTP(t *testing.T) {
	sourceNode := testutil.NewFakeNode(t, "nodeA")
	sourceNode.PutObject("ns1/reports/2024/q1.ccf", []byte("quarterly data"))
	sourceNode.PutObject("ns1/reports/2024/q2.ccf", []byte("more data"))

	targetNode := testutil.NewFakeNode(t, "nodeC")
	targetNode.PutObject("ns1/reports/2024/q2.ccf", []byte("already replicated"))

	sourceClient := node.NewClient(node.Options{
		Name: "nodeA", BaseURL: sourceNode.URL(), Logger: zerolog.Nop(),
	})
	targetClient := node.NewClient(node.Options{
		Name: "nodeC", BaseURL: targetNode.URL(), Logger: zerolog.Nop(),
	})

	reporter, err := report.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = reporter.Close() }()

	runner := replicate.NewRunner(replicate.RunnerConfig{
		Planner: replicate.NewPlanner(replicate.PlannerConfig{
			Target:  targetClient,
			Sources: map[string]replicate.ObjectStore{"nodeA": sourceClient},
			Logger:  zerolog.Nop(),
		}),
		Copier: replicate.NewCopier(replicate.CopierConfig{
			ScratchDir: t.TempDir(),
			Retries:    1,
			RetryDelay: time.Millisecond,
			Logger:     zerolog.Nop(),
		}),
		Reporter: reporter,
		Workers:  2,
		Logger:   zerolog.Nop(),
	})

	summary, err := runner.Run(context.Background(), []inventory.Row{
		{Path: "ns1/reports/2024/q1.ccf", Nodes: "nodeA"},
		{Path: "ns1/reports/2024/q2.ccf", Nodes: "nodeA"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[replicate.DecisionCopied])
	assert.Equal(t, 1, summary.Counts[replicate.DecisionExists])

	// The copied object arrived byte for byte.
	data, ok := targetNode.Object("ns1/reports/2024/q1.ccf")
	require.True(t, ok)
	assert.Equal(t, "quarterly data", string(data))

	// Never-overwrite over the wire: exactly one PUT, for the copied path.
	assert.Equal(t, []string{"ns1/reports/2024/q1.ccf"}, targetNode.PutPaths)

	// The pre-existing object was left untouched.
	data, _ = targetNode.Object("ns1/reports/2024/q2.ccf")
	assert.Equal(t, "already replicated", string(data))
}

func TestReplicationPipeline_NamespaceOverride(t *testing.T) {
	sourceNode := testutil.NewFakeNode(t, "nodeA")
	sourceNode.PutObject("ns1/f/a.ccf", []byte("payload"))
	targetNode := testutil.NewFakeNode(t, "nodeC")

	sourceClient := node.NewClient(node.Options{
		Name: "nodeA", BaseURL: sourceNode.URL(), Logger: zerolog.Nop(),
	})
	targetClient := node.NewClient(node.Options{
		Name: "nodeC", BaseURL: targetNode.URL(), Logger: zerolog.Nop(),
	})

	reporter, err := report.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = reporter.Close() }()

	runner := replicate.NewRunner(replicate.RunnerConfig{
		Planner: replicate.NewPlanner(replicate.PlannerConfig{
			Target:            targetClient,
			Sources:           map[string]replicate.ObjectStore{"nodeA": sourceClient},
			NamespaceOverride: "ns2",
			Logger:            zerolog.Nop(),
		}),
		Copier: replicate.NewCopier(replicate.CopierConfig{
			ScratchDir: t.TempDir(),
			RetryDelay: time.Millisecond,
			Logger:     zerolog.Nop(),
		}),
		Reporter: reporter,
		Logger:   zerolog.Nop(),
	})

	summary, err := runner.Run(context.Background(), []inventory.Row{
		{Path: "ns1/f/a.ccf", Nodes: "nodeA"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[replicate.DecisionCopied])

	// The relative key is preserved; only the namespace segment changed.
	data, ok := targetNode.Object("ns2/f/a.ccf")
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
	_, wrongPath := targetNode.Object("ns1/f/a.ccf")
	assert.False(t, wrongPath)
}
