// nodesync inventories and replicates objects across storage nodes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync/internal/config"
	"github.com/nodesync/nodesync/internal/inventory"
	"github.com/nodesync/nodesync/internal/lister"
	"github.com/nodesync/nodesync/internal/metrics"
	"github.com/nodesync/nodesync/internal/node"
	"github.com/nodesync/nodesync/internal/replicate"
	"github.com/nodesync/nodesync/internal/report"
	"github.com/nodesync/nodesync/pkg/bytesize"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Flag overrides for the config file
	namespaceFlag string
	tokenFlag     string
	outputDirFlag string
	insecureFlag  bool
	rawFlag       bool

	// Replicate flags
	inputFile    string
	targetFlag   string
	sourcesFlag  []string
	nsOverride   string
	dryRunFlag   bool
	workersFlag  int
	retriesFlag  int
	metricsListn string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nodesync",
		Short: "nodesync - multi-node object inventory and replication",
		Long: `nodesync enumerates the objects of independent storage nodes,
aggregates them into a canonical path-to-node-set inventory, and copies
objects between nodes under a strict never-overwrite policy.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "nodesync.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&namespaceFlag, "namespace", "", "override configured namespace")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "override configured auth token")
	rootCmd.PersistentFlags().StringVar(&outputDirFlag, "output-dir", "", "override configured output directory")
	rootCmd.PersistentFlags().BoolVar(&insecureFlag, "insecure", false, "skip TLS certificate verification")
	rootCmd.PersistentFlags().BoolVar(&rawFlag, "debug-raw", false, "capture raw listing responses in the output directory")

	listCmd := &cobra.Command{
		Use:   "list <node>",
		Short: "Enumerate one node and write its raw path list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), args[0])
		},
	}

	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Enumerate all nodes and write the merged inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(cmd.Context())
		},
	}

	replicateCmd := &cobra.Command{
		Use:   "replicate",
		Short: "Plan and execute object copies onto the target node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(cmd.Context())
		},
	}
	replicateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "path/nodes TSV input (default: live inventory pass)")
	replicateCmd.Flags().StringVar(&targetFlag, "target", "", "override configured target node")
	replicateCmd.Flags().StringSliceVar(&sourcesFlag, "source", nil, "override configured source allow-list")
	replicateCmd.Flags().StringVar(&nsOverride, "namespace-override", "", "override destination namespace")
	replicateCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "classify only, mutate nothing")
	replicateCmd.Flags().IntVar(&workersFlag, "workers", 0, "override configured worker count")
	replicateCmd.Flags().IntVar(&retriesFlag, "retries", -1, "override configured copy retry bound")
	replicateCmd.Flags().StringVar(&metricsListn, "metrics-listen", "", "expose Prometheus metrics on this address during the run")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nodesync %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(listCmd, inventoryCmd, replicateCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig loads the config file, applies flag overrides, sets up logging
// and creates the output directory.
func loadConfig(cmd string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if namespaceFlag != "" {
		cfg.Namespace = namespaceFlag
	}
	if tokenFlag != "" {
		cfg.AuthToken = tokenFlag
	}
	if outputDirFlag != "" {
		cfg.OutputDir = outputDirFlag
	}
	if insecureFlag {
		cfg.InsecureTLS = true
	}
	if rawFlag {
		cfg.RawCapture = true
	}
	if targetFlag != "" {
		cfg.Replicate.Target = targetFlag
	}
	if len(sourcesFlag) > 0 {
		cfg.Replicate.Sources = sourcesFlag
	}
	if nsOverride != "" {
		cfg.Replicate.NamespaceOverride = nsOverride
	}
	if dryRunFlag {
		cfg.Replicate.DryRun = true
	}
	if workersFlag > 0 {
		cfg.Replicate.Workers = workersFlag
	}
	if retriesFlag >= 0 {
		cfg.Replicate.Retries = retriesFlag
	}
	if metricsListn != "" {
		cfg.MetricsListen = metricsListn
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	setupLogging(cfg.OutputDir)
	log.Info().Str("command", cmd).Str("run_id", uuid.New().String()).Msg("Starting nodesync")

	return cfg, nil
}

// setupLogging sends console output to stderr and the free-text run log to
// the output directory.
func setupLogging(outputDir string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFile, err := os.OpenFile(filepath.Join(outputDir, "run.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		log.Warn().Err(err).Msg("Run log unavailable, logging to stderr only")
		return
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr},
		logFile,
	))
}

// newClient builds the HTTP client for one node.
func newClient(cfg *config.Config, name string) (*node.Client, error) {
	baseURL, err := cfg.NodeURL(name)
	if err != nil {
		return nil, err
	}
	rawDir := ""
	if cfg.RawCapture {
		rawDir = cfg.OutputDir
	}
	return node.NewClient(node.Options{
		Name:        name,
		BaseURL:     baseURL,
		AuthToken:   cfg.AuthToken,
		InsecureTLS: cfg.InsecureTLS,
		RateLimit:   cfg.Listing.RateLimit,
		RawDir:      rawDir,
		Logger:      log.Logger,
	}), nil
}

// listNode enumerates one node and writes its raw path list artifact.
func listNode(ctx context.Context, cfg *config.Config, name string, m *metrics.Metrics) (*lister.Result, error) {
	client, err := newClient(cfg, name)
	if err != nil {
		return nil, err
	}

	l := lister.New(client, lister.Config{
		Namespace:     cfg.Namespace,
		ObjectSuffix:  cfg.Listing.ObjectSuffix,
		BatchSize:     cfg.Listing.BatchSize,
		FolderWorkers: cfg.Listing.FolderWorkers,
		Metrics:       m,
		Logger:        log.Logger,
	})

	res, err := l.ListNode(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(cfg.OutputDir, "paths-"+name+".txt"))
	if err != nil {
		return nil, fmt.Errorf("create path list: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := inventory.WritePaths(f, res.Paths); err != nil {
		return nil, fmt.Errorf("write path list: %w", err)
	}
	return res, nil
}

func runList(ctx context.Context, name string) error {
	cfg, err := loadConfig("list")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.HasNode(name) {
		return fmt.Errorf("unknown node: %q", name)
	}

	res, err := listNode(ctx, cfg, name, nil)
	if err != nil {
		return err
	}
	log.Info().Str("node", name).Int("paths", len(res.Paths)).Bool("partial", res.Partial).Msg("Path list written")
	return nil
}

// collectInventory enumerates all configured nodes concurrently and returns
// the aggregated records.
func collectInventory(ctx context.Context, cfg *config.Config, m *metrics.Metrics) ([]inventory.Record, error) {
	var (
		mu       sync.Mutex
		perNode  = make(map[string][]string)
		wg       sync.WaitGroup
		firstErr error
	)

	for _, name := range cfg.NodeNames() {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := listNode(ctx, cfg, name, m)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("list node %s: %w", name, err)
				}
				return
			}
			perNode[res.Node] = res.Paths
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return inventory.Aggregate(perNode), nil
}

func runInventory(ctx context.Context) error {
	cfg, err := loadConfig("inventory")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	records, err := collectInventory(ctx, cfg, nil)
	if err != nil {
		return err
	}

	if err := writeRecords(filepath.Join(cfg.OutputDir, "inventory.tsv"), records); err != nil {
		return err
	}
	multi := inventory.MultiLocation(records)
	if err := writeRecords(filepath.Join(cfg.OutputDir, "multi-location.tsv"), multi); err != nil {
		return err
	}

	log.Info().Int("paths", len(records)).Int("multi_location", len(multi)).Msg("Inventory written")
	return nil
}

func writeRecords(path string, records []inventory.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := inventory.WriteTSV(f, records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func runReplicate(ctx context.Context) error {
	cfg, err := loadConfig("replicate")
	if err != nil {
		return err
	}
	if err := cfg.ValidateReplicate(); err != nil {
		return err
	}

	m := metrics.New()
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	rows, err := replicationRows(ctx, cfg, m)
	if err != nil {
		return err
	}

	target, err := newClient(cfg, cfg.Replicate.Target)
	if err != nil {
		return err
	}
	sources := make(map[string]replicate.ObjectStore, len(cfg.Replicate.Sources))
	for _, name := range cfg.Replicate.Sources {
		client, err := newClient(cfg, name)
		if err != nil {
			return err
		}
		sources[name] = client
	}

	reporter, err := report.New(cfg.OutputDir, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = reporter.Close() }()

	retryDelay, err := cfg.RetryDelay()
	if err != nil {
		return err
	}

	planner := replicate.NewPlanner(replicate.PlannerConfig{
		Target:            target,
		Sources:           sources,
		NamespaceOverride: cfg.Replicate.NamespaceOverride,
		DryRun:            cfg.Replicate.DryRun,
		Logger:            log.Logger,
	})
	copier := replicate.NewCopier(replicate.CopierConfig{
		Retries:    cfg.Replicate.Retries,
		RetryDelay: retryDelay,
		Metrics:    m,
		Logger:     log.Logger,
	})
	runner := replicate.NewRunner(replicate.RunnerConfig{
		Planner:  planner,
		Copier:   copier,
		Reporter: reporter,
		Workers:  cfg.Replicate.Workers,
		Metrics:  m,
		Logger:   log.Logger,
	})

	summary, runErr := runner.Run(ctx, rows)
	reporter.LogCounts()
	log.Info().
		Int("jobs", summary.Jobs).
		Str("bytes_copied", bytesize.Format(summary.BytesCopied)).
		Bool("dry_run", cfg.Replicate.DryRun).
		Msg("Replication run done")

	if runErr != nil {
		// Cancellation is operator-initiated, not a configuration failure.
		log.Warn().Err(runErr).Msg("Run cancelled before all jobs were scheduled")
	}
	return nil
}

// replicationRows loads planner input from the input file when given,
// otherwise from a live inventory pass across all nodes.
func replicationRows(ctx context.Context, cfg *config.Config, m *metrics.Metrics) ([]inventory.Row, error) {
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer func() { _ = f.Close() }()
		rows, err := inventory.ReadRows(f)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		return rows, nil
	}

	records, err := collectInventory(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	return inventory.Rows(records), nil
}
