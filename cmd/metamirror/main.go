package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/config"
	"github.com/cloudpivot/metamirror/pkg/connector"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
	"github.com/cloudpivot/metamirror/pkg/store"
	syncctl "github.com/cloudpivot/metamirror/pkg/sync"
)

var version = "0.1.0"

// syncFlags collects everything the sync command accepts on the command line
type syncFlags struct {
	configFile string
	kinds      []string

	profile string
	region  string

	bucket          string
	prefix          string
	catalog         string
	database        string
	workgroup       string
	pipeline        string
	stateMachineARN string
	status          string
	nameContains    string

	dbPath      string
	tablePrefix string

	fullResync bool
	sinceDays  int
	limit      int

	concurrency int
	batchSize   int
	timeout     time.Duration
	logLevel    string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "metamirror",
		Short: "Metamirror - AWS metadata mirror for local analytics",
		Long: `Metamirror extracts resource metadata from AWS services (S3, Glue, Athena,
SageMaker, Step Functions, CloudFormation, Kinesis) and materializes it into a
local embedded DuckDB database, one table per resource kind.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Metamirror v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "kinds",
		Short: "List syncable resource kinds",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available resource kinds:")
			for _, kind := range resource.All() {
				wm := kind.WatermarkColumn()
				if wm == "" {
					wm = "(full listing)"
				}
				fmt.Printf("  %-28s table=%-26s mode=%-8s watermark=%s\n",
					kind.String(), kind.TableName(), kind.Mode(), wm)
			}
		},
	})

	flags := &syncFlags{}
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync AWS metadata into the local database",
		Long: `Sync fetches metadata for the selected resource kinds and materializes it
into the local database. Kinds with a watermark column sync incrementally;
pass --full-resync to rebuild their tables from scratch.

Example:
  metamirror sync --kinds s3-object,glue-job --bucket my-bucket --db-path meta.duckdb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags)
		},
	}

	syncCmd.Flags().StringVar(&flags.configFile, "config", "", "Path to YAML config file (optional)")
	syncCmd.Flags().StringSliceVar(&flags.kinds, "kinds", nil, "Resource kinds to sync (default: all)")

	syncCmd.Flags().StringVar(&flags.profile, "profile", "", "AWS shared-config profile")
	syncCmd.Flags().StringVar(&flags.region, "region", "", "AWS region override")

	syncCmd.Flags().StringVar(&flags.bucket, "bucket", "", "S3 bucket to list objects from (required for s3-object)")
	syncCmd.Flags().StringVar(&flags.prefix, "prefix", "", "Name or key prefix filter")
	syncCmd.Flags().StringVar(&flags.catalog, "catalog", "AwsDataCatalog", "Athena data catalog (for catalog-table)")
	syncCmd.Flags().StringVar(&flags.database, "database", "", "Athena database (required for catalog-table)")
	syncCmd.Flags().StringVar(&flags.workgroup, "workgroup", "", "Athena workgroup for athena-query-error (default: primary)")
	syncCmd.Flags().StringVar(&flags.pipeline, "pipeline", "", "Limit SageMaker pipeline execution sync to one pipeline")
	syncCmd.Flags().StringVar(&flags.stateMachineARN, "state-machine-arn", "", "Limit Step Functions sync to one state machine")
	syncCmd.Flags().StringVar(&flags.status, "status", "", "Status filter where the source supports one")
	syncCmd.Flags().StringVar(&flags.nameContains, "name-contains", "", "Substring name filter where the source supports one")

	syncCmd.Flags().StringVar(&flags.dbPath, "db-path", "", "Path to the local database file")
	syncCmd.Flags().StringVar(&flags.tablePrefix, "table-prefix", "", "Prefix for materialized table names")

	syncCmd.Flags().BoolVar(&flags.fullResync, "full-resync", false, "Ignore watermarks and rebuild tables from scratch")
	syncCmd.Flags().IntVar(&flags.sinceDays, "since-days", 0, "Only fetch records newer than this many days (overrides stored watermarks)")
	syncCmd.Flags().IntVar(&flags.limit, "limit", 0, "Stop each kind after this many records (0 = unlimited)")

	syncCmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Parallel sync tasks (default from config)")
	syncCmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Rows per write batch (default from config)")
	syncCmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Overall sync timeout (default from config)")
	syncCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, flags *syncFlags) error {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, flags, cfg)

	if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "metamirror-cli"))

	kinds, err := selectKinds(flags.kinds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
	defer cancel()

	awsCfg, err := awsx.LoadConfig(ctx, cfg.AWS.Profile, cfg.AWS.Region)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close local store", zap.Error(err))
		}
	}()

	attempts, initial, max, multiplier := cfg.RetryPolicy()
	pg := pager.New(pager.Config{
		Retry: &pager.RetryPolicy{
			MaxAttempts:     attempts,
			InitialDelay:    initial,
			MaxDelay:        max,
			Multiplier:      multiplier,
			RandomizeFactor: 0.25,
		},
		RatePerSecond: cfg.Reliability.RatePerSecond,
		Burst:         cfg.Reliability.Burst,
	})

	connectors := make(map[resource.Kind]connector.Connector, len(kinds))
	for _, kind := range kinds {
		conn, err := connector.New(kind, awsCfg, pg)
		if err != nil {
			return err
		}
		connectors[kind] = conn
	}

	scope := connector.Scope{
		Region:          awsCfg.Region,
		Bucket:          flags.bucket,
		Catalog:         flags.catalog,
		Database:        flags.database,
		Workgroup:       flags.workgroup,
		Pipeline:        flags.pipeline,
		StateMachineARN: flags.stateMachineARN,
	}
	filter := connector.Filter{
		Prefix:       flags.prefix,
		NameContains: flags.nameContains,
		Status:       flags.status,
	}

	var since *time.Time
	if flags.sinceDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, -flags.sinceDays)
		since = &t
	}

	requests := make([]syncctl.Request, 0, len(kinds))
	for _, kind := range kinds {
		requests = append(requests, syncctl.Request{
			Kind:       kind,
			Scope:      scope,
			Filter:     filter,
			FullResync: flags.fullResync,
			Since:      since,
			Limit:      flags.limit,
		})
	}

	ctrl := syncctl.NewController(st, connectors, syncctl.Options{
		Concurrency: cfg.Sync.Concurrency,
		BatchSize:   cfg.Sync.BatchSize,
		TablePrefix: cfg.Store.TablePrefix,
	})

	log.Info("starting sync",
		zap.Int("kinds", len(requests)),
		zap.String("db_path", cfg.Store.Path),
		zap.Int("concurrency", cfg.Sync.Concurrency))
	start := time.Now()

	results := ctrl.Run(ctx, requests)

	failed := 0
	for _, r := range results {
		switch r.Status {
		case syncctl.StatusSuccess:
			fmt.Printf("  %-28s ok      rows=%-7d skipped=%-5d elapsed=%s\n",
				r.Kind.String(), r.RowsWritten, r.RecordsSkipped, r.Elapsed.Round(time.Millisecond))
		case syncctl.StatusCancelled:
			failed++
			fmt.Printf("  %-28s cancelled at stage=%s\n", r.Kind.String(), r.Stage)
		default:
			failed++
			fmt.Printf("  %-28s FAILED  stage=%-12s error=%v\n", r.Kind.String(), r.Stage, r.Err)
		}
	}

	log.Info("sync finished",
		zap.Int("succeeded", len(results)-failed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))

	if failed > 0 {
		return fmt.Errorf("%d of %d sync tasks did not complete", failed, len(results))
	}
	return nil
}

// applyFlagOverrides layers explicitly-set command line flags over the config
func applyFlagOverrides(cmd *cobra.Command, flags *syncFlags, cfg *config.Config) {
	if cmd.Flags().Changed("profile") {
		cfg.AWS.Profile = flags.profile
	}
	if cmd.Flags().Changed("region") {
		cfg.AWS.Region = flags.region
	}
	if cmd.Flags().Changed("db-path") {
		cfg.Store.Path = flags.dbPath
	}
	if cmd.Flags().Changed("table-prefix") {
		cfg.Store.TablePrefix = flags.tablePrefix
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Sync.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Sync.BatchSize = flags.batchSize
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Sync.Timeout = flags.timeout
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Observability.LogLevel = flags.logLevel
	}
}

func selectKinds(names []string) ([]resource.Kind, error) {
	if len(names) == 0 {
		return resource.All(), nil
	}
	kinds := make([]resource.Kind, 0, len(names))
	for _, name := range names {
		kind, err := resource.Parse(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
