// Package metamirror mirrors AWS resource metadata into a local embedded
// analytical database.
//
// It lists resources across S3, Glue, Athena, SageMaker, Step Functions,
// CloudFormation, and Kinesis, normalizes every listing into a flat,
// consistently typed row shape, and materializes one DuckDB table per
// resource kind. Kinds whose listings carry a per-item timestamp sync
// incrementally using stored watermarks; the rest are rebuilt as full
// snapshots on every run.
//
// # Architecture
//
// The engine is organized around a small set of composable pieces:
//
// 1. Connectors (pkg/connector): one adapter per source API, each translating
// its service's pagination idiom (opaque token, name marker, or
// describe-then-paginate-children) into a uniform record stream.
//
// 2. Pager (pkg/pager): drives every paginated listing with exponential
// backoff, jitter, and token-bucket pacing, so connectors never implement
// retry logic themselves.
//
// 3. Normalizer (pkg/normalize): projects raw records onto declared per-kind
// column sets with strict scalar coercion; nested structures are flattened or
// serialized to JSON.
//
// 4. Store (pkg/store): persists rows into DuckDB with atomic snapshot
// replacement or natural-key upserts, and tracks per-(kind, scope) sync
// watermarks that never move backward.
//
// 5. Controller (pkg/sync): schedules one task per (kind, scope) on a bounded
// worker pool with full failure isolation between tasks.
//
// # Quick Start
//
// Sync Glue job metadata into a local database:
//
//	cfg, _ := config.Load("")
//	awsCfg, _ := awsx.LoadConfig(ctx, cfg.AWS.Profile, cfg.AWS.Region)
//	st, _ := store.Open(cfg.Store.Path)
//	defer st.Close()
//
//	pg := pager.New(pager.Config{RatePerSecond: cfg.Reliability.RatePerSecond})
//	conn, _ := connector.New(resource.KindGlueJob, awsCfg, pg)
//
//	ctrl := sync.NewController(st, map[resource.Kind]connector.Connector{
//	    resource.KindGlueJob: conn,
//	}, sync.Options{TablePrefix: cfg.Store.TablePrefix})
//
//	results := ctrl.Run(ctx, []sync.Request{{Kind: resource.KindGlueJob}})
//
// Or use the CLI:
//
//	metamirror sync --kinds glue-job,glue-job-run --db-path meta.duckdb
package metamirror
