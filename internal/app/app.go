// Package app initializes and holds long-lived services, acting as the
// dependency injection container behind every CLI command.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/swdedup/internal/api"
	"github.com/JakeFAU/swdedup/internal/clock/system"
	"github.com/JakeFAU/swdedup/internal/config"
	"github.com/JakeFAU/swdedup/internal/crawler"
	"github.com/JakeFAU/swdedup/internal/detect"
	collyfetcher "github.com/JakeFAU/swdedup/internal/fetcher/colly"
	"github.com/JakeFAU/swdedup/internal/hash/ssdeep"
	uuidgen "github.com/JakeFAU/swdedup/internal/id/uuid"
	"github.com/JakeFAU/swdedup/internal/index"
	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
	"github.com/JakeFAU/swdedup/internal/pipeline"
	"github.com/JakeFAU/swdedup/internal/policy/ratelimit"
	"github.com/JakeFAU/swdedup/internal/storage/gcs"
	"github.com/JakeFAU/swdedup/internal/storage/local"
	"github.com/JakeFAU/swdedup/internal/storage/memory"
	"github.com/JakeFAU/swdedup/internal/storage/postgres"
)

// Stage names reported on the operator server.
const (
	StageCrawl    = "crawl"
	StageDedup    = "dedup"
	StageDetect   = "detect"
	StageDiscover = "discover"
)

// Option customizes App construction.
type Option func(*options)

type options struct {
	gcsOpts []option.ClientOption
}

// WithGCSClientOptions passes extra options to the GCS client, e.g. a custom
// endpoint.
func WithGCSClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOpts = append(o.gcsOpts, opts...) }
}

// App holds the shared services for one CLI invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	ids    *uuidgen.Generator
	board  *api.StageBoard
	server *api.Server
	addr   string

	gcsClient *storage.Client
	mirror    pipeline.ArtifactStore
	reports   *postgres.ReportStore
}

// New builds the App from cfg. Optional services (GCS mirror, Postgres report
// export, operator server) start only when configured, and a failure to start
// any of them fails construction.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		ids:    uuidgen.New(),
		board:  api.NewStageBoard(system.New()),
	}
	metrics.Init()

	if cfg.Storage.GCSBucket != "" {
		client, err := storage.NewClient(ctx, o.gcsOpts...)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		mirror, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.mirror = mirror
		a.logger.Info("mirroring artifacts to gcs",
			zap.String("bucket", cfg.Storage.GCSBucket),
			zap.String("prefix", cfg.Storage.Prefix),
		)
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewReportStore(ctx, postgres.ReportStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init report store: %w", err)
		}
		a.reports = store
		if err := store.EnsureSchema(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.logger.Info("exporting dedup reports to postgres", zap.String("table", cfg.DB.Table))
	}

	if cfg.Server.MetricsAddr != "" {
		checks := map[string]api.Check{}
		if a.reports != nil {
			checks["postgres"] = a.reports.Ping
		}
		a.server = api.NewServer(a.board, checks, a.logger.Named("api"))
		addr, err := a.server.Start(cfg.Server.MetricsAddr)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.addr = addr
	}

	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Board returns the stage board served on /v1/stages.
func (a *App) Board() *api.StageBoard { return a.board }

// ServerAddr returns the operator server's bound address, or "" when it is disabled.
func (a *App) ServerAddr() string { return a.addr }

// Crawl fetches every URL in urls that the index has not resolved yet.
func (a *App) Crawl(ctx context.Context, urls []string) (crawler.Result, error) {
	a.board.Start(StageCrawl)
	res, err := a.crawl(ctx, urls)
	a.board.Finish(StageCrawl, map[string]any{
		"run_id":     res.RunID,
		"candidates": res.Candidates,
		"skipped":    res.Skipped,
		"succeeded":  res.Succeeded,
		"failed":     res.Failed,
		"total":      res.Total,
		"downloaded": humanize.Bytes(uint64(res.Bytes)),
	}, err)
	return res, err
}

func (a *App) crawl(ctx context.Context, urls []string) (crawler.Result, error) {
	cc := a.cfg.Crawler
	idx, err := index.Load(cc.IndexPath)
	if err != nil {
		return crawler.Result{}, fmt.Errorf("load index: %w", err)
	}
	slots, err := local.New(local.Config{BaseDir: cc.OutputDir})
	if err != nil {
		return crawler.Result{}, fmt.Errorf("init slot store: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cc.UserAgent,
		RespectRobots: cc.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodyBytes:  cc.MaxBodyBytes,
	})
	crawlCfg := crawler.Config{
		Workers:      cc.Workers,
		FetchTimeout: a.cfg.FetchTimeout(),
	}
	if cc.PerHostRPS > 0 {
		crawlCfg.Limiter = ratelimit.New(ratelimit.Config{PerHostRPS: cc.PerHostRPS, Burst: cc.PerHostBurst})
	}
	c := crawler.New(fetcher, idx, slots, a.ids, crawlCfg, a.logger.Named("crawler"))
	return c.Run(ctx, urls)
}

// Dedup hashes, compares and clusters the crawled scripts. With dryRun the
// artifacts are computed in memory and nothing is written or exported.
func (a *App) Dedup(ctx context.Context, dryRun bool) (pipeline.Report, error) {
	a.board.Start(StageDedup)
	report, err := a.dedup(ctx, dryRun)
	a.board.Finish(StageDedup, map[string]any{
		"run_id":       report.RunID,
		"dry_run":      dryRun,
		"threshold":    report.Threshold,
		"files":        report.Files,
		"hashed":       len(report.Digests),
		"no_digest":    len(report.NoDigest),
		"pairs":        len(report.Pairs),
		"clusters":     len(report.Clusters),
		"deduplicated": len(report.Deduplicated),
	}, err)
	return report, err
}

func (a *App) dedup(ctx context.Context, dryRun bool) (pipeline.Report, error) {
	sc := a.cfg.Similarity
	deps := pipeline.Deps{
		Digester: ssdeep.New(),
		IDs:      a.ids,
	}
	if dryRun {
		deps.Artifacts = memory.NewBlobStore()
	} else {
		artifacts, err := local.New(local.Config{BaseDir: sc.ArtifactDir})
		if err != nil {
			return pipeline.Report{}, fmt.Errorf("init artifact store: %w", err)
		}
		deps.Artifacts = artifacts
		deps.Mirror = a.mirror
		if a.reports != nil {
			deps.Reports = a.reports
		}
	}
	p, err := pipeline.New(pipeline.Config{
		IndexPath:  a.cfg.Crawler.IndexPath,
		ScriptsDir: a.cfg.Crawler.OutputDir,
		Threshold:  sc.Threshold,
		Workers:    sc.Workers,
	}, deps, a.logger.Named("dedup"))
	if err != nil {
		return pipeline.Report{}, err
	}
	return p.Run(ctx)
}

// Detect scans the deduplicated scripts for push signals and known providers.
func (a *App) Detect(ctx context.Context) (detect.Result, error) {
	a.board.Start(StageDetect)
	res, err := a.detect(ctx)
	s := res.Summary
	a.board.Finish(StageDetect, map[string]any{
		"total":            s.TotalFiles,
		"push_related":     s.PushRelatedFiles,
		"not_push_related": s.NotPushRelatedFiles,
		"with_provider":    s.FilesWithAtLeastOneProvider,
		"missing":          s.MissingFiles,
	}, err)
	return res, err
}

func (a *App) detect(ctx context.Context) (detect.Result, error) {
	out, err := local.New(local.Config{BaseDir: a.cfg.Detect.OutputDir})
	if err != nil {
		return detect.Result{}, fmt.Errorf("init detect output: %w", err)
	}
	return detect.Run(ctx, detect.Config{
		DeduplicatedPath: filepath.Join(a.cfg.Similarity.ArtifactDir, pipeline.DeduplicatedFile),
		ProvidersFile:    a.cfg.Detect.ProvidersFile,
		ScriptsDir:       a.cfg.Crawler.OutputDir,
	}, out, a.logger.Named("detect"))
}

// Discover proposes unknown provider domains from push-related scripts that
// the detect stage matched to no known provider.
func (a *App) Discover(ctx context.Context) (detect.Discovery, error) {
	a.board.Start(StageDiscover)
	disc, err := a.discover(ctx)
	a.board.Finish(StageDiscover, map[string]any{
		"push_related_no_provider": disc.PushRelatedNoProviderFiles,
		"candidates":               len(disc.Candidates),
	}, err)
	return disc, err
}

func (a *App) discover(ctx context.Context) (detect.Discovery, error) {
	out, err := local.New(local.Config{BaseDir: a.cfg.Detect.OutputDir})
	if err != nil {
		return detect.Discovery{}, fmt.Errorf("init detect output: %w", err)
	}
	return detect.RunDiscover(ctx, detect.DiscoverConfig{
		DeduplicatedPath:    filepath.Join(a.cfg.Similarity.ArtifactDir, pipeline.DeduplicatedFile),
		FileToProvidersPath: filepath.Join(a.cfg.Detect.OutputDir, detect.FileToProvidersFile),
		ScriptsDir:          a.cfg.Crawler.OutputDir,
	}, out, a.logger.Named("discover"))
}

// Close shuts down every service the App started. It is safe to call on a
// partially constructed App.
func (a *App) Close(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("error stopping operator server", zap.Error(err))
		}
	}
	if a.reports != nil {
		a.reports.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("error closing gcs client", zap.Error(err))
		}
	}
	// Sync on a terminal returns EINVAL; nothing useful can be done with it.
	_ = a.logger.Sync()
}
