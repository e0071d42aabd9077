package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/index"
	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

// Default knobs, matching the batch the pipeline was sized for.
const (
	DefaultWorkers      = 30
	DefaultFetchTimeout = 5 * time.Second
	progressEvery       = 100
)

// Config controls Crawler behavior.
type Config struct {
	Workers      int
	FetchTimeout time.Duration
	// Limiter, when set, is waited on before every fetch.
	Limiter Limiter
}

// Crawler drives a fixed worker pool over the outstanding URL set.
type Crawler struct {
	fetcher Fetcher
	commit  *committer
	cfg     Config
	ids     IDGenerator
	logger  *zap.Logger
}

// New constructs a Crawler. idx is owned by the crawler for the duration of Run.
func New(fetcher Fetcher, idx *index.Index, slots SlotStore, ids IDGenerator, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	logger = logging.OrNop(logger)
	return &Crawler{
		fetcher: fetcher,
		commit:  newCommitter(idx, slots, logger.Named("commit")),
		cfg:     cfg,
		ids:     ids,
		logger:  logger,
	}
}

// Run fetches every candidate the index has not resolved yet and returns the
// run summary. Result.Total is the number of successes recorded in the index.
//
// Cancelling ctx stops dispatch; fetches that fail because of the cancellation
// are not recorded, so the next run picks them up again. A failure to persist
// the index stops the run and is returned.
func (c *Crawler) Run(ctx context.Context, candidates []string) (Result, error) {
	result := Result{Candidates: len(candidates)}
	if c.ids != nil {
		id, err := c.ids.NewID()
		if err != nil {
			return result, fmt.Errorf("generate run id: %w", err)
		}
		result.RunID = id
	}
	logger := c.logger.With(zap.String("run_id", result.RunID))

	c.commit.mu.Lock()
	outstanding := c.commit.index.Outstanding(candidates)
	prior := c.commit.index.Count()
	c.commit.mu.Unlock()
	result.Skipped = len(candidates) - len(outstanding)

	logger.Info("crawl starting",
		zap.Int("candidates", len(candidates)),
		zap.Int("outstanding", len(outstanding)),
		zap.Int("prior_successes", prior),
		zap.Int("workers", c.cfg.Workers),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var done sync.WaitGroup
	var processed atomic.Int64
	for i := 0; i < c.cfg.Workers; i++ {
		done.Add(1)
		go func(id int) {
			defer done.Done()
			c.work(runCtx, cancel, jobs, &processed, len(outstanding), logger.With(zap.Int("worker", id)))
		}(i)
	}

dispatch:
	for _, url := range outstanding {
		select {
		case jobs <- url:
		case <-runCtx.Done():
			break dispatch
		}
	}
	close(jobs)
	done.Wait()

	succeeded, failed, written, total, fatal := c.commit.snapshot()
	result.Succeeded = succeeded
	result.Failed = failed
	result.Bytes = written
	result.Total = total

	logger.Info("crawl finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("total_successes", total),
		zap.String("downloaded", humanize.Bytes(uint64(written))),
	)

	if fatal != nil {
		return result, fatal
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}
	return result, nil
}

func (c *Crawler) work(
	ctx context.Context,
	abort context.CancelFunc,
	jobs <-chan string,
	processed *atomic.Int64,
	outstanding int,
	logger *zap.Logger,
) {
	for url := range jobs {
		c.process(ctx, abort, url, logger)
		if n := int(processed.Add(1)); n%progressEvery == 0 || n == outstanding {
			logger.Info("crawl progress", zap.Int("processed", n), zap.Int("outstanding", outstanding))
		}
	}
}

func (c *Crawler) process(ctx context.Context, abort context.CancelFunc, url string, logger *zap.Logger) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, url); err != nil {
			logger.Debug("rate limit wait abandoned; url left outstanding", zap.String("url", url), zap.Error(err))
			return
		}
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	resp, err := c.fetch(ctx, url)
	outcome := outcomeOf(err)
	metrics.ObserveFetch(string(outcome), time.Since(start), len(resp.Body))

	if err != nil && ctx.Err() != nil {
		logger.Debug("fetch abandoned on shutdown; url left outstanding", zap.String("url", url), zap.Error(err))
		return
	}
	if outcome == OutcomePanic {
		logger.Error("fetch panicked; recording url as failed", zap.String("url", url), zap.Error(err))
	}

	if cerr := c.commit.commit(ctx, url, resp, err); cerr != nil {
		logger.Error("commit failed", zap.String("url", url), zap.Error(cerr))
		if c.isFatal() {
			abort()
		}
	}
}

// fetch converts a panic inside the Fetcher into a per-URL failure.
func (c *Crawler) fetch(ctx context.Context, url string) (resp FetchResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = FetchResponse{}
			err = &panicError{value: r}
		}
	}()
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	resp, err = c.fetcher.Fetch(fetchCtx, url)
	if err == nil && resp.StatusCode != 0 && resp.StatusCode != http.StatusOK {
		return FetchResponse{}, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, err
}

func (c *Crawler) isFatal() bool {
	_, _, _, _, fatal := c.commit.snapshot()
	return fatal != nil
}
