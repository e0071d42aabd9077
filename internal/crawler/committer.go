package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/index"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

const slotContentType = "application/javascript"

// committer owns the crawl index and the slot counter. Every outcome passes
// through commit, which holds mu for the whole slot-write, record and persist
// sequence.
type committer struct {
	mu     sync.Mutex
	index  *index.Index
	slots  SlotStore
	logger *zap.Logger

	succeeded int
	failed    int
	bytes     int64
	fatal     error
}

func newCommitter(idx *index.Index, slots SlotStore, logger *zap.Logger) *committer {
	return &committer{index: idx, slots: slots, logger: logger}
}

// commit records the outcome of one fetch. It returns an error only when the
// outcome could not be recorded; fetch failures are recorded, not returned.
func (c *committer) commit(ctx context.Context, url string, resp FetchResponse, fetchErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fatal != nil {
		return c.fatal
	}
	if c.index.IsResolved(url) {
		return fmt.Errorf("commit %q: %w", url, index.ErrDuplicateURL)
	}

	start := time.Now()
	outcome := outcomeOf(fetchErr)
	if fetchErr == nil {
		if err := c.writeSlot(ctx, c.index.NextSlot(), resp.Body); err != nil {
			c.logger.Warn("slot write failed; recording url as failed", zap.String("url", url), zap.Error(err))
			outcome = OutcomeWriteError
		}
	}

	if outcome == OutcomeSuccess {
		want := c.index.NextSlot()
		slot, err := c.index.RecordSuccess(url)
		if err != nil {
			return err
		}
		if slot != want {
			c.fatal = fmt.Errorf("slot invariant violated: wrote %d, recorded %d", want, slot)
			return c.fatal
		}
		c.succeeded++
		c.bytes += int64(len(resp.Body))
		c.logger.Debug("fetched", zap.String("url", url), zap.Int("slot", slot), zap.Int("bytes", len(resp.Body)))
	} else {
		if err := c.index.RecordFailure(url); err != nil {
			return err
		}
		c.failed++
		c.logger.Debug("fetch failed", zap.String("url", url), zap.String("outcome", string(outcome)), zap.Error(fetchErr))
	}

	if err := c.index.Persist(); err != nil {
		c.fatal = fmt.Errorf("persist after %q: %w", url, err)
		return c.fatal
	}
	metrics.ObserveCommit(string(outcome), time.Since(start))
	return nil
}

// writeSlot ignores cancellation: a fetched body is still committed while the
// run is shutting down.
func (c *committer) writeSlot(ctx context.Context, slot int, body []byte) error {
	_, err := c.slots.PutObject(context.WithoutCancel(ctx), index.SlotFile(slot), slotContentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	return nil
}

func (c *committer) snapshot() (succeeded, failed int, written int64, total int, fatal error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded, c.failed, c.bytes, c.index.Count(), c.fatal
}

// panicError wraps a value recovered from a panicking fetch.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("fetch panicked: %v", e.value)
}

func outcomeOf(err error) Outcome {
	var p *panicError
	if errors.As(err, &p) {
		return OutcomePanic
	}
	return Classify(err)
}
