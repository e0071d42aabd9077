package similarity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

// DefaultThreshold is the minimum score for two files to count as near-duplicates.
const DefaultThreshold = 90

// Pair is a scored pair at or above the threshold. FileA sorts before FileB.
type Pair struct {
	FileA string   `json:"file_a"`
	FileB string   `json:"file_b"`
	Score int      `json:"score"`
	URLsA []string `json:"urls_a"`
	URLsB []string `json:"urls_b"`
}

// ComparePairs scores every unordered pair of hashed files and keeps those
// with score >= threshold. Rows run in parallel; the result is ordered by
// FileA then FileB regardless of scheduling. A scoring error counts as 0.
func ComparePairs(
	ctx context.Context,
	digests DigestMap,
	fs FileSet,
	scorer Scorer,
	threshold int,
	workers int,
	logger *zap.Logger,
) ([]Pair, error) {
	logger = logging.OrNop(logger)
	if workers <= 0 {
		workers = 1
	}
	paths := digests.Paths()
	rows := make([][]Pair, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a := paths[i]
			var row []Pair
			for _, b := range paths[i+1:] {
				score, err := scorer.Compare(digests[a], digests[b])
				if err != nil {
					logger.Warn("compare failed; scoring as 0",
						zap.String("file_a", a), zap.String("file_b", b), zap.Error(err))
					score = 0
				}
				if score >= threshold {
					row = append(row, Pair{
						FileA: a,
						FileB: b,
						Score: score,
						URLsA: fs.URLs(a),
						URLsB: fs.URLs(b),
					})
				}
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compare pairs: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("compare pairs: %w", err)
	}

	pairs := make([]Pair, 0)
	for _, row := range rows {
		pairs = append(pairs, row...)
	}
	n := len(paths)
	metrics.ObservePairs(n*(n-1)/2, len(pairs))
	return pairs, nil
}
