package similarity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

var (
	// ErrEmptyContent marks a zero-byte slot file.
	ErrEmptyContent = errors.New("empty content")
	// ErrUnreadableFile marks a slot file that is missing or cannot be read.
	ErrUnreadableFile = errors.New("unreadable file")
)

// Scorer compares two digests on a 0-100 scale.
type Scorer interface {
	Compare(a, b string) (int, error)
}

// Digester produces fuzzy digests and scores them.
type Digester interface {
	Scorer
	Digest(data []byte) (string, error)
}

// DigestMap maps a path to its digest.
type DigestMap map[string]string

// Paths returns the hashed paths in sorted order.
func (d DigestMap) Paths() []string {
	out := make([]string, 0, len(d))
	for path := range d {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// HashFiles digests every file in fs, reading from dir, with at most workers
// files in flight. Per-file failures land in the sorted no-digest list; the
// only error returned is a cancelled ctx.
func HashFiles(
	ctx context.Context,
	dir string,
	fs FileSet,
	digester Digester,
	workers int,
	logger *zap.Logger,
) (DigestMap, []string, error) {
	logger = logging.OrNop(logger)
	if workers <= 0 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		digests  = make(DigestMap, len(fs))
		noDigest = make([]string, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range fs.Paths() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := hashFile(dir, path, digester)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Debug("no digest", zap.String("path", path), zap.Error(err))
				noDigest = append(noDigest, path)
				metrics.ObserveHashed("no_digest")
				return nil
			}
			digests[path] = digest
			metrics.ObserveHashed("digest")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("hash files: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("hash files: %w", err)
	}
	sort.Strings(noDigest)
	return digests, noDigest, nil
}

func hashFile(dir, path string, digester Digester) (string, error) {
	// #nosec G304 -- paths come from the crawl index and directory listing.
	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyContent, path)
	}
	digest, err := digester.Digest(data)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	if digest == "" {
		return "", fmt.Errorf("digest %s: empty digest", path)
	}
	return digest, nil
}
