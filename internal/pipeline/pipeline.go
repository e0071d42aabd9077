// Package pipeline runs the dedup stages over a finished crawl: file set,
// hashing, pairwise comparison, clustering and reduction, then writes the
// artifacts.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/clock/system"
	"github.com/JakeFAU/swdedup/internal/cluster"
	"github.com/JakeFAU/swdedup/internal/index"
	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
	"github.com/JakeFAU/swdedup/internal/similarity"
)

// Artifact file names.
const (
	NoHashFile       = "ssdeep-no-hash.json"
	PairsFile        = "ssdeep-pairs.json"
	ClustersFile     = "ssdeep-clusters.json"
	DeduplicatedFile = "deduplicated.json"
)

// ErrIndexNotFound is returned when the crawl index does not exist yet.
var ErrIndexNotFound = errors.New("crawl index not found")

// ArtifactStore persists a named artifact and returns its URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ReportSink records a finished run somewhere queryable.
type ReportSink interface {
	SaveReport(ctx context.Context, report Report) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock stamps the report.
type Clock interface {
	Now() time.Time
}

// Config controls a dedup run.
type Config struct {
	IndexPath  string
	ScriptsDir string
	Threshold  int
	Workers    int
}

// Deps are the collaborators of a Pipeline. Digester and Artifacts are
// required; Mirror, Reports, IDs and Clock are optional.
type Deps struct {
	Digester  similarity.Digester
	Artifacts ArtifactStore
	Mirror    ArtifactStore
	Reports   ReportSink
	IDs       IDGenerator
	Clock     Clock
}

// Entry is one member of the deduplicated set with the URLs it stands for.
type Entry struct {
	Path        string
	ClusterSize int
	URLs        []string
}

// Report is the outcome of one run.
type Report struct {
	RunID        string
	StartedAt    time.Time
	Threshold    int
	Files        int
	Digests      similarity.DigestMap
	NoDigest     []string
	Pairs        []similarity.Pair
	Clusters     []cluster.Cluster
	Deduplicated []string
	Entries      []Entry
	Artifacts    []string
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates the configuration and returns a Pipeline.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Digester == nil {
		return nil, fmt.Errorf("digester is required")
	}
	if deps.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.IndexPath == "" || cfg.ScriptsDir == "" {
		return nil, fmt.Errorf("index path and scripts dir are required")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 100 {
		return nil, fmt.Errorf("threshold must be within [0,100], got %d", cfg.Threshold)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logging.OrNop(logger)}, nil
}

// Run executes every stage and writes the artifacts. It recomputes everything
// from the index and slot files on each call.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: p.deps.Clock.Now(), Threshold: p.cfg.Threshold}
	if p.deps.IDs != nil {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return report, fmt.Errorf("generate run id: %w", err)
		}
		report.RunID = id
	}
	logger := p.logger.With(zap.String("run_id", report.RunID))

	idx, err := LoadIndex(p.cfg.IndexPath)
	if err != nil {
		return report, err
	}
	fs, err := similarity.LoadFileSet(idx, p.cfg.ScriptsDir)
	if err != nil {
		return report, fmt.Errorf("build file set: %w", err)
	}
	report.Files = len(fs)
	logger.Info("file set loaded", zap.Int("files", len(fs)), zap.Int("index_successes", idx.Count()))

	report.Digests, report.NoDigest, err = similarity.HashFiles(ctx, p.cfg.ScriptsDir, fs, p.deps.Digester, p.cfg.Workers, logger)
	if err != nil {
		return report, err
	}
	logger.Info("hashing finished", zap.Int("hashed", len(report.Digests)), zap.Int("no_digest", len(report.NoDigest)))
	if len(report.NoDigest) > 0 {
		if err := p.writeArtifact(ctx, &report, NoHashFile, report.NoDigest); err != nil {
			return report, err
		}
	}

	report.Pairs, err = similarity.ComparePairs(ctx, report.Digests, fs, p.deps.Digester, p.cfg.Threshold, p.cfg.Workers, logger)
	if err != nil {
		return report, err
	}
	report.Clusters = cluster.Build(report.Pairs, fs)
	report.Deduplicated = cluster.Deduplicate(report.Digests, report.Clusters)
	report.Entries = entries(report.Deduplicated, report.Clusters, fs)
	metrics.ObserveDedup(len(report.Clusters), len(report.Deduplicated))
	p.logClusters(logger, report)

	for _, artifact := range []struct {
		name string
		v    any
	}{
		{PairsFile, report.Pairs},
		{ClustersFile, report.Clusters},
		{DeduplicatedFile, report.Deduplicated},
	} {
		if err := p.writeArtifact(ctx, &report, artifact.name, artifact.v); err != nil {
			return report, err
		}
	}

	if p.deps.Reports != nil {
		if err := p.deps.Reports.SaveReport(ctx, report); err != nil {
			return report, fmt.Errorf("save report: %w", err)
		}
	}

	logger.Info("dedup finished",
		zap.Int("threshold", report.Threshold),
		zap.Int("hashed", len(report.Digests)),
		zap.Int("pairs", len(report.Pairs)),
		zap.Int("clusters", len(report.Clusters)),
		zap.Int("deduplicated", len(report.Deduplicated)),
		zap.Strings("artifacts", report.Artifacts),
	)
	return report, nil
}

// LoadIndex loads the crawl index, failing with ErrIndexNotFound when it is absent.
func LoadIndex(path string) (*index.Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}
	idx, err := index.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

func entries(dedup []string, clusters []cluster.Cluster, fs similarity.FileSet) []Entry {
	byRep := make(map[string]cluster.Cluster, len(clusters))
	for _, c := range clusters {
		byRep[c.Representative] = c
	}
	out := make([]Entry, 0, len(dedup))
	for _, p := range dedup {
		if c, ok := byRep[p]; ok {
			out = append(out, Entry{Path: p, ClusterSize: len(c.Members), URLs: c.URLs})
			continue
		}
		out = append(out, Entry{Path: p, ClusterSize: 1, URLs: fs.URLs(p)})
	}
	return out
}

func (p *Pipeline) logClusters(logger *zap.Logger, report Report) {
	logger.Info("cluster size distribution", zap.Any("sizes", cluster.SizeDistribution(report.Clusters)))
	if largest, ok := cluster.Largest(report.Clusters); ok {
		logger.Info("largest cluster",
			zap.Int("members", len(largest.Members)),
			zap.String("representative", largest.Representative),
		)
	}
	clustered := cluster.Clustered(report.Clusters)
	logger.Info("cluster coverage",
		zap.Int("files_in_clusters", clustered),
		zap.Int("singletons", len(report.Digests)-clustered),
	)
}

func (p *Pipeline) writeArtifact(ctx context.Context, report *Report, name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	uri, err := p.deps.Artifacts.PutObject(ctx, name, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	report.Artifacts = append(report.Artifacts, uri)

	if p.deps.Mirror != nil {
		key := name
		if report.RunID != "" {
			key = path.Join(report.RunID, name)
		}
		mirrored, err := p.deps.Mirror.PutObject(ctx, key, "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("mirror %s: %w", name, err)
		}
		report.Artifacts = append(report.Artifacts, mirrored)
	}
	return nil
}
