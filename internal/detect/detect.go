// Package detect scans deduplicated service worker scripts for known push
// notification providers.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

// Output file names.
const (
	FileToProvidersFile = "file-to-providers.json"
	SummaryFile         = "provider-summary.json"
)

// ArtifactStore receives the detector outputs.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ProviderCount is one entry of an ordered provider tally.
type ProviderCount struct {
	Provider string
	Count    int
}

// Counts is a provider tally that marshals as a JSON object in slice order.
type Counts []ProviderCount

// MarshalJSON implements json.Marshaler.
func (c Counts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pc := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pc.Provider)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", pc.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Summary is written to provider-summary.json. Provider hit counts only cover
// push-related files, since other files are never scanned for providers.
type Summary struct {
	PerProviderCount            Counts `json:"per_provider_count"`
	PerProviderCountNonzero     Counts `json:"per_provider_count_nonzero"`
	PushRelatedFiles            int    `json:"push_related_files"`
	NotPushRelatedFiles         int    `json:"not_push_related_files"`
	FilesWithAtLeastOneProvider int    `json:"files_with_at_least_one_provider"`
	FilesWithNoProvider         int    `json:"files_with_no_provider"`
	TotalFiles                  int    `json:"total_files"`
	MissingFiles                int    `json:"missing_files"`
}

// Result holds the per-file detections and the summary.
type Result struct {
	// FileToProviders has an entry, possibly empty, for every input path.
	FileToProviders map[string][]string
	Missing         []string
	Summary         Summary
}

// Hits returns only the files with at least one provider.
func (r Result) Hits() map[string][]string {
	out := make(map[string][]string)
	for path, providers := range r.FileToProviders {
		if len(providers) > 0 {
			out[path] = providers
		}
	}
	return out
}

// Detector matches a fixed provider list against script files.
type Detector struct {
	matchers   []matcher
	scriptsDir string
	logger     *zap.Logger
}

// New compiles the provider list. Paths given to Detect are resolved against scriptsDir.
func New(providers []string, scriptsDir string, logger *zap.Logger) *Detector {
	return &Detector{
		matchers:   compile(providers),
		scriptsDir: scriptsDir,
		logger:     logging.OrNop(logger),
	}
}

// Detect scans every path. Missing files are counted; unreadable and blank
// files get an empty provider list and count toward neither push bucket.
func (d *Detector) Detect(ctx context.Context, paths []string) (Result, error) {
	res := Result{FileToProviders: make(map[string][]string, len(paths)), Missing: []string{}}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("detect providers: %w", err)
		}
		// #nosec G304 -- paths come from the deduplicated list produced by this tool.
		raw, err := os.ReadFile(filepath.Join(d.scriptsDir, path))
		if err != nil {
			res.FileToProviders[path] = []string{}
			if errors.Is(err, os.ErrNotExist) {
				res.Missing = append(res.Missing, path)
			} else {
				d.logger.Warn("unreadable script", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		content := strings.ToValidUTF8(string(raw), "\uFFFD")
		if strings.TrimSpace(content) == "" {
			res.FileToProviders[path] = []string{}
			continue
		}
		if !IsPushRelated(content) {
			res.Summary.NotPushRelatedFiles++
			res.FileToProviders[path] = []string{}
			continue
		}
		res.Summary.PushRelatedFiles++
		res.FileToProviders[path] = matchAll(content, d.matchers)
	}
	if len(res.Missing) > 0 {
		d.logger.Warn("missing files", zap.Int("count", len(res.Missing)))
	}
	res.Summary = d.summarize(res)
	return res, nil
}

func (d *Detector) summarize(res Result) Summary {
	s := res.Summary
	counts := make(map[string]int, len(d.matchers))
	for _, providers := range res.FileToProviders {
		if len(providers) == 0 {
			continue
		}
		s.FilesWithAtLeastOneProvider++
		for _, p := range providers {
			counts[p]++
			metrics.ObserveProviderHit(p)
		}
	}
	s.FilesWithNoProvider = s.PushRelatedFiles - s.FilesWithAtLeastOneProvider
	s.TotalFiles = len(res.FileToProviders)
	s.MissingFiles = len(res.Missing)

	s.PerProviderCount = make(Counts, 0, len(d.matchers))
	s.PerProviderCountNonzero = make(Counts, 0)
	for _, m := range d.matchers {
		pc := ProviderCount{Provider: m.name, Count: counts[m.name]}
		s.PerProviderCount = append(s.PerProviderCount, pc)
		if pc.Count > 0 {
			s.PerProviderCountNonzero = append(s.PerProviderCountNonzero, pc)
		}
	}
	sort.SliceStable(s.PerProviderCountNonzero, func(i, j int) bool {
		return s.PerProviderCountNonzero[i].Count > s.PerProviderCountNonzero[j].Count
	})
	return s
}

// Write stores file-to-providers.json (hits only) and provider-summary.json.
func Write(ctx context.Context, out ArtifactStore, res Result) error {
	if err := putJSON(ctx, out, FileToProvidersFile, res.Hits()); err != nil {
		return err
	}
	return putJSON(ctx, out, SummaryFile, res.Summary)
}

func putJSON(ctx context.Context, out ArtifactStore, name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if _, err := out.PutObject(ctx, name, "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadStringList reads a JSON array of strings, such as deduplicated.json or
// the known-providers list.
func LoadStringList(path string) ([]string, error) {
	// #nosec G304 -- operator-supplied input path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// Config locates the detector inputs.
type Config struct {
	DeduplicatedPath string
	ProvidersFile    string
	ScriptsDir       string
}

// Run loads the inputs, detects providers, and writes both outputs to out.
func Run(ctx context.Context, cfg Config, out ArtifactStore, logger *zap.Logger) (Result, error) {
	logger = logging.OrNop(logger)
	paths, err := LoadStringList(cfg.DeduplicatedPath)
	if err != nil {
		return Result{}, fmt.Errorf("load deduplicated list: %w", err)
	}
	providers, err := LoadStringList(cfg.ProvidersFile)
	if err != nil {
		return Result{}, fmt.Errorf("load known providers: %w", err)
	}
	logger.Info("detecting providers", zap.Int("paths", len(paths)), zap.Int("providers", len(providers)))

	res, err := New(providers, cfg.ScriptsDir, logger).Detect(ctx, paths)
	if err != nil {
		return Result{}, err
	}
	if err := Write(ctx, out, res); err != nil {
		return Result{}, err
	}

	s := res.Summary
	logger.Info("provider detection finished",
		zap.Int("push_related", s.PushRelatedFiles),
		zap.Int("not_push_related", s.NotPushRelatedFiles),
		zap.Int("with_provider", s.FilesWithAtLeastOneProvider),
		zap.Int("without_provider", s.FilesWithNoProvider),
		zap.Int("missing", s.MissingFiles),
	)
	for _, pc := range s.PerProviderCountNonzero {
		logger.Info("provider count", zap.String("provider", pc.Provider), zap.Int("files", pc.Count))
	}
	return res, nil
}
