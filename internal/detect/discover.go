package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/logging"
)

// Discovery output file names.
const (
	CandidatesFile       = "candidate-unknown-providers.json"
	CandidateDomainsFile = "candidate-unknown-providers-domains.json"
)

const maxExampleURLs = 3

// urlPattern matches absolute http(s) URLs and protocol-relative //host URLs,
// stopping at whitespace, quotes and common code delimiters.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>)\]},;]+|//[^\s"'<>)\]},;]+`)

// excludedDomainParts filters generic CDNs, infrastructure and browser APIs
// out of the candidate list.
var excludedDomainParts = []string{
	"google.",
	"googleapis.",
	"cloudflare",
	"w3.org",
	"w3c.",
	"mozilla.",
	"npm.",
	"jsdelivr",
	"unpkg.",
	"cdnjs.",
	"gstatic.",
	"facebook.",
	"doubleclick",
	"googletagmanager",
	"googlesyndication",
	"youtube.",
	"google-analytics",
	"segment.",
	"amazonaws.",
	"cloudfront.",
	"azure.",
	"azureedge.",
	"fastly.",
	"akamai",
	"bootstrapcdn",
	"jquery",
	"polyfill",
	"sentry.io",
	"sentry-cdn",
	"static.parastorage", // Wix
	"github.",
	"apache.",
	"angular.",
	"stackoverflow.",
	"microsoft.",
	"firebase",
	"nist.gov",
	"turktelekom",
	"tinyurl",
	"vietgiaitri.com",
	"bit.ly",
}

// Candidate is a domain referenced by push-related scripts that matched no
// known provider.
type Candidate struct {
	Domain      string   `json:"domain"`
	Count       int      `json:"count"`
	ExampleURLs []string `json:"example_urls"`
	Files       []string `json:"files"`
}

// Discovery is written to candidate-unknown-providers.json. Candidates are
// ordered by count, descending; ties keep first-seen order.
type Discovery struct {
	PushRelatedNoProviderFiles int         `json:"push_related_no_provider_files"`
	Candidates                 []Candidate `json:"candidates"`
}

// Domains returns the candidate domains sorted case-insensitively.
func (d Discovery) Domains() []string {
	out := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		out = append(out, c.Domain)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// ExtractURLs returns every URL in content in order of appearance. Trailing
// punctuation is trimmed and protocol-relative URLs get an https: scheme.
func ExtractURLs(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	out := make([]string, 0, len(matches))
	for _, raw := range matches {
		raw = strings.TrimRight(raw, ".,;:)")
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		}
		out = append(out, raw)
	}
	return out
}

// Hostname returns the lowercased authority of an http(s) URL, or "" when it
// has none or its brackets do not balance.
func Hostname(rawURL string) string {
	_, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if strings.Contains(rest, "[") != strings.Contains(rest, "]") {
		return ""
	}
	return strings.ToLower(rest)
}

// IsExcludedDomain reports whether host is not worth proposing as a provider.
func IsExcludedDomain(host string) bool {
	if host == "" || strings.HasPrefix(host, "localhost") || !strings.Contains(host, ".") {
		return true
	}
	if strings.ContainsAny(host, "() ") || strings.HasPrefix(host, ".") {
		return true
	}
	h := strings.ToLower(host)
	for _, part := range excludedDomainParts {
		if strings.Contains(h, part) {
			return true
		}
	}
	return false
}

// Discover tallies the domains referenced by push-related scripts that have no
// entry in known. Missing, unreadable, blank and non-push files are skipped.
func Discover(
	ctx context.Context,
	paths []string,
	known map[string][]string,
	scriptsDir string,
	logger *zap.Logger,
) (Discovery, error) {
	logger = logging.OrNop(logger)

	type tally struct {
		count    int
		examples []string
		files    map[string]struct{}
	}
	tallies := make(map[string]*tally)
	order := make([]string, 0)
	disc := Discovery{Candidates: []Candidate{}}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Discovery{}, fmt.Errorf("discover providers: %w", err)
		}
		if _, ok := known[path]; ok {
			continue
		}
		// #nosec G304 -- paths come from the deduplicated list produced by this tool.
		raw, err := os.ReadFile(filepath.Join(scriptsDir, path))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("unreadable script", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		content := strings.ToValidUTF8(string(raw), "\uFFFD")
		if strings.TrimSpace(content) == "" || !IsPushRelated(content) {
			continue
		}
		disc.PushRelatedNoProviderFiles++

		exampled := make(map[string]struct{})
		for _, u := range ExtractURLs(content) {
			host := Hostname(u)
			if IsExcludedDomain(host) {
				continue
			}
			t, ok := tallies[host]
			if !ok {
				t = &tally{files: make(map[string]struct{})}
				tallies[host] = t
				order = append(order, host)
			}
			t.count++
			t.files[path] = struct{}{}
			if _, done := exampled[host]; !done && len(t.examples) < maxExampleURLs {
				t.examples = append(t.examples, u)
				exampled[host] = struct{}{}
			}
		}
	}

	for _, host := range order {
		t := tallies[host]
		files := make([]string, 0, len(t.files))
		for f := range t.files {
			files = append(files, f)
		}
		sort.Strings(files)
		disc.Candidates = append(disc.Candidates, Candidate{
			Domain:      host,
			Count:       t.count,
			ExampleURLs: t.examples,
			Files:       files,
		})
	}
	sort.SliceStable(disc.Candidates, func(i, j int) bool {
		return disc.Candidates[i].Count > disc.Candidates[j].Count
	})
	return disc, nil
}

// WriteDiscovery stores the candidate report and the bare domain list.
func WriteDiscovery(ctx context.Context, out ArtifactStore, disc Discovery) error {
	if err := putJSON(ctx, out, CandidatesFile, disc); err != nil {
		return err
	}
	return putJSON(ctx, out, CandidateDomainsFile, disc.Domains())
}

// LoadFileToProviders reads a file-to-providers.json written by Write.
func LoadFileToProviders(path string) (map[string][]string, error) {
	// #nosec G304 -- operator-supplied input path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out map[string][]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// DiscoverConfig locates the discovery inputs.
type DiscoverConfig struct {
	DeduplicatedPath    string
	FileToProvidersPath string
	ScriptsDir          string
}

// RunDiscover loads the deduplicated list and the detector hits, then writes
// both candidate outputs to out.
func RunDiscover(ctx context.Context, cfg DiscoverConfig, out ArtifactStore, logger *zap.Logger) (Discovery, error) {
	logger = logging.OrNop(logger)
	paths, err := LoadStringList(cfg.DeduplicatedPath)
	if err != nil {
		return Discovery{}, fmt.Errorf("load deduplicated list: %w", err)
	}
	known, err := LoadFileToProviders(cfg.FileToProvidersPath)
	if err != nil {
		return Discovery{}, fmt.Errorf("load provider hits: %w", err)
	}
	logger.Info("discovering candidate providers",
		zap.Int("paths", len(paths)),
		zap.Int("with_known_provider", len(known)),
	)

	disc, err := Discover(ctx, paths, known, cfg.ScriptsDir, logger)
	if err != nil {
		return Discovery{}, err
	}
	if err := WriteDiscovery(ctx, out, disc); err != nil {
		return Discovery{}, err
	}

	logger.Info("candidate discovery finished",
		zap.Int("push_related_no_provider", disc.PushRelatedNoProviderFiles),
		zap.Int("candidates", len(disc.Candidates)),
	)
	for _, c := range disc.Candidates[:min(10, len(disc.Candidates))] {
		logger.Info("candidate domain", zap.String("domain", c.Domain), zap.Int("count", c.Count))
	}
	return disc, nil
}
