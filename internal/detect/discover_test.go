package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/storage/local"
)

const pushListener = "self.addEventListener('push', e => e.waitUntil(show(e)));\n"

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"absolute", `fetch("https://api.pushy.me/v1/send")`, []string{"https://api.pushy.me/v1/send"}},
		{"plain http", `x = 'http://cdn.example.net/sw.js'`, []string{"http://cdn.example.net/sw.js"}},
		{"protocol relative", `importScripts("//cdn.notix.io/sw.js")`, []string{"https://cdn.notix.io/sw.js"}},
		{"trailing punctuation", "see https://push.example.org/docs.); next", []string{"https://push.example.org/docs"}},
		{"stops at delimiters", "u=[https://a.example.com/x],{https://b.example.com}", []string{"https://a.example.com/x", "https://b.example.com"}},
		{"several in order", "https://one.example.com //two.example.com", []string{"https://one.example.com", "https://two.example.com"}},
		{"none", "self.registration.showNotification('hi')", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractURLs(tt.content))
		})
	}
}

func TestHostname(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://API.Pushy.ME/v1":          "api.pushy.me",
		"https://push.example.com:8443/x":  "push.example.com:8443",
		"https://push.example.com?q=1":     "push.example.com",
		"https://push.example.com#frag":    "push.example.com",
		"https:///path-only":               "",
		"https://[::1/broken":              "",
		"no-scheme.example.com/path":       "",
		"https://user@push.example.com/ok": "user@push.example.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, Hostname(in), in)
	}
}

func TestIsExcludedDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost:8080", true},
		{"localhost.example.com", true},
		{"intranet", true},
		{"fn(a.b", true},
		{"a.b)", true},
		{"bad host.com", true},
		{".leading.example.com", true},
		{"fonts.googleapis.com", true},
		{"connect.facebook.net", true},
		{"d1.cloudfront.net", true},
		{"o123.ingest.sentry.io", true},
		{"cdn.jsdelivr.net", true},
		{"fcm.firebaseio.com", true},
		{"api.pushy.me", false},
		{"cdn.notix.io", false},
		{"push.example.com:8443", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsExcludedDomain(tt.host))
		})
	}
}

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestDiscoverTalliesUnknownDomains(t *testing.T) {
	t.Parallel()

	dir := writeScripts(t, map[string]string{
		"0.js": pushListener + `importScripts("https://cdn.notix.io/a.js", "https://cdn.notix.io/b.js");
fetch("https://api.pushy.me/send"); fetch("https://fonts.googleapis.com/x")`,
		"1.js": pushListener + `fetch("//CDN.NOTIX.IO/c.js")`,
		"2.js": pushListener + `fetch("https://cdn.notix.io/known.js")`,
		"3.js": `fetch("https://cdn.notix.io/not-push.js")`,
		"4.js": "  \n",
		"5.js": pushListener + `fetch("https://zeta.example.com/z"); fetch("https://Alpha.example.com/a")`,
	})
	paths := []string{"0.js", "1.js", "2.js", "3.js", "4.js", "5.js", "missing.js"}
	known := map[string][]string{"2.js": {"onesignal"}}

	disc, err := Discover(context.Background(), paths, known, dir, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 3, disc.PushRelatedNoProviderFiles)
	require.Len(t, disc.Candidates, 4)
	assert.Equal(t, Candidate{
		Domain:      "cdn.notix.io",
		Count:       3,
		ExampleURLs: []string{"https://cdn.notix.io/a.js", "https://CDN.NOTIX.IO/c.js"},
		Files:       []string{"0.js", "1.js"},
	}, disc.Candidates[0])
	// Ties keep first-seen order.
	assert.Equal(t, "api.pushy.me", disc.Candidates[1].Domain)
	assert.Equal(t, "zeta.example.com", disc.Candidates[2].Domain)
	assert.Equal(t, "alpha.example.com", disc.Candidates[3].Domain)
	assert.Equal(t, []string{"alpha.example.com", "api.pushy.me", "cdn.notix.io", "zeta.example.com"}, disc.Domains())
}

func TestDiscoverCapsExamplesAtThree(t *testing.T) {
	t.Parallel()

	files := make(map[string]string)
	paths := make([]string, 0, 5)
	for i := range 5 {
		name := fmt.Sprintf("%d.js", i)
		files[name] = pushListener + fmt.Sprintf(`fetch("https://push.example.com/%d/a"); fetch("https://push.example.com/%d/b")`, i, i)
		paths = append(paths, name)
	}
	dir := writeScripts(t, files)

	disc, err := Discover(context.Background(), paths, nil, dir, nil)
	require.NoError(t, err)
	require.Len(t, disc.Candidates, 1)
	c := disc.Candidates[0]
	assert.Equal(t, 10, c.Count)
	// One example per file, first URL of each.
	assert.Equal(t, []string{
		"https://push.example.com/0/a",
		"https://push.example.com/1/a",
		"https://push.example.com/2/a",
	}, c.ExampleURLs)
	assert.Len(t, c.Files, 5)
}

func TestDiscoverNothingFound(t *testing.T) {
	t.Parallel()

	dir := writeScripts(t, map[string]string{"0.js": pushListener})
	disc, err := Discover(context.Background(), []string{"0.js"}, nil, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, disc.PushRelatedNoProviderFiles)
	assert.Empty(t, disc.Candidates)
	assert.Empty(t, disc.Domains())

	raw, err := json.Marshal(disc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"push_related_no_provider_files":1,"candidates":[]}`, string(raw))
}

func TestDiscoverCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Discover(ctx, []string{"0.js"}, nil, t.TempDir(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunDiscoverWritesOutputs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	scripts := writeScripts(t, map[string]string{
		"0.js": pushListener + `importScripts("https://sdk.pushalert.co/sw.js")`,
		"1.js": pushListener + `importScripts("https://cdn.onesignal.com/sdk.js")`,
	})
	dedupPath := filepath.Join(root, "deduplicated.json")
	require.NoError(t, os.WriteFile(dedupPath, []byte(`["0.js","1.js"]`), 0o600))
	hitsPath := filepath.Join(root, FileToProvidersFile)
	require.NoError(t, os.WriteFile(hitsPath, []byte(`{"1.js":["onesignal"]}`), 0o600))

	outDir := filepath.Join(root, "detect")
	out, err := local.New(local.Config{BaseDir: outDir})
	require.NoError(t, err)

	disc, err := RunDiscover(context.Background(), DiscoverConfig{
		DeduplicatedPath:    dedupPath,
		FileToProvidersPath: hitsPath,
		ScriptsDir:          scripts,
	}, out, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"sdk.pushalert.co"}, disc.Domains())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(outDir, CandidatesFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{
  "push_related_no_provider_files": 1,
  "candidates": [{
    "domain": "sdk.pushalert.co",
    "count": 1,
    "example_urls": ["https://sdk.pushalert.co/sw.js"],
    "files": ["0.js"]
  }]
}`, string(raw))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err = os.ReadFile(filepath.Join(outDir, CandidateDomainsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `["sdk.pushalert.co"]`, string(raw))
}

func TestRunDiscoverMissingHits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dedupPath := filepath.Join(root, "deduplicated.json")
	require.NoError(t, os.WriteFile(dedupPath, []byte(`[]`), 0o600))
	out, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)

	_, err = RunDiscover(context.Background(), DiscoverConfig{
		DeduplicatedPath:    dedupPath,
		FileToProvidersPath: filepath.Join(root, "absent.json"),
	}, out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider hits")
}
