package detect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/storage/local"
)

func TestIsPushRelated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"push listener", "self.addEventListener('push', handler)", true},
		{"listener without push", "self.addEventListener('fetch', handler)", false},
		{"push manager", "registration.PushManager.subscribe()", true},
		{"push subscription", "new PushSubscription()", true},
		{"spaced subscription", "manage your push subscription here", true},
		{"show notification", "self.registration.showNotification(title)", true},
		{"notification click", "onnotificationclick = fn", true},
		{"push event", "function handle(e /* PushEvent */) {}", true},
		{"unrelated", "caches.open('v1').then(c => c.addAll(urls))", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPushRelated(tt.content))
		})
	}
}

func TestProvidersWholeWord(t *testing.T) {
	t.Parallel()

	content := `importScripts("https://cdn.OneSignal.com/sdks/OneSignalSDKWorker.js");
// braze handled elsewhere; notbrazed should not match
var pushcrewish = 1;
fetch("https://api.webpushr.com/v1")`
	names := []string{"onesignal", "braze", "pushcrew", "webpushr", "airship", "onesignal"}

	assert.Equal(t, []string{"onesignal", "braze", "webpushr"}, Providers(content, names))
}

func TestProvidersDomainVariant(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"izooto"}, Providers("load cdn.izooto.com/sw.js", []string{"izooto"}))
	assert.Empty(t, Providers("load myizooto.net", []string{"izooto"}))
	assert.Equal(t, []string{"push.example.com"}, Providers("x push.example.com y", []string{"push.example.com"}))
	assert.Empty(t, Providers("x pushXexample.com y", []string{"push.example"}))
}

// Word boundaries are ASCII: a non-ASCII letter next to the name does not
// join the word, while an underscore does.
func TestProvidersASCIIWordBoundary(t *testing.T) {
	t.Parallel()

	names := []string{"onesignal"}
	assert.Equal(t, names, Providers("var éonesignal = 1", names))
	assert.Equal(t, names, Providers("жonesignalж", names))
	assert.Empty(t, Providers("var onesignal_sdk = 1", names))
	assert.Empty(t, Providers("var onesignal2 = 1", names))
}

func TestCountsMarshalPreservesOrder(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Counts{{"zeta", 3}, {"alpha", 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":3,"alpha":1}`, string(raw))

	raw, err = json.Marshal(Counts{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(raw))
}

func TestRunWritesOutputs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	scripts := filepath.Join(root, "scripts")
	require.NoError(t, os.MkdirAll(scripts, 0o750))
	files := map[string]string{
		"0.js": "self.addEventListener('push', e => OneSignal.init()); // braze",
		"1.js": "self.registration.showNotification('hi')",
		"2.js": "caches.open('static')",
		"3.js": "   \n",
		"4.js": "importScripts('https://sdk.braze.com/sw.js'); self.addEventListener('push', f)",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(scripts, name), []byte(content), 0o600))
	}
	dedupPath := filepath.Join(root, "deduplicated.json")
	require.NoError(t, os.WriteFile(dedupPath, []byte(`["0.js","1.js","2.js","3.js","4.js","9.js"]`), 0o600))
	providersPath := filepath.Join(root, "providers.json")
	require.NoError(t, os.WriteFile(providersPath, []byte(`["onesignal","braze","airship"]`), 0o600))

	outDir := filepath.Join(root, "detect")
	out, err := local.New(local.Config{BaseDir: outDir})
	require.NoError(t, err)

	res, err := Run(context.Background(), Config{
		DeduplicatedPath: dedupPath,
		ProvidersFile:    providersPath,
		ScriptsDir:       scripts,
	}, out, zap.NewNop())
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 3, s.PushRelatedFiles)
	assert.Equal(t, 1, s.NotPushRelatedFiles)
	assert.Equal(t, 2, s.FilesWithAtLeastOneProvider)
	assert.Equal(t, 1, s.FilesWithNoProvider)
	assert.Equal(t, 6, s.TotalFiles)
	assert.Equal(t, 1, s.MissingFiles)
	assert.Equal(t, Counts{{"onesignal", 1}, {"braze", 2}, {"airship", 0}}, s.PerProviderCount)
	assert.Equal(t, Counts{{"braze", 2}, {"onesignal", 1}}, s.PerProviderCountNonzero)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(outDir, FileToProvidersFile))
	require.NoError(t, err)
	var hits map[string][]string
	require.NoError(t, json.Unmarshal(raw, &hits))
	assert.Equal(t, map[string][]string{
		"0.js": {"onesignal", "braze"},
		"4.js": {"braze"},
	}, hits)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err = os.ReadFile(filepath.Join(outDir, SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"per_provider_count_nonzero": {`)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 6, decoded["total_files"])
}

func TestRunMissingInputs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	out, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)

	_, err = Run(context.Background(), Config{
		DeduplicatedPath: filepath.Join(root, "missing.json"),
		ProvidersFile:    filepath.Join(root, "providers.json"),
	}, out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deduplicated")

	dedupPath := filepath.Join(root, "dedup.json")
	require.NoError(t, os.WriteFile(dedupPath, []byte(`[]`), 0o600))
	_, err = Run(context.Background(), Config{
		DeduplicatedPath: dedupPath,
		ProvidersFile:    filepath.Join(root, "providers.json"),
	}, out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known providers")
}

func TestDetectCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New([]string{"x"}, t.TempDir(), nil).Detect(ctx, []string{"0.js"})
	assert.ErrorIs(t, err, context.Canceled)
}
