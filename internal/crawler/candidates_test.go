package crawler_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/swdedup/internal/crawler"
)

func TestLoadCandidates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "urls.json")
	require.NoError(t, os.WriteFile(path, []byte(`["https://a.example/sw.js","https://b.example/sw.js","https://a.example/sw.js"]`), 0o600))

	urls, err := crawler.LoadCandidates(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/sw.js", "https://b.example/sw.js", "https://a.example/sw.js"}, urls)

	_, err = crawler.LoadCandidates(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, crawler.ErrNoCandidates)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"url": 1}`), 0o600))
	_, err = crawler.LoadCandidates(bad)
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawler.ErrNoCandidates)
}
