package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoCandidates is returned when the URL list file is missing.
var ErrNoCandidates = errors.New("url list not found")

// LoadCandidates reads the JSON array of candidate URLs at path. Order and
// repeats are preserved; the crawler drops repeats itself.
func LoadCandidates(path string) ([]string, error) {
	// #nosec G304 -- operator-supplied input path.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCandidates, path)
		}
		return nil, fmt.Errorf("read url list: %w", err)
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("parse url list %s: %w", path, err)
	}
	return urls, nil
}
