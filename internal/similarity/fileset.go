package similarity

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/JakeFAU/swdedup/internal/index"
)

// FileSet maps a slot file path to the URLs it was fetched from.
type FileSet map[string][]string

// LoadFileSet builds the file set from the index's successful slots plus any
// stray *.js file found in dir. A missing dir contributes nothing; those paths
// are reported later as unhashable.
func LoadFileSet(idx *index.Index, dir string) (FileSet, error) {
	fs := make(FileSet)
	for slot, url := range idx.Resolved() {
		path := index.SlotFile(slot)
		fs[path] = append(fs[path], url)
	}
	for path := range fs {
		sort.Strings(fs[path])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fs, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".js") {
			continue
		}
		if _, ok := fs[name]; !ok {
			fs[name] = []string{}
		}
	}
	return fs, nil
}

// Paths returns every path in sorted order.
func (fs FileSet) Paths() []string {
	out := make([]string, 0, len(fs))
	for path := range fs {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// URLs returns the source URLs of path; never nil.
func (fs FileSet) URLs(path string) []string {
	if urls := fs[path]; urls != nil {
		return urls
	}
	return []string{}
}
