// Package index implements the persisted crawl index: the single source of
// truth for which URLs have been resolved and which slot each success owns.
//
// The on-disk form is a JSON object keyed by URL. A non-negative integer value
// is the slot of a successful fetch (its bytes live in {slot}.js); null marks a
// permanent failure. Every successful slot in [0, Count()) appears exactly once.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/JakeFAU/swdedup/internal/storage/local"
)

var (
	// ErrCorruptIndex is returned when the persisted index cannot be parsed or
	// violates the dense-slot invariant.
	ErrCorruptIndex = errors.New("corrupt crawl index")
	// ErrDuplicateURL is returned when an outcome is recorded for a URL that
	// already has one. It signals a caller bug; the index is left untouched.
	ErrDuplicateURL = errors.New("url already resolved")
)

// State discriminates the two dispositions a URL can have.
type State uint8

// Entry states.
const (
	StateResolved State = iota + 1
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the recorded disposition of a single URL.
type Entry struct {
	State State
	// Slot is meaningful only when State is StateResolved.
	Slot int
}

// Resolved builds a success entry.
func Resolved(slot int) Entry { return Entry{State: StateResolved, Slot: slot} }

// Failed builds a failure entry.
func Failed() Entry { return Entry{State: StateFailed} }

// MarshalJSON encodes a resolved entry as its slot and a failure as null.
func (e Entry) MarshalJSON() ([]byte, error) {
	switch e.State {
	case StateResolved:
		return json.Marshal(e.Slot)
	case StateFailed:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("marshal entry: invalid state %d", e.State)
	}
}

// UnmarshalJSON accepts a non-negative integer or null.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = Failed()
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("entry value %s: %w", data, err)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return fmt.Errorf("entry value %s is not a slot number", data)
	}
	n, err := num.Int64()
	if err != nil || n < 0 {
		return fmt.Errorf("entry value %s is not a non-negative integer", data)
	}
	*e = Resolved(int(n))
	return nil
}

// Index maps URLs to their recorded disposition. It is not safe for concurrent
// use; callers serialize access (the crawler's committer owns it).
type Index struct {
	path    string
	entries map[string]Entry
	count   int
}

// New returns an empty index that persists to path.
func New(path string) *Index {
	return &Index{path: path, entries: make(map[string]Entry)}
}

// Load reads the index persisted at path. A missing file yields an empty index.
// Malformed content or a slot set other than {0..n-1} fails with ErrCorruptIndex.
func Load(path string) (*Index, error) {
	// #nosec G304 -- the index path is operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(path), nil
		}
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}

	entries, err := decodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}

	count, err := checkDense(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	return &Index{path: path, entries: entries, count: count}, nil
}

// decodeEntries walks the top-level object token by token so that a repeated
// URL key is rejected instead of silently overwriting the earlier entry.
func decodeEntries(data []byte) (map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("not a JSON object")
	}

	entries := make(map[string]Entry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		url, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		if _, dup := entries[url]; dup {
			return nil, fmt.Errorf("url %q appears more than once", url)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("url %q: %w", url, err)
		}
		entries[url] = e
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after index object")
	}
	return entries, nil
}

func checkDense(entries map[string]Entry) (int, error) {
	owners := make(map[int]string)
	for url, e := range entries {
		if e.State != StateResolved {
			continue
		}
		if prev, dup := owners[e.Slot]; dup {
			return 0, fmt.Errorf("slot %d assigned to both %q and %q", e.Slot, prev, url)
		}
		owners[e.Slot] = url
	}
	for slot := range owners {
		if slot >= len(owners) {
			return 0, fmt.Errorf("slot %d out of range for %d successes", slot, len(owners))
		}
	}
	return len(owners), nil
}

// Path returns where the index is persisted.
func (x *Index) Path() string { return x.path }

// Len returns the number of URLs with a recorded disposition.
func (x *Index) Len() int { return len(x.entries) }

// Count returns the number of successful fetches recorded.
func (x *Index) Count() int { return x.count }

// NextSlot returns the slot the next RecordSuccess will assign.
func (x *Index) NextSlot() int { return x.count }

// Lookup returns the entry for url, if any.
func (x *Index) Lookup(url string) (Entry, bool) {
	e, ok := x.entries[url]
	return e, ok
}

// IsResolved reports whether url already has a recorded outcome.
func (x *Index) IsResolved(url string) bool {
	_, ok := x.entries[url]
	return ok
}

// RecordSuccess assigns the next dense slot to url.
func (x *Index) RecordSuccess(url string) (int, error) {
	if x.IsResolved(url) {
		return 0, fmt.Errorf("record success for %q: %w", url, ErrDuplicateURL)
	}
	slot := x.count
	x.entries[url] = Resolved(slot)
	x.count++
	return slot, nil
}

// RecordFailure marks url as permanently failed for this index.
func (x *Index) RecordFailure(url string) error {
	if x.IsResolved(url) {
		return fmt.Errorf("record failure for %q: %w", url, ErrDuplicateURL)
	}
	x.entries[url] = Failed()
	return nil
}

// Outstanding filters candidates down to unresolved URLs, dropping repeats and
// keeping first-occurrence order.
func (x *Index) Outstanding(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, url := range candidates {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		if x.IsResolved(url) {
			continue
		}
		out = append(out, url)
	}
	return out
}

// Resolved returns slot -> URL for every successful fetch.
func (x *Index) Resolved() map[int]string {
	out := make(map[int]string, x.count)
	for url, e := range x.entries {
		if e.State == StateResolved {
			out[e.Slot] = url
		}
	}
	return out
}

// Failures returns the failed URLs in sorted order.
func (x *Index) Failures() []string {
	out := make([]string, 0, len(x.entries)-x.count)
	for url, e := range x.entries {
		if e.State == StateFailed {
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}

// Persist writes the whole index. The write goes to a sibling temp file that
// is renamed over the target, so a concurrent crash never exposes a partial index.
func (x *Index) Persist() error {
	payload, err := json.MarshalIndent(x.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(x.path), 0o750); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := local.WriteFileAtomic(x.path, payload, 0o600); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// SlotFile returns the file name that holds the bytes of slot.
func SlotFile(slot int) string {
	return strconv.Itoa(slot) + ".js"
}
