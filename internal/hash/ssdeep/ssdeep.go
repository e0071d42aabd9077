// Package ssdeep adapts github.com/glaslos/ssdeep to the similarity digester.
package ssdeep

import (
	"errors"
	"fmt"
	"sync"

	"github.com/glaslos/ssdeep"
)

// ErrEmptyInput is returned when asked to digest zero bytes.
var ErrEmptyInput = errors.New("ssdeep: empty input")

var forceOnce sync.Once

// Hasher computes context-triggered piecewise hashes and compares them on the
// 0-100 ssdeep scale.
type Hasher struct{}

// New returns a Hasher. The library refuses inputs under 4096 bytes unless
// forced; service workers are often smaller than that, so New forces it.
func New() *Hasher {
	forceOnce.Do(func() { ssdeep.Force = true })
	return &Hasher{}
}

// Digest hashes data. Empty input is an error.
func (h *Hasher) Digest(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	digest, err := ssdeep.FuzzyBytes(data)
	if err != nil {
		return "", fmt.Errorf("ssdeep digest: %w", err)
	}
	return digest, nil
}

// Compare scores two digests; 100 means identical and 0 means unrelated.
func (h *Hasher) Compare(a, b string) (int, error) {
	score, err := ssdeep.Distance(a, b)
	if err != nil {
		return 0, fmt.Errorf("ssdeep compare: %w", err)
	}
	return score, nil
}
