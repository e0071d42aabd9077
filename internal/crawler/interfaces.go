package crawler

import (
	"context"
	"io"
)

// Fetcher fetches a URL and returns the body plus metadata. Errors are
// *HTTPError or *NetworkError; anything else is treated as a network error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// SlotStore writes the bytes of a successful fetch under a slot file name.
type SlotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter paces fetches. Wait returns an error only when ctx ends first.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}
