package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// HTTPError reports a response whose status was not 200 OK.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// NetworkError reports a transport-level failure: DNS, TLS, reset, timeout or
// an unusable URL.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Outcome classifies how a single URL was resolved in this run.
type Outcome string

// Outcome values, also used as metric labels.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeHTTPError    Outcome = "http_error"
	OutcomeNetworkError Outcome = "network_error"
	OutcomePanic        Outcome = "panic"
	OutcomeWriteError   Outcome = "write_error"
)

// Classify maps a fetch error onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return OutcomeHTTPError
	}
	return OutcomeNetworkError
}

// Result summarizes a crawl run.
type Result struct {
	RunID      string
	Candidates int
	// Skipped counts candidates already resolved by an earlier run (or repeated in the list).
	Skipped   int
	Succeeded int
	Failed    int
	// Total is the number of successful fetches recorded in the index after
	// the run, prior runs included.
	Total int
	Bytes int64
}
