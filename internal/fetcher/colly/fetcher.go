// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/swdedup/internal/crawler"
)

const defaultTimeout = 5 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps the stored body; zero leaves bodies uncapped.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The base collector, and the HTTP client its clones
// share, is configured once here and never mutated afterwards.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport}
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Any status other than 200 yields a
// *crawler.HTTPError; transport failures and cancellation yield a
// *crawler.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The visit goroutine still owns result; it ends within the request timeout.
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: url, Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		return classify(url, result, err)
	}
}

func classify(url string, result crawler.FetchResponse, err error) (crawler.FetchResponse, error) {
	switch {
	case result.StatusCode == http.StatusOK && err == nil:
		return result, nil
	case result.StatusCode != 0:
		return crawler.FetchResponse{}, &crawler.HTTPError{URL: url, StatusCode: result.StatusCode}
	case err != nil:
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: url, Err: err}
	default:
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: url, Err: errors.New("no response")}
	}
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil {
			result.StatusCode = r.StatusCode
		}
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
