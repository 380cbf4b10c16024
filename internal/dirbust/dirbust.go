// Package dirbust implements wordlist-driven directory enumeration. It
// probes candidate paths sequentially and emits one JSON line per hit, in
// probe order, through the caller-supplied emit function.
package dirbust

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/recondeck/recondeck/internal/transport"
)

// Hit is one discovered path, serialized as a JSON chunk.
type Hit struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	URL           string `json:"url"`
	StatusCode    int    `json:"status"`
	ContentLength int64  `json:"content_length"`
}

// Enumerator probes a target with a wordlist. It satisfies the stream
// manager's enumerator contract.
type Enumerator struct {
	client   transport.Client
	wordlist []string
	methods  []string
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures an Enumerator.
type Option func(*Enumerator)

// WithMethods sets the HTTP methods probed per path.
func WithMethods(methods ...string) Option {
	return func(e *Enumerator) {
		if len(methods) > 0 {
			e.methods = methods
		}
	}
}

// WithDelay sets the pause between probe requests.
func WithDelay(d time.Duration) Option {
	return func(e *Enumerator) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enumerator) { e.logger = logger }
}

// New creates an enumerator over the wordlist at path. An empty path loads
// the embedded default list.
func New(client transport.Client, wordlistPath string, opts ...Option) (*Enumerator, error) {
	words, err := LoadWordlist(wordlistPath)
	if err != nil {
		return nil, err
	}

	e := &Enumerator{
		client:   client,
		wordlist: words,
		methods:  []string{http.MethodGet, http.MethodPost},
		delay:    200 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enumerate probes every wordlist entry against baseURL and calls emit
// with one JSON chunk per responsive path. Probing is sequential, so
// chunks arrive in wordlist order. Individual request errors are skipped;
// the run ends on context cancellation, emit failure, or wordlist
// exhaustion.
func (e *Enumerator) Enumerate(ctx context.Context, baseURL string, emit func(chunk []byte) error) error {
	base, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("dirbust: parse url %s: %w", baseURL, err)
	}

	limiter := rate.NewLimiter(rate.Every(e.delay), 1)

	for _, word := range e.wordlist {
		for _, method := range e.methods {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("dirbust: cancelled: %w", err)
			}

			target := base.JoinPath(word).String()
			resp, reqErr := e.client.Do(ctx, &transport.Request{Method: method, URL: target})
			if reqErr != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("dirbust: cancelled: %w", ctx.Err())
				}
				e.logger.Debug("probe request failed", "path", word, "error", reqErr)
				continue
			}

			if !interesting(resp.StatusCode) {
				continue
			}

			hit := Hit{
				Method:        method,
				Path:          "/" + strings.TrimPrefix(word, "/"),
				URL:           target,
				StatusCode:    resp.StatusCode,
				ContentLength: resp.ContentLength,
			}
			chunk, err := json.Marshal(hit)
			if err != nil {
				return fmt.Errorf("dirbust: marshal hit: %w", err)
			}
			if err := emit(append(chunk, '\n')); err != nil {
				return fmt.Errorf("dirbust: emit: %w", err)
			}
		}
	}

	return nil
}

// interesting filters out statuses that carry no discovery signal.
func interesting(status int) bool {
	switch {
	case status == http.StatusNotFound:
		return false
	case status >= http.StatusInternalServerError:
		return false
	default:
		return true
	}
}
