// Package probe implements the dictionary-driven injection probe engine.
// Each payload from a dictionary is appended to every parameter of a base
// request template; responses are timed, logged, and classified.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/recondeck/recondeck/internal/transport"
)

// Template is the base request the payloads are applied to.
type Template struct {
	URL     string
	Method  string
	Params  map[string]string // query parameters
	Body    map[string]string // body fields
	Headers map[string]string
}

// Attempt is the outcome of sending one derived request.
type Attempt struct {
	Payload    string
	Request    *transport.Request
	Elapsed    time.Duration
	StatusCode int
	Outcome    string // status text, or the error message on failure
	Failed     bool
	Timestamp  time.Time
}

// Finding records a payload whose response carried a non-empty body. This
// is a deliberately coarse signal; no body-pattern matching is performed.
type Finding struct {
	Payload  string
	Request  *transport.Request
	Status   string
	BodySize int
}

// DefaultDelay is the fixed pause enforced between attempts.
const DefaultDelay = 500 * time.Millisecond

// Engine runs payload dictionaries against a request template.
type Engine struct {
	client    transport.Client
	logPath   string
	delay     time.Duration
	logger    *slog.Logger
	onAttempt func(Attempt)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelay overrides the fixed inter-request delay.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithAttemptCallback registers a function called after every attempt,
// failed ones included.
func WithAttemptCallback(fn func(Attempt)) Option {
	return func(e *Engine) { e.onAttempt = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a probe engine. logPath is the attempt log artifact,
// truncated at the start of every run.
func NewEngine(client transport.Client, logPath string, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		logPath: logPath,
		delay:   DefaultDelay,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run loads the payload dictionary and sends one derived request per
// payload. Individual request failures are logged and skipped; the run
// only aborts on context cancellation or when the dictionary or log file
// is unusable.
func (e *Engine) Run(ctx context.Context, tpl Template, dictionaryPath string) ([]Finding, error) {
	payloads, err := LoadDictionary(dictionaryPath)
	if err != nil {
		return nil, err
	}

	// Truncate the log artifact at run start.
	logFile, err := os.Create(e.logPath)
	if err != nil {
		return nil, fmt.Errorf("probe: create log %s: %w", e.logPath, err)
	}
	defer logFile.Close()

	// One token per delay interval gives a fixed inter-request pause.
	limiter := rate.NewLimiter(rate.Every(e.delay), 1)

	var findings []Finding
	for _, payload := range payloads {
		if err := limiter.Wait(ctx); err != nil {
			return findings, fmt.Errorf("probe: cancelled: %w", err)
		}

		req := deriveRequest(tpl, payload)

		start := time.Now()
		resp, reqErr := e.client.Do(ctx, req)
		elapsed := time.Since(start)

		attempt := Attempt{
			Payload:   payload,
			Request:   req,
			Elapsed:   elapsed,
			Timestamp: time.Now(),
		}

		e.logRequest(logFile, req, payload, elapsed)

		if reqErr != nil {
			if ctx.Err() != nil {
				return findings, fmt.Errorf("probe: cancelled: %w", ctx.Err())
			}
			attempt.Failed = true
			attempt.Outcome = reqErr.Error()
			fmt.Fprintf(logFile, "[Response]: error:%s - %s\n", reqErr, payload)
			e.logger.Debug("probe request failed", "payload", payload, "error", reqErr)
			e.emit(attempt)
			continue
		}

		attempt.StatusCode = resp.StatusCode
		attempt.Outcome = resp.Status
		fmt.Fprintf(logFile, "[Response]: %s - %s\n", resp.Status, payload)

		if len(resp.Body) > 0 {
			findings = append(findings, Finding{
				Payload:  payload,
				Request:  req,
				Status:   resp.Status,
				BodySize: len(resp.Body),
			})
		}

		e.emit(attempt)
	}

	return findings, nil
}

func (e *Engine) emit(a Attempt) {
	if e.onAttempt != nil {
		e.onAttempt(a)
	}
}

func (e *Engine) logRequest(f *os.File, req *transport.Request, payload string, elapsed time.Duration) {
	params, _ := json.Marshal(req.Query)
	body, _ := json.Marshal(req.Form)
	fmt.Fprintf(f, "[Request]: time:%s - %s - %s - %s - %s - %s\n",
		elapsed, req.URL, req.Method, params, body, payload)
}

// deriveRequest appends the payload to every query parameter and body
// field of the template independently. Values are concatenated, never
// replaced, so the original value stays in place.
func deriveRequest(tpl Template, payload string) *transport.Request {
	req := &transport.Request{
		Method:  tpl.Method,
		URL:     tpl.URL,
		Headers: tpl.Headers,
	}
	if len(tpl.Params) > 0 {
		req.Query = make(map[string]string, len(tpl.Params))
		for k, v := range tpl.Params {
			req.Query[k] = v + payload
		}
	}
	if len(tpl.Body) > 0 {
		req.Form = make(map[string]string, len(tpl.Body))
		for k, v := range tpl.Body {
			req.Form[k] = v + payload
		}
	}
	return req
}
