// Package dispatch decouples port scanning from the request path. The API
// process publishes jobs to a broker, a worker pool executes them, and a
// result consumer persists the outcomes keyed by client id.
package dispatch

import "context"

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Handler processes one delivered payload. It returns true to acknowledge
// the message and false to have it redelivered.
type Handler func(ctx context.Context, data []byte) bool

// Subscriber delivers payloads from a topic until the context ends.
type Subscriber interface {
	Receive(ctx context.Context, h Handler) error
}
