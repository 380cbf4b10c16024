// Package transport provides the HTTP transport abstraction used by the
// header audit, the directory enumerator, and the injection probe engine.
package transport

import "time"

// Request represents an HTTP request to be sent by the transport client.
// Query and Form are carried as explicit maps so probe flows can derive
// per-parameter variants before encoding.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// URL is the target URL. Query parameters already present in the URL
	// are preserved; Query entries are merged on top.
	URL string

	// Query contains query parameters to merge into the URL.
	Query map[string]string

	// Form contains body fields, form-encoded when Body is empty.
	Form map[string]string

	// Headers contains custom HTTP headers to include.
	Headers map[string]string

	// Body is a raw request body. When set it takes precedence over Form.
	Body string

	// ContentType is the Content-Type header value.
	ContentType string

	// FollowRedirects overrides the client-level redirect setting for
	// this specific request. nil means use the client default.
	FollowRedirects *bool

	// Timeout overrides the client-level timeout for this specific
	// request. Zero means use the client default.
	Timeout time.Duration
}

// Clone returns a deep copy of the Request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}

	clone := &Request{
		Method:      r.Method,
		URL:         r.URL,
		Body:        r.Body,
		ContentType: r.ContentType,
		Timeout:     r.Timeout,
	}

	clone.Query = cloneMap(r.Query)
	clone.Form = cloneMap(r.Form)
	clone.Headers = cloneMap(r.Headers)

	if r.FollowRedirects != nil {
		val := *r.FollowRedirects
		clone.FollowRedirects = &val
	}

	return clone
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
