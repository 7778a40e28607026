package changefeed

import (
	"context"
	"net/url"
)

// Request is one call to the database server.
type Request struct {
	Method string
	// Path is relative to the server root, e.g. "mydb/_changes"
	Path  string
	Query url.Values
}

// Response is the raw outcome of a Request that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs HTTP requests against the database server.
// Implementations handle TLS, authentication and connection pooling.
// An error return means no response was received; non-2xx statuses are
// reported through Response.StatusCode.
type Transport interface {
	Request(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

// Request calls f(ctx, req).
func (f TransportFunc) Request(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
