// Package httptransport implements changefeed.Transport over net/http.
package httptransport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

var logger = loggo.GetLogger("changefeed.httptransport")

const (
	// RequestIDHeader carries a unique id for every request.
	RequestIDHeader = "X-Request-ID"

	// DefaultClientTimeout is longer than the 60 second long-poll timeout
	// the reader asks the server for.
	DefaultClientTimeout = 90 * time.Second

	// DefaultMaxBodyBytes bounds how much of a response is read when
	// Config.MaxBodyBytes is zero.
	DefaultMaxBodyBytes = 64 << 20
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config holds the settings of a Transport.
type Config struct {
	// URL is the server root, e.g. "https://account.cloudant.com".
	URL string

	// Username and Password enable basic authentication when Username is set.
	Username string
	Password string

	// Headers are added to every request.
	Headers http.Header

	// Client defaults to an *http.Client with DefaultClientTimeout.
	Client Doer

	// MaxBodyBytes is the largest response body accepted. A larger body
	// fails the request. It defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Validate returns an error if the config is not valid.
func (cfg Config) Validate() error {
	if cfg.URL == "" {
		return errors.NotValidf("empty URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return errors.NotValidf("URL %q", cfg.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NotValidf("URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.NotValidf("URL %q without host", cfg.URL)
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.NotValidf("negative MaxBodyBytes")
	}
	return nil
}

// Transport sends change feed requests with net/http.
type Transport struct {
	base     string
	username string
	password string
	headers  http.Header
	client   Doer
	maxBody  int64
}

var _ changefeed.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultClientTimeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Transport{
		base:     strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		headers:  cfg.Headers.Clone(),
		client:   client,
		maxBody:  maxBody,
	}, nil
}

// Request performs req against the server. Any status code is returned
// as a Response; only failures to get a response are errors.
func (t *Transport) Request(ctx context.Context, req changefeed.Request) (*changefeed.Response, error) {
	target := t.base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		return nil, errors.Annotate(err, "cannot make request")
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	if t.username != "" {
		httpReq.SetBasicAuth(t.username, t.password)
	}

	logger.Tracef("%s %s (request %s)", req.Method, req.Path, requestID)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.Annotatef(err, "%s %s", req.Method, req.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, errors.Annotatef(err, "reading response to %s %s", req.Method, req.Path)
	}
	if int64(len(body)) > t.maxBody {
		return nil, errors.Errorf("response to %s %s exceeds %d bytes", req.Method, req.Path, t.maxBody)
	}
	logger.Tracef("request %s: %d, %d bytes", requestID, resp.StatusCode, len(body))
	return &changefeed.Response{StatusCode: resp.StatusCode, Body: body}, nil
}
