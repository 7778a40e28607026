// Package fasthttptransport implements changefeed.Transport with valyala/fasthttp.
package fasthttptransport

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/valyala/fasthttp"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// DefaultTimeout bounds a request whose context has no deadline. It is
// longer than the 60 second long-poll timeout the reader asks for.
const DefaultTimeout = 90 * time.Second

// Config holds the settings of a Transport.
type Config struct {
	// URL is the server root, e.g. "http://localhost:5984".
	URL string

	Username string
	Password string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// Client defaults to a new fasthttp.Client.
	Client *fasthttp.Client
}

// Validate returns an error if the config is not valid.
func (cfg Config) Validate() error {
	if cfg.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return errors.NotValidf("URL %q", cfg.URL)
	}
	if cfg.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	return nil
}

// Transport sends change feed requests with a fasthttp.Client.
//
// fasthttp has no context support: a cancelled context makes Request return
// at once, while the abandoned call runs on until its deadline.
type Transport struct {
	base    string
	auth    string
	timeout time.Duration
	client  *fasthttp.Client
}

var _ changefeed.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	t := &Transport{
		base:    strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
	if t.timeout == 0 {
		t.timeout = DefaultTimeout
	}
	if t.client == nil {
		t.client = &fasthttp.Client{Name: "changefeed"}
	}
	if cfg.Username != "" {
		t.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return t, nil
}

type result struct {
	resp *changefeed.Response
	err  error
}

// Request performs req against the server.
func (t *Transport) Request(ctx context.Context, req changefeed.Request) (*changefeed.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}

	uri := t.base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		uri += "?" + req.Query.Encode()
	}

	done := make(chan result, 1)
	go func() {
		done <- t.do(req.Method, uri, deadline)
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Annotatef(r.err, "%s %s", req.Method, req.Path)
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) do(method, uri string, deadline time.Time) result {
	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(uri)
	httpReq.Header.SetMethod(method)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if t.auth != "" {
		httpReq.Header.Set("Authorization", t.auth)
	}

	if err := t.client.DoDeadline(httpReq, httpResp, deadline); err != nil {
		return result{err: err}
	}
	// The body buffer goes back to the pool on release.
	body := append([]byte(nil), httpResp.Body()...)
	return result{resp: &changefeed.Response{StatusCode: httpResp.StatusCode(), Body: body}}
}
