package memory

import (
	"context"
	"net/http"
	"strings"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// ServeHTTP answers change feed requests over HTTP, so a Feed can stand in
// for a real server behind httptest.NewServer.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := f.Request(r.Context(), changefeed.Request{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.EscapedPath(), "/"),
		Query:  r.URL.Query(),
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
