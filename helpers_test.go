package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// step is one scripted reply of a scriptedTransport.
type step struct {
	since  Cursor // expected since parameter; empty skips the check
	status int
	body   string
	err    error
	hold   chan struct{} // if set, the reply waits until hold is closed
}

// scriptedTransport replies with its steps in order. Once the script is
// exhausted it blocks until the request context is done or Close is called.
type scriptedTransport struct {
	t     *testing.T
	steps []step

	mu   sync.Mutex
	reqs []Request

	inflight  chan int
	exhausted chan struct{}
	closed    chan struct{}
	exOnce    sync.Once
	closeOnce sync.Once
}

func newScriptedTransport(t *testing.T, steps ...step) *scriptedTransport {
	return &scriptedTransport{
		t:         t,
		steps:     steps,
		inflight:  make(chan int, len(steps)+16),
		exhausted: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (f *scriptedTransport) Request(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	f.mu.Unlock()

	select {
	case f.inflight <- n:
	default:
	}

	if n > len(f.steps) {
		f.exOnce.Do(func() { close(f.exhausted) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.closed:
			return nil, errors.New("transport closed")
		}
	}

	s := f.steps[n-1]
	if s.since != "" && req.Query.Get("since") != s.since.String() {
		f.t.Errorf("request %d: since = %q, want %q", n, req.Query.Get("since"), s.since)
	}
	if s.hold != nil {
		<-s.hold
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Response{StatusCode: s.status, Body: []byte(s.body)}, nil
}

func (f *scriptedTransport) Close() {
	f.closeOnce.Do(func() { close(f.closed) })
}

func (f *scriptedTransport) requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.reqs...)
}

func (f *scriptedTransport) waitExhausted(t *testing.T) {
	t.Helper()
	select {
	case <-f.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %d scripted requests, got %d", len(f.steps), len(f.requests()))
	}
}

// recorder is a Sink that logs every notification as a short string.
type recorder struct {
	mu      sync.Mutex
	log     []string
	batches [][]MutationRecord
	changes []MutationRecord
	errs    []error

	// onNotify is called after a notification was recorded
	onNotify func(entry string)
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	r.log = append(r.log, entry)
	hook := r.onNotify
	r.mu.Unlock()
	if hook != nil {
		hook(entry)
	}
}

func (r *recorder) OnBatch(records []MutationRecord) {
	r.mu.Lock()
	r.batches = append(r.batches, records)
	r.mu.Unlock()
	r.add(fmt.Sprintf("batch:%d", len(records)))
}

func (r *recorder) OnChange(record MutationRecord) {
	r.mu.Lock()
	r.changes = append(r.changes, record)
	r.mu.Unlock()
	r.add("change:" + record.ID)
}

func (r *recorder) OnSeq(cursor Cursor) {
	r.add("seq:" + cursor.String())
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	var entry string
	if code := StatusCode(err); code != 0 {
		entry = fmt.Sprintf("error:%d", code)
	} else {
		entry = "error:" + errorKind(err)
	}
	r.add(entry)
}

func (r *recorder) OnEnd() {
	r.add("end")
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) errorList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) seqs() []string {
	var out []string
	for _, e := range r.entries() {
		if strings.HasPrefix(e, "seq:") {
			out = append(out, strings.TrimPrefix(e, "seq:"))
		}
	}
	return out
}

func newTestChangesReader(t *testing.T, transport Transport) *ChangesReader {
	t.Helper()
	cr, err := NewChangesReader(Config{Transport: transport, Database: "testdb"})
	if err != nil {
		t.Fatalf("Failed to create changes reader: %v", err)
	}
	return cr
}

// stopAndWait stops r, releases a blocked transport and waits for the loop to exit.
func stopAndWait(t *testing.T, r *Reader, f *scriptedTransport) {
	t.Helper()
	r.Stop()
	f.Close()
	if err := r.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func waitDone(t *testing.T, r *Reader) error {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reader to finish")
	}
	return r.Wait()
}

func emptyBody(lastSeq string) string {
	return fmt.Sprintf(`{"results":[],"last_seq":%q,"pending":0}`, lastSeq)
}

func rowsBody(lastSeq string, pending int, ids ...string) string {
	rows := make([]string, len(ids))
	for i, id := range ids {
		rows[i] = fmt.Sprintf(`{"seq":null,"id":%q,"changes":["1-1"]}`, id)
	}
	return fmt.Sprintf(`{"results":[%s],"last_seq":%q,"pending":%d}`, strings.Join(rows, ","), lastSeq, pending)
}
