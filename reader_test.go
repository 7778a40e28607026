package changefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	jujuerrors "github.com/juju/errors"
	"github.com/juju/worker/v4"
)

func TestReader_OnePollNoChanges(t *testing.T) {
	f := newScriptedTransport(t, step{since: Now, status: 200, body: emptyBody("1-0")})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	expected := []string{"batch:0", "seq:1-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}

	req := f.requests()[0]
	if req.Method != http.MethodGet {
		t.Errorf("Expected GET, got %s", req.Method)
	}
	if req.Path != "testdb/_changes" {
		t.Errorf("Expected path 'testdb/_changes', got '%s'", req.Path)
	}
	wantQuery := map[string]string{
		"feed":         "longpoll",
		"timeout":      "60000",
		"since":        "now",
		"limit":        "100",
		"heartbeat":    "5000",
		"seq_interval": "100",
		"include_docs": "false",
	}
	for k, v := range wantQuery {
		if got := req.Query.Get(k); got != v {
			t.Errorf("Expected query %s=%s, got %s", k, v, got)
		}
	}
	if len(req.Query) != len(wantQuery) {
		t.Errorf("Expected %d query parameters, got %d: %v", len(wantQuery), len(req.Query), req.Query)
	}
	if r.Cursor() != "1-0" {
		t.Errorf("Expected cursor '1-0', got '%s'", r.Cursor())
	}
	if r.State() != Stopped {
		t.Errorf("Expected state stopped, got %s", r.State())
	}
}

func TestReader_OnePollMultiChanges(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}
	f := newScriptedTransport(t, step{since: Now, status: 200, body: rowsBody("1-0", 0, ids...)})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	expected := []string{"batch:5", "change:1", "change:2", "change:3", "change:4", "change:5", "seq:1-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}

	for i, c := range rec.changes {
		want := MutationRecord{ID: ids[i], Revisions: []string{"1-1"}}
		if !reflect.DeepEqual(c, want) {
			t.Errorf("Change %d: expected %+v, got %+v", i, want, c)
		}
	}
	if !reflect.DeepEqual(rec.batches[0], rec.changes) {
		t.Errorf("Expected batch to hold the same records as the change notifications")
	}
}

func TestReader_MultiplePolls(t *testing.T) {
	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: emptyBody("1-0")},
		step{since: "1-0", status: 200, body: emptyBody("1-0")},
		step{since: "1-0", status: 200, body: rowsBody("2-0", 0, "a")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	expected := []string{"batch:0", "seq:1-0", "batch:0", "seq:1-0", "batch:1", "change:a", "seq:2-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
	if got := f.requests()[3].Query.Get("since"); got != "2-0" {
		t.Errorf("Expected fourth poll since '2-0', got '%s'", got)
	}
}

func TestReader_Parameters(t *testing.T) {
	tests := []struct {
		name        string
		config      ReaderConfig
		wantSince   string
		wantLimit   string
		wantInclude string
	}{
		{
			name:        "batch size",
			config:      ReaderConfig{BatchSize: 44},
			wantSince:   "now",
			wantLimit:   "44",
			wantInclude: "false",
		},
		{
			name:        "since",
			config:      ReaderConfig{BatchSize: 44, Since: "thedawnoftime"},
			wantSince:   "thedawnoftime",
			wantLimit:   "44",
			wantInclude: "false",
		},
		{
			name:        "include docs",
			config:      ReaderConfig{IncludeDocs: true, Since: Origin},
			wantSince:   "0",
			wantLimit:   "100",
			wantInclude: "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScriptedTransport(t, step{status: 200, body: emptyBody("1-0")})
			rec := &recorder{}

			r, err := newTestChangesReader(t, f).Start(context.Background(), tt.config, rec)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			f.waitExhausted(t)
			stopAndWait(t, r, f)

			q := f.requests()[0].Query
			if q.Get("since") != tt.wantSince {
				t.Errorf("Expected since=%s, got %s", tt.wantSince, q.Get("since"))
			}
			if q.Get("limit") != tt.wantLimit || q.Get("seq_interval") != tt.wantLimit {
				t.Errorf("Expected limit and seq_interval %s, got %s and %s", tt.wantLimit, q.Get("limit"), q.Get("seq_interval"))
			}
			if q.Get("include_docs") != tt.wantInclude {
				t.Errorf("Expected include_docs=%s, got %s", tt.wantInclude, q.Get("include_docs"))
			}
			if got := rec.seqs(); !reflect.DeepEqual(got, []string{"1-0"}) {
				t.Errorf("Expected seq [1-0], got %v", got)
			}
		})
	}
}

func TestReader_SurvivesServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantName  string
		wantEntry string
	}{
		{name: "500", status: 500, wantEntry: "error:500"},
		{
			name:      "429",
			status:    429,
			body:      `{"error":"too_many_requests","reason":"You've exceeded your current limit of x requests per second for x class. Please try later.","class":"x","rate":1}`,
			wantName:  "too_many_requests",
			wantEntry: "error:429",
		},
		{name: "503", status: 503, body: "<html>unavailable</html>", wantEntry: "error:503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScriptedTransport(t,
				step{since: Now, status: 200, body: emptyBody("1-0")},
				step{since: "1-0", status: tt.status, body: tt.body},
				step{since: "1-0", status: 200, body: rowsBody("2-0", 0, "a")},
			)
			rec := &recorder{}

			r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			f.waitExhausted(t)
			stopAndWait(t, r, f)

			expected := []string{"batch:0", "seq:1-0", tt.wantEntry, "batch:1", "change:a", "seq:2-0"}
			if got := rec.entries(); !reflect.DeepEqual(got, expected) {
				t.Errorf("Expected notifications %v, got %v", expected, got)
			}

			var serverErr *ServerError
			if !errors.As(rec.errorList()[0], &serverErr) {
				t.Fatalf("Expected *ServerError, got %T", rec.errorList()[0])
			}
			if serverErr.ErrorName != tt.wantName {
				t.Errorf("Expected error name %q, got %q", tt.wantName, serverErr.ErrorName)
			}
		})
	}
}

func TestReader_SurvivesMalformedJSON(t *testing.T) {
	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: `{ results: [], last_seq: "1-0", pending: 0`},
		step{since: Now, status: 200, body: rowsBody("1-0", 0, "a")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	expected := []string{"error:malformed", "batch:1", "change:a", "seq:1-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
}

func TestReader_SurvivesTransportFailure(t *testing.T) {
	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: emptyBody("1-0")},
		step{since: "1-0", err: errors.New("connection reset by peer")},
		step{since: "1-0", status: 200, body: rowsBody("2-0", 0, "a")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	expected := []string{"batch:0", "seq:1-0", "error:transport", "batch:1", "change:a", "seq:2-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
	var transportErr *TransportError
	if !errors.As(rec.errorList()[0], &transportErr) {
		t.Errorf("Expected *TransportError, got %T", rec.errorList()[0])
	}
}

func TestReader_ClientErrorsAreReported(t *testing.T) {
	tests := []struct {
		name       string
		since      Cursor
		status     int
		body       string
		wantReason string
	}{
		{name: "bad credentials", since: Now, status: 401},
		{
			name:       "bad since value",
			since:      "badtoken",
			status:     400,
			body:       `{"error":"bad_request","reason":"Malformed sequence supplied in 'since' parameter."}`,
			wantReason: "Malformed sequence supplied in 'since' parameter.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScriptedTransport(t,
				step{since: tt.since, status: tt.status, body: tt.body},
				step{since: tt.since, status: tt.status, body: tt.body},
			)
			rec := &recorder{}

			r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{Since: tt.since}, rec)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			f.waitExhausted(t)
			stopAndWait(t, r, f)

			// The loop keeps polling the same cursor after a client error.
			want := fmt.Sprintf("error:%d", tt.status)
			expected := []string{want, want}
			if got := rec.entries(); !reflect.DeepEqual(got, expected) {
				t.Errorf("Expected notifications %v, got %v", expected, got)
			}
			var serverErr *ServerError
			if !errors.As(rec.errorList()[0], &serverErr) {
				t.Fatalf("Expected *ServerError, got %T", rec.errorList()[0])
			}
			if serverErr.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, serverErr.Reason)
			}
			if r.Cursor() != tt.since {
				t.Errorf("Expected cursor to stay at %s, got %s", tt.since, r.Cursor())
			}
		})
	}
}

func TestReader_Get_StopOnNoChanges(t *testing.T) {
	f := newScriptedTransport(t, step{since: "thedawnoftime", status: 200, body: emptyBody("1-0")})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Get(context.Background(), ReaderConfig{BatchSize: 45, Since: "thedawnoftime"}, rec)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	expected := []string{"batch:0", "seq:1-0", "end"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
	if n := len(f.requests()); n != 1 {
		t.Errorf("Expected exactly 1 poll, got %d", n)
	}
	if r.State() != Ended {
		t.Errorf("Expected state ended, got %s", r.State())
	}
}

func TestReader_Get_StopsOnlyOnEmptyBatch(t *testing.T) {
	batch1 := make([]string, 45)
	for i := range batch1 {
		batch1[i] = fmt.Sprintf("a%d", i)
	}
	batch2 := []string{"b0", "b1", "b2", "b3", "b4"}

	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: rowsBody("45-0", 2, batch1...)},
		step{since: "45-0", status: 200, body: rowsBody("50-0", 0, batch2...)},
		step{since: "50-0", status: 200, body: emptyBody("50-0")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Get(context.Background(), ReaderConfig{BatchSize: 45}, rec)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	if got := rec.seqs(); !reflect.DeepEqual(got, []string{"45-0", "50-0", "50-0"}) {
		t.Errorf("Expected seqs [45-0 50-0 50-0], got %v", got)
	}
	if n := len(rec.changes); n != 50 {
		t.Errorf("Expected 50 changes, got %d", n)
	}
	entries := rec.entries()
	if entries[len(entries)-1] != "end" {
		t.Errorf("Expected last notification to be end, got %s", entries[len(entries)-1])
	}
	ends := 0
	for _, e := range entries {
		if e == "end" {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("Expected exactly one end, got %d", ends)
	}
	if n := len(f.requests()); n != 3 {
		t.Errorf("Expected 3 polls, got %d", n)
	}
}

func TestReader_Get_StopOnZeroPending(t *testing.T) {
	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: rowsBody("45-0", 2, "a0", "a1")},
		step{since: "45-0", status: 200, body: rowsBody("90-0", 0, "b0")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Get(context.Background(), ReaderConfig{BatchSize: 45, StopOnZeroPending: true}, rec)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	expected := []string{"batch:2", "change:a0", "change:a1", "seq:45-0", "batch:1", "change:b0", "seq:90-0", "end"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
	if n := len(f.requests()); n != 2 {
		t.Errorf("Expected 2 polls, got %d", n)
	}
}

func TestReader_Get_RecoversBeforeEnd(t *testing.T) {
	f := newScriptedTransport(t,
		step{since: Now, status: 200, body: rowsBody("1-0", 0, "a")},
		step{since: "1-0", status: 500},
		step{since: "1-0", status: 200, body: emptyBody("1-0")},
	)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Get(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	expected := []string{"batch:1", "change:a", "seq:1-0", "error:500", "batch:0", "seq:1-0", "end"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
}

func TestReader_CursorAdvancesOnlyOnSuccess(t *testing.T) {
	var steps []step
	var wantIDs []string
	since := Now
	for i := 1; i <= 20; i++ {
		switch i % 4 {
		case 0:
			steps = append(steps, step{since: since, status: 500})
		case 2:
			steps = append(steps, step{since: since, status: 200, body: "not json"})
		default:
			next := Cursor(fmt.Sprintf("%d-0", i))
			id := fmt.Sprintf("doc%d", i)
			steps = append(steps, step{since: since, status: 200, body: rowsBody(next.String(), 0, id)})
			wantIDs = append(wantIDs, id)
			since = next
		}
	}
	f := newScriptedTransport(t, steps...)
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	stopAndWait(t, r, f)

	var gotIDs []string
	for _, c := range rec.changes {
		gotIDs = append(gotIDs, c.ID)
	}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Errorf("Expected changes %v, got %v", wantIDs, gotIDs)
	}
	if r.Cursor() != since {
		t.Errorf("Expected final cursor %s, got %s", since, r.Cursor())
	}
	if n := len(rec.errorList()); n != 10 {
		t.Errorf("Expected 10 errors, got %d", n)
	}
}

func TestReader_StopIsIdempotent(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: emptyBody("1-0")})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	r.Stop()
	r.Stop()
	stopAndWait(t, r, f)
	r.Stop()
	r.Kill()

	if err := r.Wait(); err != nil {
		t.Errorf("Expected nil from repeated Wait, got %v", err)
	}
	expected := []string{"batch:0", "seq:1-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
}

func TestReader_WorkerStop(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: emptyBody("1-0")})

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, &recorder{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	r.Kill()
	f.Close()
	if err := worker.Stop(r); err != nil {
		t.Errorf("Expected nil from worker.Stop, got %v", err)
	}
	if r.State() != Stopped {
		t.Errorf("Expected stopped state, got %s", r.State())
	}
}

func TestReader_StopAfterEnd(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: emptyBody("1-0")})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Get(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	r.Stop()
	f.Close()

	if r.State() != Ended {
		t.Errorf("Expected state to remain ended, got %s", r.State())
	}
	if got := rec.entries(); len(got) != 3 {
		t.Errorf("Expected no notifications after end, got %v", got)
	}
}

func TestReader_StopFromChangeCallback(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: rowsBody("1-0", 0, "1", "2", "3", "4", "5")})
	readers := make(chan *Reader, 1)
	rec := &recorder{}
	rec.onNotify = func(entry string) {
		if entry == "change:2" {
			(<-readers).Stop()
		}
	}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	readers <- r
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	expected := []string{"batch:5", "change:1", "change:2"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
	if r.Cursor() != Now {
		t.Errorf("Expected cursor to stay at now, got %s", r.Cursor())
	}
	if n := len(f.requests()); n != 1 {
		t.Errorf("Expected 1 poll, got %d", n)
	}
}

func TestReader_StopFromSeqCallback(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: rowsBody("1-0", 0, "a")})
	readers := make(chan *Reader, 1)
	rec := &recorder{}
	rec.onNotify = func(entry string) {
		if entry == "seq:1-0" {
			(<-readers).Stop()
		}
	}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	readers <- r
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	if r.Cursor() != "1-0" {
		t.Errorf("Expected cursor 1-0, got %s", r.Cursor())
	}
	if n := len(f.requests()); n != 1 {
		t.Errorf("Expected no poll after stop, got %d polls", n)
	}
}

func TestReader_StopDropsInflightResult(t *testing.T) {
	hold := make(chan struct{})
	f := newScriptedTransport(t, step{status: 200, body: rowsBody("1-0", 0, "a"), hold: hold})
	rec := &recorder{}

	r, err := newTestChangesReader(t, f).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-f.inflight
	r.Stop()
	close(hold)
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	f.Close()

	if got := rec.entries(); len(got) != 0 {
		t.Errorf("Expected no notifications, got %v", got)
	}
	if r.Cursor() != Now {
		t.Errorf("Expected cursor to stay at now, got %s", r.Cursor())
	}
	if r.State() != Stopped {
		t.Errorf("Expected state stopped, got %s", r.State())
	}
}

func TestReader_ContextCancelled(t *testing.T) {
	f := newScriptedTransport(t, step{status: 200, body: emptyBody("1-0")})
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := newTestChangesReader(t, f).Start(ctx, ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.waitExhausted(t)
	cancel()

	if err := waitDone(t, r); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	f.Close()

	expected := []string{"batch:0", "seq:1-0"}
	if got := rec.entries(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected notifications %v, got %v", expected, got)
	}
}

func TestReader_NilResponse(t *testing.T) {
	calls := 0
	readers := make(chan *Reader, 1)
	transport := TransportFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls++
		if calls > 1 {
			(<-readers).Stop()
		}
		return nil, nil
	})
	rec := &recorder{}

	r, err := newTestChangesReader(t, transport).Start(context.Background(), ReaderConfig{}, rec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	readers <- r
	if err := waitDone(t, r); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	errs := rec.errorList()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	var transportErr *TransportError
	if !errors.As(errs[0], &transportErr) {
		t.Errorf("Expected *TransportError, got %T", errs[0])
	}
}

func TestChangesReader_InvalidConfig(t *testing.T) {
	if _, err := NewChangesReader(Config{Database: "db"}); !jujuerrors.Is(err, jujuerrors.NotValid) {
		t.Errorf("Expected not valid error for nil transport, got %v", err)
	}
	if _, err := NewChangesReader(Config{Transport: newScriptedTransport(t)}); !jujuerrors.Is(err, jujuerrors.NotValid) {
		t.Errorf("Expected not valid error for empty database, got %v", err)
	}

	cr := newTestChangesReader(t, newScriptedTransport(t))
	if _, err := cr.Start(context.Background(), ReaderConfig{BatchSize: -1}, &recorder{}); !errors.Is(err, ErrInvalidBatchSize) {
		t.Errorf("Expected ErrInvalidBatchSize, got %v", err)
	}
	if _, err := cr.Get(context.Background(), ReaderConfig{}, nil); err == nil {
		t.Error("Expected error for nil sink")
	}
}
