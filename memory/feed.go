package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

const (
	// seqSuffix is appended to every sequence number so tokens look like
	// the opaque "N-..." strings a clustered server hands out.
	seqSuffix = "g1AAAAA"

	defaultTimeout = 60 * time.Second
)

// document is the current state of a document in the feed.
type document struct {
	rev     string
	seq     int64
	deleted bool
	body    map[string]json.RawMessage
}

// fault is a scripted failure returned by the next request.
type fault struct {
	status int
	body   string
}

// Feed is an in-memory database that answers change feed long-polls.
// It implements changefeed.Transport and is suitable for testing and
// demonstration purposes.
type Feed struct {
	db string

	mu      sync.RWMutex
	docs    map[string]*document
	seq     int64
	changed chan struct{} // closed and replaced on every write
	faults  []fault
	maxWait time.Duration
}

var _ changefeed.Transport = (*Feed)(nil)

// NewFeed creates an empty in-memory feed for database db.
func NewFeed(db string) *Feed {
	return &Feed{
		db:      db,
		docs:    make(map[string]*document),
		changed: make(chan struct{}),
	}
}

// Database returns the database name the feed answers for.
func (f *Feed) Database() string {
	return f.db
}

// Seq returns the sequence token of the latest write.
func (f *Feed) Seq() changefeed.Cursor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return formatSeq(f.seq)
}

// Put creates or updates document id with body, which must marshal to a
// JSON object. It returns the new revision.
func (f *Feed) Put(id string, body interface{}) (string, error) {
	if id == "" {
		return "", errors.NotValidf("empty document id")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", errors.Annotatef(err, "marshalling document %q", id)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", errors.NotValidf("document %q body (not a JSON object)", id)
	}
	delete(fields, "_id")
	delete(fields, "_rev")
	delete(fields, "_deleted")

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(id, fields, false, raw), nil
}

// Delete marks document id as deleted and returns the tombstone revision.
func (f *Feed) Delete(id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, exists := f.docs[id]
	if !exists || doc.deleted {
		return "", errors.NotFoundf("document %q", id)
	}
	return f.write(id, nil, true, []byte(doc.rev)), nil
}

// SetMaxWait caps how long a long-poll waits for new changes, whatever
// timeout the request asks for. Zero removes the cap.
func (f *Feed) SetMaxWait(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxWait = d
}

// FailNext makes the next request fail with status and body.
// Faults queue up and are consumed in order.
func (f *Feed) FailNext(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{status: status, body: body})
}

// write must be called with f.mu held.
func (f *Feed) write(id string, fields map[string]json.RawMessage, deleted bool, content []byte) string {
	gen := 1
	if prev, exists := f.docs[id]; exists {
		gen = revGeneration(prev.rev) + 1
	}
	sum := md5.Sum(append([]byte(fmt.Sprintf("%s/%d/", id, gen)), content...))

	f.seq++
	f.docs[id] = &document{
		rev:     fmt.Sprintf("%d-%s", gen, hex.EncodeToString(sum[:])),
		seq:     f.seq,
		deleted: deleted,
		body:    fields,
	}

	close(f.changed)
	f.changed = make(chan struct{})
	return f.docs[id].rev
}

// Request answers GET <db>/_changes requests.
func (f *Feed) Request(ctx context.Context, req changefeed.Request) (*changefeed.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp := f.nextFault(); resp != nil {
		return resp, nil
	}
	if req.Path != url.PathEscape(f.db)+"/_changes" {
		return errorResponse(http.StatusNotFound, "not_found", "Database does not exist."), nil
	}
	if req.Method != http.MethodGet {
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "Only GET allowed"), nil
	}

	q, errResp := f.parseQuery(req.Query)
	if errResp != nil {
		return errResp, nil
	}

	for {
		f.mu.RLock()
		body, found := f.changes(q)
		wait := f.changed
		f.mu.RUnlock()

		if found || !q.longPoll {
			return &changefeed.Response{StatusCode: http.StatusOK, Body: body}, nil
		}

		timer := time.NewTimer(time.Until(q.deadline))
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return &changefeed.Response{StatusCode: http.StatusOK, Body: body}, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (f *Feed) nextFault() *changefeed.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.faults) == 0 {
		return nil
	}
	ft := f.faults[0]
	f.faults = f.faults[1:]
	return &changefeed.Response{StatusCode: ft.status, Body: []byte(ft.body)}
}

type changesQuery struct {
	since       int64
	limit       int
	includeDocs bool
	longPoll    bool
	deadline    time.Time
}

func (f *Feed) parseQuery(values url.Values) (changesQuery, *changefeed.Response) {
	q := changesQuery{
		includeDocs: values.Get("include_docs") == "true",
		longPoll:    values.Get("feed") == "longpoll",
	}

	switch since := values.Get("since"); since {
	case "", changefeed.Origin.String():
	case changefeed.Now.String():
		f.mu.RLock()
		q.since = f.seq
		f.mu.RUnlock()
	default:
		n, ok := parseSeq(since)
		if !ok {
			return q, errorResponse(http.StatusBadRequest, "bad_request", "Malformed sequence supplied in 'since' parameter.")
		}
		q.since = n
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, errorResponse(http.StatusBadRequest, "bad_request", "Invalid limit")
		}
		q.limit = n
	}

	timeout := defaultTimeout
	if v := values.Get("timeout"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return q, errorResponse(http.StatusBadRequest, "bad_request", "Invalid timeout")
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	f.mu.RLock()
	if f.maxWait > 0 && timeout > f.maxWait {
		timeout = f.maxWait
	}
	f.mu.RUnlock()
	q.deadline = time.Now().Add(timeout)
	return q, nil
}

type changeRow struct {
	Seq     string          `json:"seq"`
	ID      string          `json:"id"`
	Changes []revEntry      `json:"changes"`
	Deleted bool            `json:"deleted,omitempty"`
	Doc     json.RawMessage `json:"doc,omitempty"`
}

type revEntry struct {
	Rev string `json:"rev"`
}

type changesReply struct {
	Results []changeRow `json:"results"`
	LastSeq string      `json:"last_seq"`
	Pending int64       `json:"pending"`
}

// changes must be called with f.mu held. It reports whether any rows matched.
func (f *Feed) changes(q changesQuery) ([]byte, bool) {
	var matched []string
	for id, doc := range f.docs {
		if doc.seq > q.since {
			matched = append(matched, id)
		}
	}
	sortBySeq(matched, f.docs)

	reply := changesReply{Results: []changeRow{}, LastSeq: formatSeq(q.since).String()}
	if q.limit > 0 && len(matched) > q.limit {
		reply.Pending = int64(len(matched) - q.limit)
		matched = matched[:q.limit]
	}
	for _, id := range matched {
		doc := f.docs[id]
		row := changeRow{
			Seq:     formatSeq(doc.seq).String(),
			ID:      id,
			Changes: []revEntry{{Rev: doc.rev}},
			Deleted: doc.deleted,
		}
		if q.includeDocs {
			row.Doc = doc.render(id)
		}
		reply.Results = append(reply.Results, row)
		reply.LastSeq = row.Seq
	}

	body, _ := json.Marshal(reply)
	return body, len(matched) > 0
}

func (d *document) render(id string) json.RawMessage {
	out := make(map[string]interface{}, len(d.body)+3)
	for k, v := range d.body {
		out[k] = v
	}
	out["_id"] = id
	out["_rev"] = d.rev
	if d.deleted {
		out["_deleted"] = true
	}
	raw, _ := json.Marshal(out)
	return raw
}

func sortBySeq(ids []string, docs map[string]*document) {
	sort.Slice(ids, func(i, j int) bool {
		return docs[ids[i]].seq < docs[ids[j]].seq
	})
}

func formatSeq(n int64) changefeed.Cursor {
	if n == 0 {
		return changefeed.Origin
	}
	return changefeed.Cursor(fmt.Sprintf("%d-%s", n, seqSuffix))
}

// parseSeq accepts "N" and "N-<anything>".
func parseSeq(s string) (int64, bool) {
	head, _, _ := strings.Cut(s, "-")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func revGeneration(rev string) int {
	head, _, _ := strings.Cut(rev, "-")
	n, _ := strconv.Atoi(head)
	return n
}

func errorResponse(status int, name, reason string) *changefeed.Response {
	body, _ := json.Marshal(map[string]string{"error": name, "reason": reason})
	return &changefeed.Response{StatusCode: status, Body: body}
}
