package changefeed

import (
	"net/url"

	"github.com/google/go-querystring/query"
	"github.com/juju/errors"
)

// Long-poll policy. These are fixed so that every poll has the same contract.
const (
	feedLongPoll       = "longpoll"
	longPollTimeoutMs  = 60000
	heartbeatMs        = 5000
	changesPathSegment = "_changes"
)

// QueryParams are the query string parameters of one `_changes` poll.
type QueryParams struct {
	Feed        string `url:"feed"`
	Timeout     int    `url:"timeout"`
	Since       Cursor `url:"since"`
	Limit       int    `url:"limit"`
	Heartbeat   int    `url:"heartbeat"`
	SeqInterval int    `url:"seq_interval"`
	IncludeDocs bool   `url:"include_docs"`
}

// BuildQuery returns the parameters for a poll starting at since.
// seq_interval follows the batch size so that even an empty page carries
// a usable last_seq.
func BuildQuery(cfg ReaderConfig, since Cursor) QueryParams {
	return QueryParams{
		Feed:        feedLongPoll,
		Timeout:     longPollTimeoutMs,
		Since:       since,
		Limit:       cfg.BatchSize,
		Heartbeat:   heartbeatMs,
		SeqInterval: cfg.BatchSize,
		IncludeDocs: cfg.IncludeDocs,
	}
}

// Values encodes the parameters as a URL query.
func (q QueryParams) Values() (url.Values, error) {
	v, err := query.Values(q)
	if err != nil {
		return nil, errors.Annotate(err, "failed to generate URL query from params")
	}
	return v, nil
}

// changesPath returns the request path for the feed of db.
func changesPath(db string) string {
	return url.PathEscape(db) + "/" + changesPathSegment
}
