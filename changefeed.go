// Package changefeed provides a long-poll reader for document database change feeds.
//
// A ChangesReader polls the `_changes` endpoint of one database through a
// Transport, decomposes every returned batch into individual mutations and
// republishes them to a Sink as batch, change, seq, error and end notifications.
package changefeed

import (
	"encoding/json"
	"errors"
)

// Cursor is an opaque checkpoint token issued by the server.
// The reader never interprets it; it is only passed back verbatim as `since`.
type Cursor string

const (
	// Now starts reading from the current tail of the feed.
	Now Cursor = "now"
	// Origin starts reading from the very first mutation of the feed.
	Origin Cursor = "0"
)

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return c == ""
}

// String returns the raw token.
func (c Cursor) String() string {
	return string(c)
}

// MutationRecord is a single document mutation delivered by the feed.
type MutationRecord struct {
	// Seq is the per-record checkpoint. It is usually unset because the
	// server only emits one usable checkpoint per batch.
	Seq Cursor `json:"seq,omitempty"`
	// ID is the document id
	ID string `json:"id"`
	// Revisions lists the leaf revisions of the document, in server order
	Revisions []string `json:"changes"`
	// Deleted is true when the mutation is a deletion
	Deleted bool `json:"deleted,omitempty"`
	// Doc holds the document body when include_docs was requested
	Doc json.RawMessage `json:"doc,omitempty"`
}

// Batch is the result of one successful poll.
type Batch struct {
	// Records are the mutations in server order (may be empty)
	Records []MutationRecord
	// NextCursor is the checkpoint to resume from after this batch
	NextCursor Cursor
	// Pending is the server's estimate of mutations not yet delivered
	Pending int64
}

// Empty reports whether the batch carries no records.
func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// Mode selects how a reader terminates.
type Mode int

const (
	// Continuous polls until Stop is called.
	Continuous Mode = iota
	// StopOnEmpty polls until a batch with no records is returned.
	StopOnEmpty
)

func (m Mode) String() string {
	switch m {
	case Continuous:
		return "continuous"
	case StopOnEmpty:
		return "finite"
	default:
		return "unknown"
	}
}

// DefaultBatchSize is used when ReaderConfig.BatchSize is zero.
const DefaultBatchSize = 100

// ReaderConfig contains the caller-tunable options of one reader.
type ReaderConfig struct {
	// BatchSize bounds the number of records per poll and sets the
	// server checkpoint interval. Zero means DefaultBatchSize.
	BatchSize int
	// Since is the cursor to start from. Unset means Now.
	Since Cursor
	// IncludeDocs asks the server to embed document bodies
	IncludeDocs bool
	// StopOnZeroPending additionally ends a finite reader after any batch
	// the server reports with zero pending mutations. Ignored in continuous mode.
	StopOnZeroPending bool
}

// ErrInvalidBatchSize is returned when a negative batch size is configured.
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// withDefaults returns a copy of the configuration with defaults applied.
func (c ReaderConfig) withDefaults() (ReaderConfig, error) {
	if c.BatchSize < 0 {
		return c, ErrInvalidBatchSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Since.IsZero() {
		c.Since = Now
	}
	return c, nil
}

// shouldEnd is the stop predicate evaluated after every delivered batch.
func (m Mode) shouldEnd(cfg ReaderConfig, b Batch) bool {
	if m != StopOnEmpty {
		return false
	}
	if b.Empty() {
		return true
	}
	return cfg.StopOnZeroPending && b.Pending == 0
}
