package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// changesResponse is the wire envelope of a `_changes` reply.
type changesResponse struct {
	Results *[]changeRow    `json:"results"`
	LastSeq json.RawMessage `json:"last_seq"`
	Pending *int64          `json:"pending"`
}

type changeRow struct {
	Seq     json.RawMessage `json:"seq"`
	ID      string          `json:"id"`
	Changes []revision      `json:"changes"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc"`
}

// revision accepts both `"1-abc"` and `{"rev": "1-abc"}`.
type revision string

func (r *revision) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Rev string `json:"rev"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = revision(obj.Rev)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = revision(s)
	return nil
}

// ParseBatch decodes a `_changes` response body into a Batch.
// Results are mapped one to one, in order.
func ParseBatch(body []byte) (Batch, error) {
	var resp changesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Batch{}, &MalformedResponseError{Reason: "invalid JSON", Err: err}
	}
	if resp.Results == nil {
		return Batch{}, &MalformedResponseError{Reason: "missing results"}
	}
	next, ok, err := decodeCursor(resp.LastSeq)
	if err != nil {
		return Batch{}, &MalformedResponseError{Reason: "invalid last_seq", Err: err}
	}
	if !ok {
		return Batch{}, &MalformedResponseError{Reason: "missing last_seq"}
	}

	batch := Batch{
		Records:    make([]MutationRecord, 0, len(*resp.Results)),
		NextCursor: next,
	}
	if resp.Pending != nil && *resp.Pending > 0 {
		batch.Pending = *resp.Pending
	}

	for i, row := range *resp.Results {
		seq, _, err := decodeCursor(row.Seq)
		if err != nil {
			return Batch{}, &MalformedResponseError{Reason: fmt.Sprintf("invalid seq in result %d", i), Err: err}
		}
		rec := MutationRecord{
			Seq:       seq,
			ID:        row.ID,
			Revisions: make([]string, len(row.Changes)),
			Deleted:   row.Deleted,
		}
		for j, rev := range row.Changes {
			rec.Revisions[j] = string(rev)
		}
		if len(row.Doc) > 0 && !bytes.Equal(row.Doc, []byte("null")) {
			rec.Doc = row.Doc
		}
		batch.Records = append(batch.Records, rec)
	}

	return batch, nil
}

// decodeCursor reads a sequence value that may be a JSON string, a JSON
// number or null. Numbers are kept in their textual form.
func decodeCursor(raw json.RawMessage) (Cursor, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return Cursor(s), true, nil
	case '[':
		// CouchDB 1.x clustered sequences are arrays; pass them through untouched.
		return Cursor(raw), true, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false, err
		}
		return Cursor(n.String()), true, nil
	}
}
