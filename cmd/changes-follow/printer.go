package main

import (
	"encoding/json"
	"io"
	"sync"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// line is one JSON line of output.
type line struct {
	Kind       changefeed.NotificationKind `json:"kind"`
	Count      int                         `json:"count,omitempty"`
	Record     *changefeed.MutationRecord  `json:"record,omitempty"`
	Seq        changefeed.Cursor           `json:"seq,omitempty"`
	Error      string                      `json:"error,omitempty"`
	StatusCode int                         `json:"status_code,omitempty"`
}

// printer writes notifications to w as JSON lines.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w)}
}

func (p *printer) print(l line) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(l); err != nil {
		logger.Warningf("cannot write %s notification: %v", l.Kind, err)
	}
}

func (p *printer) OnBatch(records []changefeed.MutationRecord) {
	p.print(line{Kind: changefeed.KindBatch, Count: len(records)})
}

func (p *printer) OnChange(record changefeed.MutationRecord) {
	p.print(line{Kind: changefeed.KindChange, Record: &record})
}

func (p *printer) OnSeq(cursor changefeed.Cursor) {
	p.print(line{Kind: changefeed.KindSeq, Seq: cursor})
}

func (p *printer) OnError(err error) {
	p.print(line{Kind: changefeed.KindError, Error: err.Error(), StatusCode: changefeed.StatusCode(err)})
}

func (p *printer) OnEnd() {
	p.print(line{Kind: changefeed.KindEnd})
}
