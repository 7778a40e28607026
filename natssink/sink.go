// Package natssink republishes change feed notifications onto NATS subjects.
//
// Subject mapping:
//   - change: <prefix>.change (the JSON encoded record)
//   - seq:    <prefix>.seq
//   - error:  <prefix>.error
//   - end:    <prefix>.end
package natssink

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/nats-io/nats.go"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

var logger = loggo.GetLogger("changefeed.natssink")

const (
	// DefaultPrefix is used when Config.Prefix is empty.
	DefaultPrefix = "changefeed"

	// DatabaseHeader names the source database on every message.
	DatabaseHeader = "Changefeed-Database"

	flushTimeout = 5 * time.Second
)

// Config holds the settings of a Sink.
type Config struct {
	// URL defaults to nats.DefaultURL.
	URL string
	// Prefix is the subject prefix. It defaults to DefaultPrefix.
	Prefix string
	// Name is the connection name shown by the server.
	Name string
	// Database is copied into the DatabaseHeader of every message.
	Database string
}

// SeqMessage is published on <prefix>.seq.
type SeqMessage struct {
	Seq changefeed.Cursor `json:"seq"`
}

// ErrorMessage is published on <prefix>.error.
type ErrorMessage struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Sink publishes every notification it receives.
// Publish failures are logged and do not stop the reader.
type Sink struct {
	nc       *nats.Conn
	owned    bool
	prefix   string
	database string
}

var _ changefeed.Sink = (*Sink)(nil)

// Connect dials the NATS server and returns a Sink that owns the connection.
func Connect(cfg Config) (*Sink, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to NATS at %s", url)
	}
	s := New(nc, cfg)
	s.owned = true
	return s, nil
}

// New returns a Sink publishing on an existing connection. Close does not
// close nc.
func New(nc *nats.Conn, cfg Config) *Sink {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{nc: nc, prefix: prefix, database: cfg.Database}
}

// Subject returns the subject notifications of kind are published on.
func (s *Sink) Subject(kind changefeed.NotificationKind) string {
	return s.prefix + "." + string(kind)
}

func (s *Sink) publish(kind changefeed.NotificationKind, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("cannot encode %s notification: %v", kind, err)
		return
	}
	msg := &nats.Msg{
		Subject: s.Subject(kind),
		Data:    data,
		Header:  nats.Header{},
	}
	if s.database != "" {
		msg.Header.Set(DatabaseHeader, s.database)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		logger.Warningf("cannot publish to %s: %v", msg.Subject, err)
	}
}

// OnBatch is a no-op; records are published one by one.
func (s *Sink) OnBatch([]changefeed.MutationRecord) {}

func (s *Sink) OnChange(record changefeed.MutationRecord) {
	s.publish(changefeed.KindChange, record)
}

func (s *Sink) OnSeq(cursor changefeed.Cursor) {
	s.publish(changefeed.KindSeq, SeqMessage{Seq: cursor})
}

func (s *Sink) OnError(err error) {
	s.publish(changefeed.KindError, ErrorMessage{Error: err.Error(), StatusCode: changefeed.StatusCode(err)})
}

func (s *Sink) OnEnd() {
	s.publish(changefeed.KindEnd, struct{}{})
	if err := s.nc.FlushTimeout(flushTimeout); err != nil {
		logger.Warningf("cannot flush NATS connection: %v", err)
	}
}

// Close flushes pending messages, and closes the connection if the sink owns it.
func (s *Sink) Close() error {
	if !s.owned {
		return errors.Trace(s.nc.FlushTimeout(flushTimeout))
	}
	return errors.Trace(s.nc.Drain())
}
