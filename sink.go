package changefeed

import (
	"sync"
)

// Sink receives the notifications of a reader.
//
// For every successful poll a reader calls OnBatch once, OnChange once per
// record in order, then OnSeq with the new cursor. Failed polls produce one
// OnError each. A finite reader calls OnEnd exactly once when it finishes.
// All calls are made from the reader's goroutine and never overlap.
type Sink interface {
	OnBatch(records []MutationRecord)
	OnChange(record MutationRecord)
	OnSeq(cursor Cursor)
	OnError(err error)
	OnEnd()
}

// SinkFuncs is a Sink built from optional callbacks. Nil callbacks are skipped.
type SinkFuncs struct {
	Batch  func(records []MutationRecord)
	Change func(record MutationRecord)
	Seq    func(cursor Cursor)
	Error  func(err error)
	End    func()
}

var _ Sink = SinkFuncs{}

func (s SinkFuncs) OnBatch(records []MutationRecord) {
	if s.Batch != nil {
		s.Batch(records)
	}
}

func (s SinkFuncs) OnChange(record MutationRecord) {
	if s.Change != nil {
		s.Change(record)
	}
}

func (s SinkFuncs) OnSeq(cursor Cursor) {
	if s.Seq != nil {
		s.Seq(cursor)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

func (s SinkFuncs) OnEnd() {
	if s.End != nil {
		s.End()
	}
}

// multiSink forwards every notification to each sink in turn.
type multiSink []Sink

// MultiSink returns a Sink that fans notifications out to sinks, in argument order.
func MultiSink(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) OnBatch(records []MutationRecord) {
	for _, s := range m {
		s.OnBatch(records)
	}
}

func (m multiSink) OnChange(record MutationRecord) {
	for _, s := range m {
		s.OnChange(record)
	}
}

func (m multiSink) OnSeq(cursor Cursor) {
	for _, s := range m {
		s.OnSeq(cursor)
	}
}

func (m multiSink) OnError(err error) {
	for _, s := range m {
		s.OnError(err)
	}
}

func (m multiSink) OnEnd() {
	for _, s := range m {
		s.OnEnd()
	}
}

// NotificationKind identifies the notification carried by a Notification.
type NotificationKind string

const (
	KindBatch  NotificationKind = "batch"
	KindChange NotificationKind = "change"
	KindSeq    NotificationKind = "seq"
	KindError  NotificationKind = "error"
	KindEnd    NotificationKind = "end"
)

// Notification is a single sink call captured as a value.
type Notification struct {
	Kind    NotificationKind
	Records []MutationRecord // KindBatch
	Record  MutationRecord   // KindChange
	Cursor  Cursor           // KindSeq
	Err     error            // KindError
}

// ChannelSink delivers notifications on a channel.
// Sends block until the consumer receives or the sink is closed, which
// gives the reader natural backpressure.
type ChannelSink struct {
	notifyCh chan Notification
	closeCh  chan struct{}
	closed   bool
	mu       sync.Mutex
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		notifyCh: make(chan Notification, buffer),
		closeCh:  make(chan struct{}),
	}
}

// Notifications returns the channel notifications are delivered on.
func (s *ChannelSink) Notifications() <-chan Notification {
	return s.notifyCh
}

// Close makes every further send a no-op. It is safe to call more than once.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return nil
}

func (s *ChannelSink) send(n Notification) {
	select {
	case <-s.closeCh:
		return
	default:
	}
	select {
	case s.notifyCh <- n:
	case <-s.closeCh:
	}
}

func (s *ChannelSink) OnBatch(records []MutationRecord) {
	s.send(Notification{Kind: KindBatch, Records: records})
}

func (s *ChannelSink) OnChange(record MutationRecord) {
	s.send(Notification{Kind: KindChange, Record: record})
}

func (s *ChannelSink) OnSeq(cursor Cursor) {
	s.send(Notification{Kind: KindSeq, Cursor: cursor})
}

func (s *ChannelSink) OnError(err error) {
	s.send(Notification{Kind: KindError, Err: err})
}

func (s *ChannelSink) OnEnd() {
	s.send(Notification{Kind: KindEnd})
}
