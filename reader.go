package changefeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	jujuerrors "github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/tomb.v2"
)

var logger = loggo.GetLogger("changefeed")

const tracerName = "github.com/shogotsuneto/go-simple-changefeed"

// Logger is the logging surface used by readers. loggo.Logger satisfies it.
type Logger interface {
	Debugf(message string, args ...interface{})
	Infof(message string, args ...interface{})
	Warningf(message string, args ...interface{})
	Errorf(message string, args ...interface{})
}

// Config is the configuration needed to construct a ChangesReader.
type Config struct {
	// Transport performs the HTTP requests.
	Transport Transport

	// Database is the name of the database whose feed is read.
	Database string

	// Logger defaults to the "changefeed" loggo logger.
	Logger Logger

	// Metrics is optional; nil disables metrics.
	Metrics *Metrics

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

// Validate returns an error if the config is not valid.
func (cfg Config) Validate() error {
	if cfg.Transport == nil {
		return jujuerrors.NotValidf("nil Transport")
	}
	if cfg.Database == "" {
		return jujuerrors.NotValidf("empty Database")
	}
	return nil
}

// ChangesReader starts readers over the change feed of one database.
type ChangesReader struct {
	transport Transport
	db        string
	logger    Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// NewChangesReader validates cfg and returns a ChangesReader.
func NewChangesReader(cfg Config) (*ChangesReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, jujuerrors.Trace(err)
	}
	l := cfg.Logger
	if l == nil {
		l = logger
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &ChangesReader{
		transport: cfg.Transport,
		db:        cfg.Database,
		logger:    l,
		metrics:   cfg.Metrics,
		tracer:    tp.Tracer(tracerName),
	}, nil
}

// Database returns the database name the reader polls.
func (c *ChangesReader) Database() string {
	return c.db
}

// Start begins reading in continuous mode. The reader runs until Stop is
// called or ctx is cancelled.
func (c *ChangesReader) Start(ctx context.Context, cfg ReaderConfig, sink Sink) (*Reader, error) {
	return c.run(ctx, Continuous, cfg, sink)
}

// Get begins reading in finite mode. The reader ends, calling OnEnd, after
// the first batch that carries no records.
func (c *ChangesReader) Get(ctx context.Context, cfg ReaderConfig, sink Sink) (*Reader, error) {
	return c.run(ctx, StopOnEmpty, cfg, sink)
}

func (c *ChangesReader) run(ctx context.Context, mode Mode, cfg ReaderConfig, sink Sink) (*Reader, error) {
	if sink == nil {
		return nil, jujuerrors.NotValidf("nil Sink")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		id:     uuid.NewString(),
		cr:     c,
		mode:   mode,
		cfg:    cfg,
		sink:   sink,
		cursor: cfg.Since,
		state:  Idle,
	}
	c.logger.Infof("reader %s starting on %q in %s mode since %s", r.id, c.db, mode, cfg.Since)
	c.metrics.readerStarted(c.db)
	r.tomb.Go(func() error {
		defer c.metrics.readerFinished(c.db)
		return r.loop(ctx)
	})
	return r, nil
}

// State is the position of a reader in its poll cycle.
type State int

const (
	Idle State = iota
	Polling
	Delivering
	Recovering
	Stopped
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Delivering:
		return "delivering"
	case Recovering:
		return "recovering"
	case Stopped:
		return "stopped"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Reader is a running change feed poll loop.
//
// Exactly one request is in flight at a time, and the cursor only moves
// after a batch has been fully delivered to the sink.
type Reader struct {
	tomb tomb.Tomb

	id   string
	cr   *ChangesReader
	mode Mode
	cfg  ReaderConfig
	sink Sink

	mu     sync.Mutex
	cursor Cursor
	state  State
}

var _ worker.Worker = (*Reader)(nil)

// ID returns the unique id of this reader, used in logs.
func (r *Reader) ID() string {
	return r.id
}

// Mode returns the mode the reader was started in.
func (r *Reader) Mode() Mode {
	return r.mode
}

// Cursor returns the checkpoint the next poll will start from.
func (r *Reader) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// State returns the current state of the poll loop.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop asks the reader to terminate. It is safe to call from any goroutine,
// including from within a sink callback, and any number of times.
// A request already in flight is allowed to complete; its result is dropped
// and no further notifications are delivered.
func (r *Reader) Stop() {
	r.tomb.Kill(nil)
}

// Kill is part of the worker.Worker interface. It is the same as Stop.
func (r *Reader) Kill() {
	r.Stop()
}

// Wait blocks until the reader has terminated. It returns nil after Stop or
// a natural end, and the context error if the context passed to Start or
// Get was cancelled. Wait must not be called from a sink callback.
func (r *Reader) Wait() error {
	return r.tomb.Wait()
}

// Done is closed once the reader has terminated.
func (r *Reader) Done() <-chan struct{} {
	return r.tomb.Dead()
}

func (r *Reader) stopping() bool {
	select {
	case <-r.tomb.Dying():
		return true
	default:
		return false
	}
}

func (r *Reader) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Reader) setCursor(c Cursor) {
	r.mu.Lock()
	r.cursor = c
	r.mu.Unlock()
}

func (r *Reader) loop(ctx context.Context) error {
	log := r.cr.logger
	for {
		if r.stopping() {
			return r.markStopped()
		}
		if err := ctx.Err(); err != nil {
			r.setState(Stopped)
			return err
		}

		r.setState(Polling)
		since := r.Cursor()
		batch, err := r.poll(ctx, since)

		if r.stopping() {
			log.Debugf("reader %s stopped while polling; dropping result", r.id)
			return r.markStopped()
		}
		if err != nil {
			if Classify(err) == Fatal || ctx.Err() != nil {
				r.setState(Stopped)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return err
			}
			r.setState(Recovering)
			log.Warningf("reader %s poll of %q since %s failed: %v", r.id, r.cr.db, since, err)
			r.sink.OnError(err)
			continue
		}

		r.setState(Delivering)
		log.Debugf("reader %s received %d records, last_seq %s, pending %d", r.id, len(batch.Records), batch.NextCursor, batch.Pending)
		r.cr.metrics.observeBatch(r.cr.db, batch)
		if !r.deliver(batch) {
			return r.markStopped()
		}

		if r.mode.shouldEnd(r.cfg, batch) {
			if r.stopping() {
				return r.markStopped()
			}
			r.setState(Ended)
			log.Infof("reader %s reached the end of %q at %s", r.id, r.cr.db, batch.NextCursor)
			r.sink.OnEnd()
			return nil
		}
	}
}

func (r *Reader) markStopped() error {
	r.setState(Stopped)
	r.cr.logger.Infof("reader %s stopped at %s", r.id, r.Cursor())
	return nil
}

// deliver emits batch, change and seq notifications for b. It returns false
// if the reader was stopped part way through.
func (r *Reader) deliver(b Batch) bool {
	r.sink.OnBatch(b.Records)
	for _, rec := range b.Records {
		if r.stopping() {
			return false
		}
		r.sink.OnChange(rec)
	}
	if r.stopping() {
		return false
	}
	r.setCursor(b.NextCursor)
	r.sink.OnSeq(b.NextCursor)
	return true
}

// errNilResponse is reported when a transport returns neither a response nor an error.
var errNilResponse = errors.New("transport returned no response")

func (r *Reader) poll(ctx context.Context, since Cursor) (batch Batch, err error) {
	db := r.cr.db
	ctx, span := r.cr.tracer.Start(ctx, "changefeed.poll", trace.WithAttributes(
		attribute.String("changefeed.database", db),
		attribute.String("changefeed.since", since.String()),
		attribute.Int("changefeed.limit", r.cfg.BatchSize),
		attribute.String("changefeed.reader_id", r.id),
	))
	start := time.Now()
	defer func() {
		r.cr.metrics.observePoll(db, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("changefeed.records", len(batch.Records)),
				attribute.String("changefeed.last_seq", batch.NextCursor.String()),
			)
		}
		span.End()
	}()

	values, err := BuildQuery(r.cfg, since).Values()
	if err != nil {
		return Batch{}, err
	}
	resp, err := r.cr.transport.Request(ctx, Request{
		Method: http.MethodGet,
		Path:   changesPath(db),
		Query:  values,
	})
	if err != nil {
		return Batch{}, &TransportError{Err: err}
	}
	if resp == nil {
		return Batch{}, &TransportError{Err: errNilResponse}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Batch{}, NewServerError(resp.StatusCode, resp.Body)
	}
	return ParseBatch(resp.Body)
}
