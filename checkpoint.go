package changefeed

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

// CheckpointStore persists the last seen cursor of named readers.
// A reader resumed from the stored cursor gets at-least-once delivery across
// restarts; mutations after the last saved checkpoint may be seen twice.
type CheckpointStore interface {
	// Load returns the cursor saved under name. found is false if nothing was saved yet.
	Load(ctx context.Context, name string) (cursor Cursor, found bool, err error)
	// Save stores cursor under name, replacing any previous value.
	Save(ctx context.Context, name string, cursor Cursor) error
}

// ResumeCursor returns the saved cursor for name, or fallback if none exists.
func ResumeCursor(ctx context.Context, store CheckpointStore, name string, fallback Cursor) (Cursor, error) {
	cursor, found, err := store.Load(ctx, name)
	if err != nil {
		return "", errors.Annotatef(err, "loading checkpoint %q", name)
	}
	if !found || cursor.IsZero() {
		return fallback, nil
	}
	return cursor, nil
}

// CheckpointSink is a Sink that saves every seq notification to a store.
// Saving happens after all changes of the batch were delivered to sinks
// registered before it in a MultiSink.
type CheckpointSink struct {
	ctx    context.Context
	store  CheckpointStore
	name   string
	logger loggo.Logger
}

var _ Sink = (*CheckpointSink)(nil)

// NewCheckpointSink creates a CheckpointSink saving under name.
func NewCheckpointSink(ctx context.Context, store CheckpointStore, name string) *CheckpointSink {
	return &CheckpointSink{
		ctx:    ctx,
		store:  store,
		name:   name,
		logger: loggo.GetLogger("changefeed.checkpoint"),
	}
}

func (s *CheckpointSink) OnBatch([]MutationRecord) {}

func (s *CheckpointSink) OnChange(MutationRecord) {}

func (s *CheckpointSink) OnSeq(cursor Cursor) {
	if err := s.store.Save(s.ctx, s.name, cursor); err != nil {
		s.logger.Warningf("cannot save checkpoint %q at %s: %v", s.name, cursor, err)
	}
}

func (s *CheckpointSink) OnError(error) {}

func (s *CheckpointSink) OnEnd() {}
