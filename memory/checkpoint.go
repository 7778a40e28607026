package memory

import (
	"context"
	"sync"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// CheckpointStore keeps reader checkpoints in a map.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]changefeed.Cursor
}

var _ changefeed.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]changefeed.Cursor),
	}
}

// Load returns the checkpoint saved under name.
func (s *CheckpointStore) Load(ctx context.Context, name string) (changefeed.Cursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cursor, exists := s.checkpoints[name]
	return cursor, exists, nil
}

// Save stores cursor under name, replacing any previous value.
func (s *CheckpointStore) Save(ctx context.Context, name string, cursor changefeed.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[name] = cursor
	return nil
}
