package inmemory

import (
	"context"
	"sync"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/models"
)

// Store keeps committed output in process memory. Used for single node
// setups and tests; contents are lost on restart.
type Store struct {
	mu       *sync.Mutex
	state    models.OutputState
	revision uint64
}

func NewStore() *Store {
	return &Store{
		mu:    &sync.Mutex{},
		state: models.NewOutputState(),
	}
}

func (s *Store) Snapshot(ctx context.Context) (models.OutputState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone(), nil
}

func (s *Store) Commit(ctx context.Context, d delta.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = d.ApplyTo(s.state)
	s.revision++
	return nil
}

// Revision is the number of commits applied so far.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revision
}

// Elector is the leader elector of a single instance setup: it is always
// the leader and never loses leadership.
type Elector struct{}

func (Elector) Campaign(ctx context.Context) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

func (Elector) Resign(ctx context.Context) error {
	return nil
}
