package task

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

var (
	// ErrNotFound is returned for task ids the store has never issued
	// (or has since reaped).
	ErrNotFound = errors.New("task not found")

	// ErrBadTransition indicates an illegal lifecycle transition. Reaching
	// it means a scheduler bug, not a bad request.
	ErrBadTransition = errors.New("illegal task state transition")
)

// Result carries the terminal payload of a transition. OutputPath is only
// meaningful for StateCompleted, Error only for StateFailed.
type Result struct {
	OutputPath string
	Error      string
}

// Store is the process-wide task record store. All mutation goes through
// Create/Transition under the store lock; Get hands out copies so readers
// never observe a half-written record.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]*Task)}
}

// Create inserts a fresh pending record and returns a copy of it.
func (s *Store) Create(mode Mode, inputs []string) *Task {
	t := &Task{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Mode:      mode,
		State:     StatePending,
		Inputs:    append([]string(nil), inputs...),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	return snapshot(t)
}

// Get returns a copy of the record, or ErrNotFound.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(t), nil
}

// List returns copies of all records, in no particular order.
func (s *Store) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, snapshot(t))
	}
	return out
}

// Transition moves a record to next, applying the result payload. Only the
// forward lifecycle pending -> processing -> completed|failed is legal;
// anything else returns ErrBadTransition and leaves the record untouched.
func (s *Store) Transition(id string, next State, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !legalTransition(t.State, next) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrBadTransition, t.State, next, id)
	}

	t.State = next
	switch next {
	case StateProcessing:
		t.StartedAt = time.Now()
	case StateCompleted:
		t.OutputPath = res.OutputPath
		t.FinishedAt = time.Now()
	case StateFailed:
		t.Error = res.Error
		t.FinishedAt = time.Now()
	}
	return nil
}

// ForceFail is the invariant-violation escape hatch: it marks a record
// failed regardless of its current non-terminal state. Records already in a
// terminal state are left alone.
func (s *Store) ForceFail(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.State.Terminal() {
		return
	}
	t.State = StateFailed
	t.Error = msg
	t.FinishedAt = time.Now()
}

// Delete removes a record. Used when a submission is rejected after the
// record was created (queue full) and by the output reaper.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Len reports the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func legalTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed
	}
	return false
}

func snapshot(t *Task) *Task {
	c := *t
	c.Inputs = append([]string(nil), t.Inputs...)
	return &c
}
