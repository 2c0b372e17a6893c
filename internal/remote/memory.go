package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukerupert/teacaddy/internal/model"
)

// Memory is an in-process remote collection. It backs development runs
// without a server and lets tests count round trips and inject failures.
type Memory[T any] struct {
	mu      sync.Mutex
	id      func(T) string
	owners  map[string][]T
	err     error
	lists   int
	upserts int
	deletes int
}

func NewMemory[T any](id func(T) string) *Memory[T] {
	return &Memory[T]{id: id, owners: make(map[string][]T)}
}

// NewMemoryBackend returns a Backend whose collections live in memory.
func NewMemoryBackend() *Backend {
	return &Backend{
		Teas:     NewMemory(model.Tea.RecordID),
		BrewLogs: NewMemory(model.BrewLog.RecordID),
	}
}

// ErrOffline is returned by the offline backend.
var ErrOffline = errors.New("no remote store configured")

// NewOfflineBackend returns a Backend whose every call fails with
// ErrOffline. It stands in when the app runs without a remote store.
func NewOfflineBackend() *Backend {
	teas := NewMemory(model.Tea.RecordID)
	teas.Fail(ErrOffline)
	logs := NewMemory(model.BrewLog.RecordID)
	logs.Fail(ErrOffline)
	return &Backend{Teas: teas, BrewLogs: logs}
}

// Fail makes every following call return err wrapped as a remote failure.
// Fail(nil) restores normal operation.
func (m *Memory[T]) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory[T]) List(_ context.Context, ownerID string) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.err != nil {
		return nil, fmt.Errorf("list: %w: %w", model.ErrRemote, m.err)
	}
	return append([]T{}, m.owners[ownerID]...), nil
}

func (m *Memory[T]) Upsert(_ context.Context, ownerID string, records ...T) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.err != nil {
		return fmt.Errorf("upsert: %w: %w", model.ErrRemote, m.err)
	}
	rows := m.owners[ownerID]
	for _, r := range records {
		replaced := false
		for i := range rows {
			if m.id(rows[i]) == m.id(r) {
				rows[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			rows = append(rows, r)
		}
	}
	m.owners[ownerID] = rows
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.err != nil {
		return fmt.Errorf("delete %s: %w: %w", id, model.ErrRemote, m.err)
	}
	rows := m.owners[ownerID]
	for i := range rows {
		if m.id(rows[i]) == id {
			m.owners[ownerID] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

// Seed replaces the owner's records without counting a round trip.
func (m *Memory[T]) Seed(ownerID string, records ...T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[ownerID] = append([]T{}, records...)
}

// Records returns a copy of the owner's records.
func (m *Memory[T]) Records(ownerID string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]T{}, m.owners[ownerID]...)
}

// Calls reports how many List, Upsert and Delete round trips were made.
func (m *Memory[T]) Calls() (lists, upserts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists, m.upserts, m.deletes
}
