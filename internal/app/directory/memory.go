package directory

import (
	"context"
	"sync"
	"time"

	"linkroom/internal/app/room"
)

// Memory is an in-process Directory. Rooms live as long as the process.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]room.Room
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]room.Room)}
}

func (m *Memory) Lookup(ctx context.Context, code string) (room.Room, error) {
	if err := ctx.Err(); err != nil {
		return room.Room{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[code]
	if !ok {
		return room.Room{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Register(ctx context.Context, r room.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[r.Code]; ok {
		return ErrCodeTaken
	}
	m.rooms[r.Code] = r
	return nil
}

func (m *Memory) SaveDocument(ctx context.Context, code string, content string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	r.Document = content
	m.rooms[code] = r
	return nil
}

// Len returns the number of registered rooms.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Memory) Close() error { return nil }
