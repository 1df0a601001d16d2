package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InFlight marks an action as outstanding so a second submit of the same
// action is refused until the first one finishes. Acquire hands out an owner
// token; Release only frees the key while that token still owns it.
type InFlight interface {
	// Acquire returns ok=false when key is already held.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

func txKey(a Actor, txID int64) string       { return fmt.Sprintf("%d:tx:%d", a.UserID, txID) }
func borrowKey(a Actor, itemID int64) string { return fmt.Sprintf("%d:borrow:%d", a.UserID, itemID) }

// MemoryInFlight is a process-local InFlight.
type MemoryInFlight struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryInFlight() *MemoryInFlight {
	return &MemoryInFlight{held: map[string]string{}}
}

func (m *MemoryInFlight) Acquire(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = token
	return token, true, nil
}

func (m *MemoryInFlight) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	m.mu.Unlock()
	return nil
}
