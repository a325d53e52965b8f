// Package admission caps concurrent WebSocket connections per client key
// (normally the remote IP).
package admission

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrLimited means the key already holds the maximum number of connections.
var ErrLimited = errors.New("too many connections")

// Limiter hands out connection slots. The release func returned with a nil
// error must be called exactly once when the connection ends; extra calls are
// ignored.
type Limiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// Memory counts slots in process.
type Memory struct {
	max int

	mu     sync.Mutex
	counts map[string]int
}

// NewMemory returns a limiter allowing max concurrent slots per key.
func NewMemory(max int) *Memory {
	return &Memory{max: max, counts: make(map[string]int)}
}

func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[key] >= m.max {
		return nil, ErrLimited
	}
	m.counts[key]++
	return onceFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.counts[key] <= 1 {
			delete(m.counts, key)
			return
		}
		m.counts[key]--
	}), nil
}

// InUse returns the slots currently held by key.
func (m *Memory) InUse(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.TrimSpace(key)]
}

func onceFunc(f func()) func() {
	var once sync.Once
	return func() { once.Do(f) }
}
