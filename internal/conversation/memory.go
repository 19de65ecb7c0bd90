// ABOUTME: In-memory conversation store with TTL reaping
// ABOUTME: Per-entry locking keeps sweeps from starving foreground appends

package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/glimpse-gateway/internal/fault"
)

type entry struct {
	mu             sync.Mutex
	turns          []Turn
	createdAt      time.Time
	lastActivityAt time.Time
}

// MemoryStore is the default Store backend: a map guarded by a read-write
// lock, with per-conversation mutexes for turn mutation. A background
// reaper removes idle conversations.
type MemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]*entry
	ttl      time.Duration
	maxTurns int
	done     chan struct{}
	closed   bool
}

// NewMemoryStore builds a store expiring conversations idle longer than
// ttl. maxTurns counts user+assistant pairs. The reaper ticks every
// sweepInterval until Close.
func NewMemoryStore(ttl time.Duration, maxTurns int, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		convs:    make(map[string]*entry),
		ttl:      ttl,
		maxTurns: maxTurns,
		done:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.reap(sweepInterval)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	s.mu.Lock()
	s.convs[id] = &entry{createdAt: now, lastActivityAt: now}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Append(ctx context.Context, id, role, content string) error {
	s.mu.RLock()
	e, ok := s.convs[id]
	s.mu.RUnlock()
	if !ok {
		return fault.New(fault.KindConversationNotFound,
			fmt.Sprintf("conversation %s not found or expired", id))
	}

	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turns = append(e.turns, Turn{Role: role, Content: content, CreatedAt: now})
	if now.After(e.lastActivityAt) {
		e.lastActivityAt = now
	}
	if excess := trimExcess(len(e.turns), 2*s.maxTurns); excess > 0 {
		e.turns = append([]Turn(nil), e.turns[excess:]...)
	}
	return nil
}

func (s *MemoryStore) History(ctx context.Context, id string) ([]Turn, error) {
	s.mu.RLock()
	e, ok := s.convs[id]
	s.mu.RUnlock()
	if !ok {
		return []Turn{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

// SweepExpired scans without holding the table lock across the scan:
// candidates are snapshotted, checked under their own locks, and removed
// under the table lock with a re-check against a racing append.
func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) int {
	s.mu.RLock()
	candidates := make(map[string]*entry, len(s.convs))
	for id, e := range s.convs {
		candidates[id] = e
	}
	s.mu.RUnlock()

	var expired []string
	for id, e := range candidates {
		e.mu.Lock()
		if now.Sub(e.lastActivityAt) > s.ttl {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range expired {
		e, ok := s.convs[id]
		if !ok {
			continue
		}
		e.mu.Lock()
		stale := now.Sub(e.lastActivityAt) > s.ttl
		e.mu.Unlock()
		if stale {
			delete(s.convs, id)
			removed++
		}
	}
	return removed
}

// Close stops the reaper. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
	return nil
}

func (s *MemoryStore) reap(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired(context.Background(), time.Now())
		case <-s.done:
			return
		}
	}
}
