package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/brightgems/openai-api-server/internal/llm"
)

// History is one conversation's messages, oldest first.
type History []llm.Message

// DecodeError reports a snapshot that does not match the encoding.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode conversation snapshot: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// convLock is a one-slot semaphore, so waiting can be abandoned.
type convLock struct {
	slot chan struct{}
	refs int
}

// Store maps conversation ids to histories. Every read or write copies,
// so callers never share a backing array with the map.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]History

	locksMu sync.Mutex
	locks   map[string]*convLock
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]History),
		locks:         make(map[string]*convLock),
	}
}

// GetOrCreate returns the stored history for id, inserting an empty one
// on first reference.
func (s *Store) GetOrCreate(id string) History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.conversations[id]
	if !ok {
		h = History{}
		s.conversations[id] = h
	}
	return clone(h)
}

func (s *Store) Get(id string) (History, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return clone(h), true
}

func (s *Store) Replace(id string, h History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = clone(h)
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// IDs returns the conversation ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lock serializes exchanges on one conversation. Unrelated ids never block
// each other. If ctx ends before the lock is free, ctx.Err() is returned
// and nothing is held.
func (s *Store) Lock(ctx context.Context, id string) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &convLock{slot: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	release := func() {
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}

	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// Snapshot encodes the whole mapping as a JSON object of id -> messages.
// Keys come out sorted, so equal stores produce equal bytes.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.Marshal(s.conversations)
	if err != nil {
		return nil, fmt.Errorf("encode conversation snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the mapping with a decoded snapshot. On error the
// current mapping is kept and a *DecodeError is returned.
func (s *Store) Restore(data []byte) error {
	var decoded map[string]History
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &DecodeError{Err: err}
	}
	if decoded == nil {
		// literal null
		return &DecodeError{Err: fmt.Errorf("snapshot is not an object")}
	}
	for id, h := range decoded {
		if h == nil {
			decoded[id] = History{}
			continue
		}
		// a message without a role key never reaches Role.UnmarshalJSON
		for i, m := range h {
			if !m.Role.Valid() {
				return &DecodeError{Err: fmt.Errorf("conversation %q message %d: invalid role %q", id, i, m.Role)}
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = decoded
	return nil
}

func clone(h History) History {
	return append(History{}, h...)
}
