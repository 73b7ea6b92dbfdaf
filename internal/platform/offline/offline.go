// Package offline provides the durable local queue for chat messages that
// failed to reach the remote store. The queue is persisted wholesale as JSON
// under a single key on every mutation and replayed when connectivity returns.
//
// The read-modify-write cycle is not transactional: a crash between read and
// write can lose or duplicate an entry. That is a known gap carried over from
// the persistence model, not something this package tries to fix.
package offline

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const queueKey = "offlineMessages"

// Entry is one queued outbound message, tagged with the temporary id the
// optimistic copy carries so the two can be reconciled after replay.
type Entry struct {
	TempID         string    `json:"temp_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Store is the key-value persistence backing the queue. Values are read and
// written wholesale.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Queue is a typed view over the persisted entry list. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	store Store
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Append adds an entry to the end of the queue.
func (q *Queue) Append(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}
	return q.save(append(entries, e))
}

// Entries returns a snapshot of all queued entries in insertion order.
func (q *Queue) Entries() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Remove deletes the entry with the given temp id, if present.
func (q *Queue) Remove(tempID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.TempID != tempID {
			kept = append(kept, e)
		}
	}
	return q.save(kept)
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	entries, err := q.Entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (q *Queue) load() ([]Entry, error) {
	raw, err := q.store.Get(queueKey)
	if err != nil {
		return nil, fmt.Errorf("offline: read queue: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("offline: decode queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("offline: encode queue: %w", err)
	}
	if err := q.store.Set(queueKey, raw); err != nil {
		return fmt.Errorf("offline: write queue: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store, used in tests and as a fallback when no
// durable path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

// FileStore persists each key as a JSON file at a fixed path. Only one key is
// used in practice, so the file holds a key-to-value object.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return nil, err
	}
	return values[key], nil
}

func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value

	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("offline: encode store: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("offline: write store: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offline: read store: %w", err)
	}
	values := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("offline: decode store: %w", err)
		}
	}
	return values, nil
}
