package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxLineBytes bounds a single interaction record when reading back.
const maxLineBytes = 10 << 20

// FileRecorder appends events to a JSON Lines file. The append handle
// stays open until Close.
type FileRecorder struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("interaction log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	return &FileRecorder{path: path, f: f}, nil
}

func (r *FileRecorder) Path() string { return r.path }

// AppendInteraction writes one event as one line.
func (r *FileRecorder) AppendInteraction(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	if _, err := r.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// LoadInteractions skips lines that do not decode.
func (r *FileRecorder) LoadInteractions() ([]Event, error) {
	var events []Event
	err := r.each(func(ev Event) { events = append(events, ev) })
	return events, err
}

// LoadConversation returns the events of a single conversation.
func (r *FileRecorder) LoadConversation(conversationID string) ([]Event, error) {
	var events []Event
	err := r.each(func(ev Event) {
		if ev.ConversationID == conversationID {
			events = append(events, ev)
		}
	})
	return events, err
}

func (r *FileRecorder) each(fn func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("read interaction log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		var ev Event
		if len(sc.Bytes()) == 0 || json.Unmarshal(sc.Bytes(), &ev) != nil {
			continue
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read interaction log: %w", err)
	}
	return nil
}
