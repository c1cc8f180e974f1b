package chatclient

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Saved is what a visitor keeps between runs.
type Saved struct {
	SessionID       string `json:"sessionId"`
	IntakeCompleted bool   `json:"intakeCompleted"`
}

// SessionStore persists the resumable session of one visitor.
type SessionStore interface {
	Load() (Saved, error)
	Save(s Saved) error
	Clear() error
}

type MemoryStore struct {
	mu    sync.Mutex
	saved Saved
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (Saved, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

func (m *MemoryStore) Save(s Saved) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = s
	return nil
}

func (m *MemoryStore) Clear() error {
	return m.Save(Saved{})
}

// FileStore keeps the session in a small JSON file. A missing file is an
// empty store.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load() (Saved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s Saved
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Saved{}, err
	}
	return s, nil
}

func (f *FileStore) Save(s Saved) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
