package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV is a small durable key/value store holding opaque values.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ErrCorruptState is returned by FileKV.Get when the state file cannot be
// decoded. The next write replaces the document.
var ErrCorruptState = errors.New("corrupt state file")

var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*FileKV)(nil)
	_ KV = (*Store)(nil)
)

// MemoryKV keeps values in process memory.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileKV persists all keys in one JSON document. Writes go to a temp file
// that is renamed over the original.
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV stores keys in the file at path. The file is created on first write.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	// values that were stored as JSON strings come back unquoted
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return []byte(text), true, nil
	}
	return []byte(raw), true, nil
}

func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return err
	}
	encoded, err := json.Marshal(string(value))
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	doc[key] = encoded
	return f.write(doc)
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	corrupt := errors.Is(err, ErrCorruptState)
	if err != nil && !corrupt {
		return err
	}
	if _, ok := doc[key]; !ok && !corrupt {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *FileKV) read() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return make(map[string]json.RawMessage), fmt.Errorf("%w: %s: %v", ErrCorruptState, f.path, err)
	}
	return doc, nil
}

func (f *FileKV) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
