// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/invowk/upkeep/internal/fault"
)

type (
	// Store persists engine state between runs. Load reports false when
	// nothing was saved yet.
	Store interface {
		Load() (State, bool, error)
		Save(State) error
	}

	// MemoryStore keeps state in memory. The zero value is ready to use.
	MemoryStore struct {
		mu    sync.Mutex
		state State
		saved bool
		saves int
	}

	// FileStore keeps state in a TOML file.
	FileStore struct {
		Path string
	}
)

// Load implements Store.
func (m *MemoryStore) Load() (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone(), m.saved, nil
}

// Save implements Store.
func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.clone()
	m.saved = true
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// NewFileStore returns a store backed by the TOML file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load implements Store. A missing file is not an error.
func (f *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fault.Filesystem("read state file", err)
	}
	var s State
	if err := toml.Unmarshal(data, &s); err != nil {
		return State{}, false, fault.Parse("decode state file "+f.Path, err)
	}
	return s, true, nil
}

// Save implements Store. The file is replaced atomically.
func (f *FileStore) Save(s State) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fault.Filesystem("encode state", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Filesystem("create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.toml")
	if err != nil {
		return fault.Filesystem("write state file", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fault.Filesystem("write state file", err)
	}
	if err := tmp.Close(); err != nil {
		return fault.Filesystem("write state file", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fault.Filesystem("replace state file", err)
	}
	return nil
}
