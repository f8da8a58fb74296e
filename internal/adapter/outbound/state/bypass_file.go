// Package state persists operational overrides to a JSON state file.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// bypassState is the on-disk shape of the bypass allow-list.
type bypassState struct {
	UpdatedAt time.Time `json:"updated_at"`
	Keys      []string  `json:"keys"`
}

// FileBypassRegistry implements quota.BypassRegistry backed by a JSON file,
// so operational overrides survive process restarts. Writes are atomic
// (write-tmp-then-rename) and guarded by both an in-process mutex and a
// cross-process flock. Reads are served from the in-memory set.
type FileBypassRegistry struct {
	path   string
	mu     sync.RWMutex
	keys   map[string]struct{}
	logger *slog.Logger
}

// NewFileBypassRegistry loads (or initializes) the bypass state file at the
// given path. A missing file starts with an empty allow-list; a corrupt file
// is an error rather than silently dropping overrides.
func NewFileBypassRegistry(path string, logger *slog.Logger) (*FileBypassRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &FileBypassRegistry{
		path:   path,
		keys:   make(map[string]struct{}),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("bypass state file not found, starting empty", "path", path)
			return r, nil
		}
		return nil, fmt.Errorf("read bypass state: %w", err)
	}

	// Warn if the existing file is readable by group or other.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				logger.Warn("bypass state file has too-open permissions, should be 0600",
					"path", path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var s bypassState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse bypass state: %w", err)
	}
	for _, k := range s.Keys {
		r.keys[k] = struct{}{}
	}
	return r, nil
}

// IsBypassed reports whether key is exempt from enforcement.
func (r *FileBypassRegistry) IsBypassed(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[key]
	return ok
}

// Add registers key as exempt and persists the allow-list.
func (r *FileBypassRegistry) Add(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = struct{}{}
	return r.saveLocked()
}

// Remove revokes an exemption and persists the allow-list.
func (r *FileBypassRegistry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return r.saveLocked()
}

// Clear drops every exemption and persists the empty allow-list.
func (r *FileBypassRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[string]struct{})
	return r.saveLocked()
}

// List returns the current exemptions in lexical order.
func (r *FileBypassRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *FileBypassRegistry) sortedLocked() []string {
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// saveLocked writes the allow-list to disk. Callers must hold r.mu.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Marshal state as indented JSON
//  3. Write to path+".tmp" with 0600 permissions
//  4. Fsync the temp file
//  5. Rename path+".tmp" -> path
//  6. Release flock
func (r *FileBypassRegistry) saveLocked() error {
	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	s := bypassState{
		UpdatedAt: time.Now().UTC(),
		Keys:      r.sortedLocked(),
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bypass state: %w", err)
	}
	data = append(data, '\n')

	tmpPath := r.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ quota.BypassRegistry = (*FileBypassRegistry)(nil)
