package panel

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sammck-go/panelrelay/pkg/logger"
)

// Store persists the addresses of endpoints that were connected successfully,
// as a JSON array in a file, so a panel can reconnect to them at startup.
type Store struct {
	logger.Logger
	path string

	mu        sync.Mutex
	addresses []string
}

// NewStore creates a Store backed by path and loads it. A missing file is an
// empty store.
func NewStore(lg logger.Logger, path string) (*Store, error) {
	s := &Store{Logger: lg, path: path}
	addresses, err := s.read()
	if err != nil {
		return nil, err
	}
	s.addresses = addresses
	return s, nil
}

func (s *Store) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var addresses []string
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &addresses); err != nil {
		return nil, s.Errorf("parse %s: %s", s.path, err)
	}
	return addresses, nil
}

// Load returns the saved addresses in the order they were first saved
func (s *Store) Load() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addresses...)
}

func (s *Store) containsLocked(address string) bool {
	for _, a := range s.addresses {
		if a == address {
			return true
		}
	}
	return false
}

// Add saves address. The file is only rewritten when address is new.
func (s *Store) Add(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsLocked(address) {
		return nil
	}
	s.addresses = append(s.addresses, address)
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	data, err := json.Marshal(s.addresses)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch calls fn for every address that appears in the file after an external
// edit, until ctx is done. The directory is watched rather than the file so
// that atomic replacement is seen.
func (s *Store) Watch(ctx context.Context, fn func(address string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			for _, address := range s.reload() {
				fn(address)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.WLogf("Watch of %s: %s", s.path, err)
		}
	}
}

// reload re-reads the file and returns addresses not known before
func (s *Store) reload() []string {
	addresses, err := s.read()
	if err != nil {
		s.WLogf("Reload failed: %s", err)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, a := range addresses {
		if !s.containsLocked(a) {
			s.addresses = append(s.addresses, a)
			added = append(added, a)
		}
	}
	return added
}
