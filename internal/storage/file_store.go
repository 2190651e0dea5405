package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"weat-sync/go-backend/internal/securestore"
)

// FileGroupStore keeps all group blobs in a single snapshot file, optionally
// sealed with a passphrase. Every Update rewrites the snapshot; at the scale
// of an active-group table this stays cheap and keeps recovery trivial.
type FileGroupStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	blobs      map[string][]byte
}

type fileSnapshot struct {
	Version int               `json:"version"`
	Groups  map[string][]byte `json:"groups"`
}

func OpenFileGroupStore(path, passphrase string) (*FileGroupStore, error) {
	s := &FileGroupStore{
		path:       path,
		passphrase: passphrase,
		blobs:      make(map[string][]byte),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileGroupStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if s.passphrase != "" {
		if raw, err = securestore.Open(s.passphrase, raw); err != nil {
			return fmt.Errorf("unseal snapshot: %w", err)
		}
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != 1 {
		return errors.New("group snapshot payload is invalid")
	}
	if snap.Groups != nil {
		s.blobs = snap.Groups
	}
	return nil
}

func (s *FileGroupStore) LoadAll() ([]GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]GroupRecord, 0, len(s.blobs))
	for id, blob := range s.blobs {
		records = append(records, GroupRecord{ID: id, Blob: append([]byte(nil), blob...)})
	}
	return records, nil
}

func (s *FileGroupStore) Update(groupID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[groupID] = append([]byte(nil), blob...)
	return s.flush()
}

func (s *FileGroupStore) flush() error {
	raw, err := json.Marshal(fileSnapshot{Version: 1, Groups: s.blobs})
	if err != nil {
		return err
	}
	if s.passphrase != "" {
		if raw, err = securestore.Seal(s.passphrase, raw); err != nil {
			return fmt.Errorf("seal snapshot: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileGroupStore) Close() error {
	return nil
}
