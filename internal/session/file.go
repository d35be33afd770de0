package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const mappingFileName = "instances.json"

// FileStore keeps the mapping in a single JSON file under the data
// directory, rewritten on every mutation.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dataDir, mappingFileName)}, nil
}

func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Set(_ context.Context, instanceID, jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, err := s.read()
	if err != nil {
		return err
	}
	mapping[instanceID] = jid
	return s.write(mapping)
}

func (s *FileStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := mapping[instanceID]; !ok {
		return nil
	}
	delete(mapping, instanceID)
	return s.write(mapping)
}

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session map: %w", err)
	}
	mapping := map[string]string{}
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parsing session map: %w", err)
	}
	return mapping, nil
}

func (s *FileStore) write(mapping map[string]string) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing session map: %w", err)
	}
	return nil
}
