package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const SWITCHES_FILE = "switches.yaml"

type switchFile struct {
	Optimization map[string]bool `yaml:"optimization"`
}

// YAMLSwitchStore keeps the runtime optimization switch of every
// installation so a restart does not fall back to the configured value.
type YAMLSwitchStore struct {
	mu   sync.Mutex
	path string
}

func NewYAMLSwitchStore(dataDir string) (*YAMLSwitchStore, error) {
	if dataDir == "" {
		return nil, errors.New("switch store: data dir required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("switch store: %w", err)
	}
	return &YAMLSwitchStore{path: filepath.Join(dataDir, SWITCHES_FILE)}, nil
}

// LoadEnabled returns nil without error when the switch was never flipped.
func (s *YAMLSwitchStore) LoadEnabled(installationId string) (*bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	if err != nil {
		return nil, err
	}
	enabled, ok := file.Optimization[installationId]
	if !ok {
		return nil, nil
	}
	return &enabled, nil
}

func (s *YAMLSwitchStore) SaveEnabled(installationId string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	if err != nil {
		return err
	}
	if file.Optimization == nil {
		file.Optimization = map[string]bool{}
	}
	file.Optimization[installationId] = enabled
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("switch store: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("switch store: %w", err)
	}
	return nil
}

func (s *YAMLSwitchStore) read() (switchFile, error) {
	var file switchFile
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("switch store: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("switch store: corrupt %s: %w", s.path, err)
	}
	return file, nil
}
