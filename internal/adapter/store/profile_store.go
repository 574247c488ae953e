package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/berfenger/battexec/internal/core/domain"
	"gopkg.in/yaml.v3"
)

const PROFILES_FILE = "profiles.yaml"

type profileFile struct {
	Profiles []domain.DeviceProfile `yaml:"profiles"`
}

// YAMLProfileStore keeps every resolved DeviceProfile in a single YAML file.
// Writes go to a temporary file that is renamed over the previous one.
type YAMLProfileStore struct {
	mu   sync.Mutex
	path string
}

func NewYAMLProfileStore(dataDir string) (*YAMLProfileStore, error) {
	if dataDir == "" {
		return nil, errors.New("profile store: data dir required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}
	return &YAMLProfileStore{path: filepath.Join(dataDir, PROFILES_FILE)}, nil
}

func (s *YAMLProfileStore) Path() string {
	return s.path
}

func (s *YAMLProfileStore) Load(installationId string) (*domain.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, p := range file.Profiles {
		if p.InstallationID == installationId {
			profile := p.Clone()
			return &profile, nil
		}
	}
	return nil, nil
}

func (s *YAMLProfileStore) Save(profile domain.DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range file.Profiles {
		if file.Profiles[i].InstallationID == profile.InstallationID {
			file.Profiles[i] = profile.Clone()
			replaced = true
		}
	}
	if !replaced {
		file.Profiles = append(file.Profiles, profile.Clone())
	}
	sort.Slice(file.Profiles, func(i, j int) bool {
		return file.Profiles[i].InstallationID < file.Profiles[j].InstallationID
	})
	return s.write(file)
}

func (s *YAMLProfileStore) read() (profileFile, error) {
	var file profileFile
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("profile store: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("profile store: corrupt %s: %w", s.path, err)
	}
	return file, nil
}

func (s *YAMLProfileStore) write(file profileFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("profile store: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("profile store: %w", err)
	}
	return nil
}

// writeAtomic writes to a temporary file next to path and renames it over.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
