package store

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// EnvStore is ~/.rv/env.json: variables injected into every submitted job.
type EnvStore struct {
	Vars map[string]string `json:"vars"`

	path string
}

// LoadEnv reads the env store, returning an empty store when absent.
func LoadEnv() (*EnvStore, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "env.json")
	s := &EnvStore{Vars: map[string]string{}, path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Vars == nil {
		s.Vars = map[string]string{}
	}
	return s, nil
}

// Set stores a variable and persists.
func (s *EnvStore) Set(key, value string) error {
	s.Vars[key] = value
	return s.save()
}

// Unset removes a variable and persists.
func (s *EnvStore) Unset(key string) error {
	delete(s.Vars, key)
	return s.save()
}

func (s *EnvStore) save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, data, 0o600)
}
