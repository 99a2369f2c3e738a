// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JSONStore keeps the current profile in a single JSON file.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store writing to path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the file the store writes.
func (s *JSONStore) Path() string { return s.path }

// Load implements Store.
func (s *JSONStore) Load() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read calibration profile")
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "failed to parse calibration profile %s", s.path)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid calibration profile %s", s.path)
	}
	return &p, nil
}

// Save implements Store. The file is replaced atomically so a crash while
// saving never leaves a truncated profile behind.
func (s *JSONStore) Save(p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration profile")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create profile directory")
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary profile file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write calibration profile")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write calibration profile")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "failed to replace calibration profile")
	}
	return nil
}
