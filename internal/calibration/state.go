// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "github.com/pkg/errors"

// State is the phase of the calibration state machine.
type State int

const (
	StateNone State = iota
	StateBegin
	StateRotation
	StateTranslation
	StateEditing
)

var stateNames = [...]string{
	StateNone:        "none",
	StateBegin:       "begin",
	StateRotation:    "rotation",
	StateTranslation: "translation",
	StateEditing:     "editing",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Calibrating reports whether a calibration run is in progress.
func (s State) Calibrating() bool {
	return s == StateBegin || s == StateRotation || s == StateTranslation
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown calibration state %q", string(text))
}
