// Package state models the lifecycle of a work item and maps it onto mailbox
// labels.
package state

import (
	"errors"
	"fmt"
	"strings"
)

type State int

const (
	Eligible State = iota
	Processing
	Archived
	Skipped
	Errored
)

func (s State) String() string {
	switch s {
	case Eligible:
		return "eligible"
	case Processing:
		return "processing"
	case Archived:
		return "archived"
	case Skipped:
		return "skipped"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == Archived || s == Skipped || s == Errored
}

var transitions = map[State][]State{
	Eligible:   {Processing},
	Processing: {Archived, Skipped, Errored, Eligible},
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflictingLabels = errors.New("item carries more than one terminal label")
	ErrAlreadyClaimed    = errors.New("item is already claimed or finished")
	ErrAlreadyTerminal   = errors.New("item already carries a terminal label")
)

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for a disallowed move.
func ValidateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Labels names the mailbox labels that encode each state.
type Labels struct {
	Prefix     string
	Processing string
	Archived   string
	Skipped    string
	Errored    string
	Digest     string
	TestMode   string
}

// NewLabels derives every label name from prefix.
func NewLabels(prefix string) Labels {
	return Labels{
		Prefix:     prefix,
		Processing: prefix + "/processing",
		Archived:   prefix + "/archived",
		Skipped:    prefix + "/skipped",
		Errored:    prefix + "/errored",
		Digest:     prefix + "/digest",
		TestMode:   prefix + "/test",
	}
}

// For returns the label encoding s. Eligible has none.
func (l Labels) For(s State) string {
	switch s {
	case Processing:
		return l.Processing
	case Archived:
		return l.Archived
	case Skipped:
		return l.Skipped
	case Errored:
		return l.Errored
	default:
		return ""
	}
}

// Owns reports whether name lives under the archiver's label prefix.
func (l Labels) Owns(name string) bool {
	return l.Prefix != "" && strings.HasPrefix(name, l.Prefix+"/")
}

// Excluded lists the labels that keep an item out of the worklist.
func (l Labels) Excluded() []string {
	return []string{l.Processing, l.Archived, l.Skipped, l.Errored, l.Digest}
}

// FromLabels derives the state from label names. A terminal label wins over
// the processing marker, which can linger after an interrupted terminal
// transition.
func (l Labels) FromLabels(names []string) (State, error) {
	var terminal []State
	processing := false
	for _, n := range names {
		switch n {
		case l.Archived:
			terminal = append(terminal, Archived)
		case l.Skipped:
			terminal = append(terminal, Skipped)
		case l.Errored:
			terminal = append(terminal, Errored)
		case l.Processing:
			processing = true
		}
	}

	switch {
	case len(terminal) > 1:
		return Errored, fmt.Errorf("%w: %v", ErrConflictingLabels, terminal)
	case len(terminal) == 1:
		return terminal[0], nil
	case processing:
		return Processing, nil
	default:
		return Eligible, nil
	}
}
