// Package toolmode tracks the per-session flag that selects which
// reply-generation path handles the next incoming text message.
package toolmode

import (
	"fmt"
	"sync"
)

// Flag names one of the alternate reply-generation paths.
type Flag string

const (
	FlagSearch    Flag = "search"
	FlagImageEdit Flag = "image_edit"
	FlagVideoEdit Flag = "video_edit"
	FlagPrint     Flag = "print"
	FlagBreakdown Flag = "breakdown"
)

// Flags lists every valid flag.
var Flags = []Flag{FlagSearch, FlagImageEdit, FlagVideoEdit, FlagPrint, FlagBreakdown}

func valid(f Flag) bool {
	for _, known := range Flags {
		if f == known {
			return true
		}
	}
	return false
}

// State holds the tool-mode flags for every session. Flags default to
// false on first access. The route flags are mutually exclusive:
// enabling one disables the others, so a session is always in exactly
// zero or one alternate mode. Last write wins per session id.
type State struct {
	mu       sync.Mutex
	sessions map[string]map[Flag]bool
}

// NewState creates an empty flag store.
func NewState() *State {
	return &State{sessions: make(map[string]map[Flag]bool)}
}

// Get returns the flag's current value, defaulting to false.
func (s *State) Get(sessionID string, f Flag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID][f]
}

// Toggle flips the flag and returns its new value. Enabling a flag
// disables any other active flag for the session. Unknown flag names
// are an error.
func (s *State) Toggle(sessionID string, f Flag) (bool, error) {
	if !valid(f) {
		return false, fmt.Errorf("unknown tool-mode flag %q", f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flags, ok := s.sessions[sessionID]
	if !ok {
		flags = make(map[Flag]bool)
		s.sessions[sessionID] = flags
	}

	next := !flags[f]
	if next {
		for k := range flags {
			flags[k] = false
		}
	}
	flags[f] = next
	return next, nil
}

// Active returns the session's enabled flag, or "" when none is set.
func (s *State) Active(sessionID string) Flag {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f, on := range s.sessions[sessionID] {
		if on {
			return f
		}
	}
	return ""
}

// Reset clears all flags for the session.
func (s *State) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
