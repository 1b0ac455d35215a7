// Package appstate holds the process-wide state shared by jobs, commands and
// event handlers.
package appstate

import (
	"amd/internal/transport"
)

// LogControl adjusts log verbosity at runtime. Implementations must be safe
// for concurrent readers and writers (logx.Service is).
type LogControl interface {
	Level() string
	SetLevel(level string) error
}

// ReactionRoles maps a reaction emoji to a guild role id.
// It is filled by NewReactionRoles and never mutated afterwards, so reads
// need no lock.
type ReactionRoles struct {
	m map[string]string
}

func NewReactionRoles(m map[string]string) ReactionRoles {
	cp := make(map[string]string, len(m))
	for emoji, role := range m {
		if emoji == "" || role == "" {
			continue
		}
		cp[emoji] = role
	}
	return ReactionRoles{m: cp}
}

func (r ReactionRoles) Lookup(emoji string) (string, bool) {
	role, ok := r.m[emoji]
	return role, ok
}

func (r ReactionRoles) Len() int { return len(r.m) }

// State is created once at startup and shared by reference.
type State struct {
	ReactionRoles ReactionRoles
	Log           LogControl
	Platform      transport.Platform
}

func New(roles ReactionRoles, log LogControl, platform transport.Platform) *State {
	return &State{ReactionRoles: roles, Log: log, Platform: platform}
}
