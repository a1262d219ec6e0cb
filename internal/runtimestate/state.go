// Package runtimestate holds the snapshot of server-authored configuration
// read by the supervisor and the dispatcher, which hands handlers a copy in
// their handler.Context. The
// supervisor is the sole writer; every other component takes an immutable
// snapshot on read, so no reader ever observes a config value changing out
// from under it mid-use.
package runtimestate

import (
	"sync/atomic"

	"github.com/adno-labs/agent-runtime/internal/model"
)

// State holds the current AgentConfig and WorkspaceConfig.
type State struct {
	config    atomic.Pointer[model.AgentConfig]
	workspace atomic.Pointer[model.WorkspaceConfig]
}

// New returns an empty State; Config and Workspace must be set before use.
func New() *State {
	return &State{}
}

// SetConfig atomically replaces the current agent configuration.
func (s *State) SetConfig(c model.AgentConfig) {
	s.config.Store(&c)
}

// Config returns the current agent configuration snapshot. Zero value if
// never set.
func (s *State) Config() model.AgentConfig {
	p := s.config.Load()
	if p == nil {
		return model.AgentConfig{}
	}
	return *p
}

// SetWorkspace atomically replaces the current workspace configuration.
func (s *State) SetWorkspace(w model.WorkspaceConfig) {
	s.workspace.Store(&w)
}

// Workspace returns the current workspace configuration snapshot.
func (s *State) Workspace() model.WorkspaceConfig {
	p := s.workspace.Load()
	if p == nil {
		return model.WorkspaceConfig{}
	}
	return *p
}
