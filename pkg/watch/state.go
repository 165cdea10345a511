package watch

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "watch_state.json"

// ProjectState is the outcome of the last link re-check of a project
type ProjectState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	LinksChecked   int       `json:"links_checked"`
	BrokenLinks    int       `json:"broken_links"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// State is the persisted watch state
type State struct {
	Projects  map[string]ProjectState `json:"projects"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// StateManager loads and saves the watch state file in the state directory
type StateManager struct {
	stateDir  string
	statePath string
	now       func() time.Time

	mu    sync.RWMutex
	state State
}

// NewStateManager creates a StateManager. A nil clock uses time.Now.
func NewStateManager(stateDir string, now func() time.Time) *StateManager {
	if now == nil {
		now = time.Now
	}
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		now:       now,
		state:     State{Projects: make(map[string]ProjectState)},
	}
}

// Load reads the state file. A missing file is an empty state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		m.state = State{Projects: make(map[string]ProjectState)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watch state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse watch state: %w", err)
	}
	if st.Projects == nil {
		st.Projects = make(map[string]ProjectState)
	}
	m.state = st
	return nil
}

// Save writes the state file atomically
func (m *StateManager) Save() error {
	m.mu.Lock()
	m.state.UpdatedAt = m.now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal watch state: %w", err)
	}

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watch state: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("replace watch state: %w", err)
	}
	return nil
}

// Get returns the state for projectID
func (m *StateManager) Get(projectID string) (ProjectState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state.Projects[projectID]
	return st, ok
}

// Record stores the outcome of a re-check run at the current time
func (m *StateManager) Record(projectID string, checked, broken int, runErr error) {
	st := ProjectState{
		LastRunTime:    m.now(),
		LastRunSuccess: runErr == nil,
		LinksChecked:   checked,
		BrokenLinks:    broken,
	}
	if runErr != nil {
		st.ErrorMessage = runErr.Error()
	}
	m.mu.Lock()
	m.state.Projects[projectID] = st
	m.mu.Unlock()
}

// ShouldRun reports whether projectID has never run or last ran at least interval ago
func (m *StateManager) ShouldRun(projectID string, interval time.Duration) bool {
	st, ok := m.Get(projectID)
	return !ok || m.now().Sub(st.LastRunTime) >= interval
}

// NextRunTime returns when projectID is next due
func (m *StateManager) NextRunTime(projectID string, interval time.Duration) time.Time {
	st, ok := m.Get(projectID)
	if !ok {
		return m.now()
	}
	return st.LastRunTime.Add(interval)
}

// All returns a copy of every project state
func (m *StateManager) All() map[string]ProjectState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.state.Projects)
}
