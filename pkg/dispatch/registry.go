package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// State is where an in-flight crawl currently is
type State string

const (
	StateDispatching State = "dispatching"
	StateNormalizing State = "normalizing"
	StatePersisting  State = "persisting"
	StateAnalyzing   State = "analyzing"
)

// Token proves ownership of a project's crawl slot
type Token struct {
	ProjectID string
	Owner     uuid.UUID
	State     State
	StartedAt time.Time
}

// Registry tracks which projects have a crawl in flight. One token per project id.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]*Token
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]*Token), now: time.Now}
}

// Acquire claims the crawl slot for projectID, or fails with ErrCrawlInFlight
func (r *Registry) Acquire(projectID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.inflight[projectID]; ok {
		return nil, fmt.Errorf("%w: project %s is %s since %s", utils.ErrCrawlInFlight, projectID, cur.State, cur.StartedAt.Format(time.RFC3339))
	}
	tok := &Token{
		ProjectID: projectID,
		Owner:     uuid.New(),
		State:     StateDispatching,
		StartedAt: r.now(),
	}
	r.inflight[projectID] = tok
	return tok, nil
}

// Advance moves the token to state. Fails if tok no longer owns the slot.
func (r *Registry) Advance(tok *Token, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.inflight[tok.ProjectID]
	if !ok || cur.Owner != tok.Owner {
		return fmt.Errorf("%w: token %s does not own project %s", utils.ErrInvalidTransition, tok.Owner, tok.ProjectID)
	}
	cur.State = state
	tok.State = state
	return nil
}

// Release frees the slot if tok still owns it
func (r *Registry) Release(tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.inflight[tok.ProjectID]; ok && cur.Owner == tok.Owner {
		delete(r.inflight, tok.ProjectID)
	}
}

// InFlight returns a copy of the token holding projectID, if any
func (r *Registry) InFlight(projectID string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.inflight[projectID]
	if !ok {
		return Token{}, false
	}
	return *cur, true
}

// Len returns the number of crawls in flight
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
