package engine

import (
	"context"
	"sync"
	"time"
)

// State is an execution request's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateAdmitted  State = "admitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends the lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Request describes one tool invocation to execute.
type Request struct {
	ID        string
	Tool      string
	SessionID string
	Params    map[string]interface{}
	// Timeout overrides the descriptor's deadline when positive.
	Timeout     time.Duration
	SubmittedAt time.Time
}

// Record is the engine-owned bookkeeping for one request. Other
// components only ever see Snapshot copies.
type Record struct {
	mu sync.Mutex

	requestID string
	tool      string
	toolVer   string
	sessionID string

	state  State
	result interface{}
	err    error

	submittedAt time.Time
	startedAt   time.Time
	endedAt     time.Time

	admissionCancel context.CancelFunc
	runCancel       context.CancelFunc

	done chan struct{}
}

// Snapshot is an immutable copy of a record's visible state.
type Snapshot struct {
	RequestID   string
	Tool        string
	ToolVersion string
	SessionID   string
	State       State
	Result      interface{}
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	EndedAt     time.Time
}

func newRecord(req Request) *Record {
	submitted := req.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	return &Record{
		requestID:   req.ID,
		tool:        req.Tool,
		sessionID:   req.SessionID,
		state:       StateQueued,
		submittedAt: submitted,
		done:        make(chan struct{}),
	}
}

// Done is closed when the record reaches a terminal state.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot copies the record's visible state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RequestID:   r.requestID,
		Tool:        r.tool,
		ToolVersion: r.toolVer,
		SessionID:   r.sessionID,
		State:       r.state,
		Result:      r.result,
		Err:         r.err,
		SubmittedAt: r.submittedAt,
		StartedAt:   r.startedAt,
		EndedAt:     r.endedAt,
	}
}

// advance moves the record through a non-terminal transition. It is a
// no-op once the record is terminal.
func (r *Record) advance(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return false
	}
	r.state = to
	if to == StateRunning && r.startedAt.IsZero() {
		r.startedAt = time.Now()
	}
	return true
}

// terminate applies the single allowed terminal transition. It returns
// false if the record was already terminal, in which case nothing is
// recorded.
func (r *Record) terminate(to State, result interface{}, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return false
	}

	r.state = to
	r.result = result
	r.err = err
	r.endedAt = time.Now()
	close(r.done)
	return true
}
