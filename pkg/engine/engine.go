package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/batteryshark/agent-armory/internal/tracing"
	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
)

var (
	// ErrCancelled reports that a request was cancelled before completing.
	ErrCancelled = errors.New("execution cancelled")
	// ErrTimedOut reports that a request exceeded its deadline.
	ErrTimedOut = errors.New("execution deadline exceeded")
	// ErrDuplicateRequest reports a request id reused within a session
	// while the prior request is still tracked.
	ErrDuplicateRequest = errors.New("duplicate request id")
	// ErrRequestNotFound reports an unknown session/request pair.
	ErrRequestNotFound = errors.New("request not found")
)

// DefaultTimeout bounds executions whose tool declares no deadline.
const DefaultTimeout = 60 * time.Second

// Archiver persists terminal execution snapshots.
type Archiver interface {
	Archive(snap Snapshot) error
}

// Config wires an Engine's collaborators.
type Config struct {
	Registry  *registry.Registry
	Limiter   *ratelimit.Limiter
	Publisher *events.Publisher
	Logger    zerolog.Logger

	// DefaultTimeout applies when neither the request nor the tool
	// descriptor sets one. Zero means DefaultTimeout.
	DefaultTimeout time.Duration
	// MaxInFlight bounds executions across all tools. Zero or less
	// means unbounded.
	MaxInFlight int
	// Archiver, when set, receives every terminal snapshot.
	Archiver Archiver
}

// Engine admits, runs, and tracks tool executions. Submission blocks
// the caller through admission control so rejection surfaces as an
// error on the submitting call rather than as an event.
type Engine struct {
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	publisher *events.Publisher
	logger    zerolog.Logger
	archiver  Archiver

	defaultTimeout time.Duration
	globalGate     *gate

	mu      sync.RWMutex
	records map[string]*Record

	gateMu    sync.Mutex
	toolGates map[string]*gate
}

// New builds an Engine from cfg. Registry, Limiter, and Publisher are
// required.
func New(cfg Config) *Engine {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		registry:       cfg.Registry,
		limiter:        cfg.Limiter,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger.With().Str("component", "engine").Logger(),
		archiver:       cfg.Archiver,
		defaultTimeout: timeout,
		globalGate:     newGate(cfg.MaxInFlight),
		records:        make(map[string]*Record),
		toolGates:      make(map[string]*gate),
	}
}

func recordKey(sessionID, requestID string) string {
	return sessionID + "\x00" + requestID
}

func (e *Engine) toolGate(desc *registry.ToolDescriptor) *gate {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	g, ok := e.toolGates[desc.Name]
	if !ok {
		g = newGate(desc.MaxConcurrent)
		e.toolGates[desc.Name] = g
	}
	return g
}

// Submit validates, admits, and starts one execution. It blocks the
// caller through admission: concurrency gates and the rate limiter run
// synchronously, so rate-limit rejections and queue-wait cancellations
// come back as errors here. Once admitted, the invocation runs in its
// own goroutine and the returned Record tracks it to a terminal state.
//
// The deadline starts at admission, not submission. Time spent queued
// does not count against the tool's budget.
func (e *Engine) Submit(ctx context.Context, req Request) (*Record, error) {
	ctx, span := tracing.StartSpan(ctx, "armory.engine", "engine.submit",
		attribute.String("tool", req.Tool),
		attribute.String("session_id", req.SessionID),
		attribute.String("request_id", req.ID),
	)
	defer span.End()

	rec, err := e.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (e *Engine) submit(ctx context.Context, req Request) (*Record, error) {
	desc, err := e.registry.Lookup(req.Tool)
	if err != nil {
		return nil, err
	}
	if err := desc.ValidateParams(req.Params); err != nil {
		return nil, err
	}

	rec := newRecord(req)
	rec.toolVer = desc.Version
	key := recordKey(req.SessionID, req.ID)

	e.mu.Lock()
	if prior, ok := e.records[key]; ok && !prior.State().Terminal() {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}
	e.records[key] = rec
	e.mu.Unlock()

	// Execution outlives the submitting call; only explicit
	// cancellation ends the admission wait, not the caller's context
	// expiry after Submit returns.
	admCtx, admCancel := context.WithCancel(context.WithoutCancel(ctx))
	rec.mu.Lock()
	rec.admissionCancel = admCancel
	rec.mu.Unlock()

	tg := e.toolGate(desc)
	if err := tg.acquire(admCtx); err != nil {
		return rec, e.failAdmission(rec, desc.Name, err)
	}
	if err := e.globalGate.acquire(admCtx); err != nil {
		tg.release()
		return rec, e.failAdmission(rec, desc.Name, err)
	}

	err = e.limiter.Acquire(admCtx, desc.Name)
	metrics.SetRateLimitWaiters(desc.Name, e.limiter.Waiting(desc.Name))
	if err != nil {
		tg.release()
		e.globalGate.release()
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			metrics.RateLimitRejected(desc.Name)
			rec.terminate(StateFailed, nil, err)
			e.finish(rec, desc.Name, false)
			return rec, err
		}
		return rec, e.failAdmission(rec, desc.Name, err)
	}

	// A Cancel can land between the limiter admitting us and either
	// transition below; it terminates the record directly, making the
	// advance fail. The handler must not start in that case.
	if !rec.advance(StateAdmitted) {
		tg.release()
		e.globalGate.release()
		e.finish(rec, desc.Name, false)
		return rec, ErrCancelled
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = desc.Timeout
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, runCancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	rec.mu.Lock()
	rec.runCancel = runCancel
	rec.mu.Unlock()

	if !rec.advance(StateRunning) {
		runCancel()
		tg.release()
		e.globalGate.release()
		e.finish(rec, desc.Name, false)
		return rec, ErrCancelled
	}
	metrics.ExecutionStarted()
	e.publish(rec, events.KindProgress, map[string]interface{}{
		"phase": "running",
		"tool":  desc.Name,
	})

	go e.run(runCtx, runCancel, desc, rec, req, tg)
	return rec, nil
}

// failAdmission terminates a record that never started running. It
// publishes nothing itself: explicit cancellations report from Cancel,
// everything else through the submitting call's error.
func (e *Engine) failAdmission(rec *Record, tool string, cause error) error {
	state := StateFailed
	err := cause
	if errors.Is(cause, context.Canceled) {
		state = StateCancelled
		err = ErrCancelled
	}
	rec.terminate(state, nil, err)
	e.finish(rec, tool, false)
	return err
}

// run drives one admitted invocation to its terminal state.
func (e *Engine) run(ctx context.Context, cancel context.CancelFunc, desc *registry.ToolDescriptor, rec *Record, req Request, tg *gate) {
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "armory.engine", "engine.run",
		attribute.String("tool", desc.Name),
		attribute.String("request_id", rec.requestID),
	)
	defer span.End()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)

	invokeCtx := withProgressReporter(ctx, func(payload map[string]interface{}) {
		e.publish(rec, events.KindProgress, payload)
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		result, err := desc.Handler(invokeCtx, req.Params)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		if rec.terminate(StateCompleted, result, nil) {
			e.publish(rec, events.KindCompleted, map[string]interface{}{
				"tool":   desc.Name,
				"result": result,
			})
		} else {
			e.logLate(rec, "completion signal after terminal state")
		}

	case err := <-errCh:
		state := StateFailed
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			state, err = StateTimedOut, ErrTimedOut
		} else if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			state, err = StateCancelled, ErrCancelled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rec.terminate(state, nil, err) {
			e.publish(rec, events.KindFailed, map[string]interface{}{
				"tool":  desc.Name,
				"code":  codeForState(state),
				"error": err.Error(),
			})
		} else {
			e.logLate(rec, "failure signal after terminal state")
		}

	case <-ctx.Done():
		state, err := StateTimedOut, error(ErrTimedOut)
		if errors.Is(ctx.Err(), context.Canceled) {
			state, err = StateCancelled, ErrCancelled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rec.terminate(state, nil, err) {
			e.publish(rec, events.KindFailed, map[string]interface{}{
				"tool":  desc.Name,
				"code":  codeForState(state),
				"error": err.Error(),
			})
		}
		// The handler goroutine may still be running. Bookkeeping
		// converges now; the handler's eventual return is discarded.
		go e.drainLate(rec, resultCh, errCh)
	}

	tg.release()
	e.globalGate.release()
	metrics.ExecutionFinished()
	e.finish(rec, desc.Name, true)
}

// finish records terminal metrics and hands the snapshot to the
// archiver. ran distinguishes admitted executions from admission
// failures for duration accounting.
func (e *Engine) finish(rec *Record, tool string, ran bool) {
	snap := rec.Snapshot()
	duration := time.Duration(0)
	if ran && !snap.StartedAt.IsZero() {
		duration = snap.EndedAt.Sub(snap.StartedAt)
	}
	metrics.RecordExecution(tool, string(snap.State), duration)

	evt := e.logger.Debug()
	if snap.State != StateCompleted {
		evt = e.logger.Warn().AnErr("error", snap.Err)
	}
	evt.Str("session_id", snap.SessionID).
		Str("request_id", snap.RequestID).
		Str("tool", tool).
		Str("state", string(snap.State)).
		Dur("duration", duration).
		Msg("execution finished")

	if e.archiver != nil {
		go func() {
			if err := e.archiver.Archive(snap); err != nil {
				e.logger.Error().Err(err).
					Str("request_id", snap.RequestID).
					Msg("archive execution record")
			}
		}()
	}
}

func (e *Engine) drainLate(rec *Record, resultCh <-chan interface{}, errCh <-chan error) {
	select {
	case <-resultCh:
		e.logLate(rec, "completion signal after terminal state")
	case err := <-errCh:
		e.logger.Warn().
			Str("session_id", rec.sessionID).
			Str("request_id", rec.requestID).
			AnErr("late_error", err).
			Msg("failure signal after terminal state")
	}
}

func (e *Engine) logLate(rec *Record, msg string) {
	e.logger.Warn().
		Str("session_id", rec.sessionID).
		Str("request_id", rec.requestID).
		Str("tool", rec.tool).
		Msg(msg)
}

func (e *Engine) publish(rec *Record, kind events.Kind, payload map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.Event{
		SessionID: rec.sessionID,
		Kind:      kind,
		RequestID: rec.requestID,
		Payload:   payload,
	})
}

func codeForState(s State) string {
	switch s {
	case StateTimedOut:
		return "EXECUTION_TIMEOUT"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "EXECUTION_FAILED"
	}
}

// Cancel stops a tracked request. Queued requests leave their wait
// immediately; running requests have their context cancelled and
// transition to cancelled without waiting for the handler to notice.
// Cancelling a terminal request is a no-op.
func (e *Engine) Cancel(sessionID, requestID string) error {
	e.mu.RLock()
	rec, ok := e.records[recordKey(sessionID, requestID)]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	rec.mu.Lock()
	if rec.state.Terminal() {
		rec.mu.Unlock()
		return nil
	}
	admCancel := rec.admissionCancel
	runCancel := rec.runCancel
	rec.mu.Unlock()

	if admCancel != nil {
		admCancel()
	}
	if runCancel != nil {
		runCancel()
	}

	// Force the transition for every non-terminal state. A request
	// between limiter admission and the running transition has already
	// consumed its admission context, so the context cancellations
	// alone cannot stop it; the terminate here does. Whichever side
	// loses the terminate race becomes a no-op.
	if rec.terminate(StateCancelled, nil, ErrCancelled) {
		e.publish(rec, events.KindFailed, map[string]interface{}{
			"tool":  rec.tool,
			"code":  "CANCELLED",
			"error": ErrCancelled.Error(),
		})
	}
	return nil
}

// CancelSession cancels every non-terminal request belonging to a
// session. It returns the number of requests cancelled.
func (e *Engine) CancelSession(sessionID string) int {
	e.mu.RLock()
	var ids []string
	for _, rec := range e.records {
		if rec.sessionID == sessionID && !rec.State().Terminal() {
			ids = append(ids, rec.requestID)
		}
	}
	e.mu.RUnlock()

	for _, id := range ids {
		_ = e.Cancel(sessionID, id)
	}
	return len(ids)
}

// Lookup returns the tracked record for a session/request pair.
func (e *Engine) Lookup(sessionID, requestID string) (*Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[recordKey(sessionID, requestID)]
	return rec, ok
}

// PurgeRecords drops terminal records whose execution ended before the
// retention window. It returns the number removed.
func (e *Engine) PurgeRecords(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, rec := range e.records {
		snap := rec.Snapshot()
		if snap.State.Terminal() && snap.EndedAt.Before(cutoff) {
			delete(e.records, key)
			removed++
		}
	}
	return removed
}

// InFlight counts tracked records that have not reached a terminal
// state.
func (e *Engine) InFlight() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rec := range e.records {
		if !rec.State().Terminal() {
			n++
		}
	}
	return n
}
