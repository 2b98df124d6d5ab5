package router

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/batteryshark/agent-armory/internal/tracing"
	"github.com/batteryshark/agent-armory/pkg/contextstore"
	"github.com/batteryshark/agent-armory/pkg/engine"
	"github.com/batteryshark/agent-armory/pkg/history"
	"github.com/batteryshark/agent-armory/pkg/registry"
)

// DefaultSyncWait bounds how long an execute dispatch waits for the
// tool before answering with an accepted ack.
const DefaultSyncWait = 2 * time.Second

// HistoryReader serves the history query surface. Optional; without
// one, history messages answer with an empty list.
type HistoryReader interface {
	BySession(ctx context.Context, sessionID string, limit int) ([]history.Entry, error)
}

// Config wires a Router's collaborators.
type Config struct {
	Registry *registry.Registry
	Engine   *engine.Engine
	Store    *contextstore.Store
	History  HistoryReader
	Logger   zerolog.Logger

	// SyncWait overrides DefaultSyncWait when positive.
	SyncWait time.Duration
}

// Router validates inbound messages and dispatches them to the
// registry, engine, or context store. It is the only component with
// transport awareness; everything behind it is pure logic.
type Router struct {
	registry *registry.Registry
	engine   *engine.Engine
	store    *contextstore.Store
	history  HistoryReader
	logger   zerolog.Logger
	syncWait time.Duration
}

// New builds a Router from cfg. Registry, Engine, and Store are
// required.
func New(cfg Config) *Router {
	wait := cfg.SyncWait
	if wait <= 0 {
		wait = DefaultSyncWait
	}
	return &Router{
		registry: cfg.Registry,
		engine:   cfg.Engine,
		store:    cfg.Store,
		history:  cfg.History,
		logger:   cfg.Logger.With().Str("component", "router").Logger(),
		syncWait: wait,
	}
}

// Dispatch handles one inbound message and returns its synchronous
// response. Invalid messages are rejected whole; nothing is partially
// applied.
func (r *Router) Dispatch(ctx context.Context, msg Message) Response {
	ctx, span := tracing.StartSpan(ctx, "armory.router", "router.dispatch",
		attribute.String("kind", string(msg.Kind)),
		attribute.String("session_id", msg.SessionID),
	)
	defer span.End()

	resp := r.dispatch(ctx, msg)
	if resp.Status == StatusError && resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Code)
	}
	metrics.RecordMessage(string(msg.Kind), resp.Status)
	return resp
}

func (r *Router) dispatch(ctx context.Context, msg Message) Response {
	if err := validate(msg); err != nil {
		return errorResponse(msg.RequestID, mapError(r.logger, err))
	}

	switch msg.Kind {
	case KindDiscovery:
		return r.handleDiscovery(msg)
	case KindExecute:
		return r.handleExecute(ctx, msg)
	case KindCancel:
		return r.handleCancel(msg)
	case KindContextGet, KindContextSet, KindContextDelete:
		return r.handleContext(msg)
	case KindHistory:
		return r.handleHistory(ctx, msg)
	default:
		// validate catches this; kept for exhaustiveness.
		return errorResponse(msg.RequestID, ErrorInfo{
			Code: CodeValidationError, Message: fmt.Sprintf("unknown message kind %q", msg.Kind),
		})
	}
}

// validate checks the per-kind schema. A message that fails here has
// no effect on any component.
func validate(msg Message) error {
	switch msg.Kind {
	case KindDiscovery:
		return nil
	case KindExecute:
		if msg.Tool == "" {
			return fmt.Errorf("%w: execute requires tool", ErrValidation)
		}
		if msg.SessionID == "" {
			return fmt.Errorf("%w: execute requires session_id", ErrValidation)
		}
	case KindCancel:
		if msg.RequestID == "" {
			return fmt.Errorf("%w: cancel requires request_id", ErrValidation)
		}
		if msg.SessionID == "" {
			return fmt.Errorf("%w: cancel requires session_id", ErrValidation)
		}
	case KindContextGet, KindContextSet, KindContextDelete:
		if msg.SessionID == "" {
			return fmt.Errorf("%w: context operations require session_id", ErrValidation)
		}
		if msg.Key == "" {
			return fmt.Errorf("%w: context operations require key", ErrValidation)
		}
	case KindHistory:
		if msg.SessionID == "" {
			return fmt.Errorf("%w: history requires session_id", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", ErrValidation, msg.Kind)
	}
	return nil
}

func (r *Router) handleDiscovery(msg Message) Response {
	if msg.Tool != "" {
		desc, err := r.registry.Lookup(msg.Tool)
		if err != nil {
			return errorResponse(msg.RequestID, mapError(r.logger, err))
		}
		return okResponse(msg.RequestID, map[string]interface{}{"tool": desc})
	}

	var tools []*registry.ToolDescriptor
	for desc := range r.registry.List() {
		tools = append(tools, desc)
	}
	return okResponse(msg.RequestID, map[string]interface{}{"tools": tools})
}

// handleExecute admits the request and waits up to the sync bound for
// the tool to finish. Admission errors (unknown tool, bad params, rate
// limit) come back synchronously; slower executions answer with an
// accepted ack and finish over the session's event stream.
func (r *Router) handleExecute(ctx context.Context, msg Message) Response {
	requestID := msg.RequestID
	if requestID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return errorResponse(requestID, mapError(r.logger, err))
		}
		requestID = id
	}

	rec, err := r.engine.Submit(ctx, engine.Request{
		ID:        requestID,
		Tool:      msg.Tool,
		SessionID: msg.SessionID,
		Params:    msg.Params,
	})
	if err != nil {
		return errorResponse(requestID, mapError(r.logger, err))
	}

	select {
	case <-rec.Done():
		snap := rec.Snapshot()
		if snap.State == engine.StateCompleted {
			return okResponse(requestID, snap.Result)
		}
		return errorResponse(requestID, mapError(r.logger, terminalError(snap)))
	case <-time.After(r.syncWait):
		return acceptedResponse(requestID)
	case <-ctx.Done():
		// The caller is gone; the execution keeps running and its
		// outcome lands on the event stream.
		return acceptedResponse(requestID)
	}
}

// terminalError reconstructs the error carried by a non-completed
// terminal snapshot.
func terminalError(snap engine.Snapshot) error {
	if snap.Err != nil {
		return snap.Err
	}
	return fmt.Errorf("execution ended in state %s", snap.State)
}

func (r *Router) handleCancel(msg Message) Response {
	if err := r.engine.Cancel(msg.SessionID, msg.RequestID); err != nil {
		return errorResponse(msg.RequestID, mapError(r.logger, err))
	}
	return okResponse(msg.RequestID, map[string]interface{}{"cancelled": msg.RequestID})
}

func (r *Router) handleContext(msg Message) Response {
	switch msg.Kind {
	case KindContextGet:
		value, err := r.store.Get(msg.SessionID, msg.Key)
		if err != nil {
			return errorResponse(msg.RequestID, mapError(r.logger, err))
		}
		return okResponse(msg.RequestID, map[string]interface{}{"key": msg.Key, "value": value})
	case KindContextSet:
		r.store.Set(msg.SessionID, msg.Key, msg.Value)
		return okResponse(msg.RequestID, map[string]interface{}{"key": msg.Key})
	default:
		r.store.Delete(msg.SessionID, msg.Key)
		return okResponse(msg.RequestID, map[string]interface{}{"key": msg.Key})
	}
}

func (r *Router) handleHistory(ctx context.Context, msg Message) Response {
	if r.history == nil {
		return okResponse(msg.RequestID, map[string]interface{}{"entries": []history.Entry{}})
	}

	limit := 0
	if raw, ok := msg.Params["limit"]; ok {
		if n, ok := raw.(float64); ok {
			limit = int(n)
		}
	}

	entries, err := r.history.BySession(ctx, msg.SessionID, limit)
	if err != nil {
		return errorResponse(msg.RequestID, mapError(r.logger, err))
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return okResponse(msg.RequestID, map[string]interface{}{"entries": entries})
}
