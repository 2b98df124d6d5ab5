package router

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/pkg/contextstore"
	"github.com/batteryshark/agent-armory/pkg/engine"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
)

// ErrValidation reports an inbound message that fails its kind's
// schema. Nothing is applied for such a message.
var ErrValidation = errors.New("message validation failed")

// Protocol-level error codes. These are the stable wire contract;
// internal error types map onto them and never leak through.
const (
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeDuplicateTool      = "DUPLICATE_TOOL"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeExecutionTimeout   = "EXECUTION_TIMEOUT"
	CodeExecutionFailed    = "EXECUTION_FAILED"
	CodeCancelled          = "CANCELLED"
	CodeContextKeyNotFound = "CONTEXT_KEY_NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"
)

// mapError converts an internal error into its protocol payload.
// Unrecognized errors surface as an opaque internal error; the full
// detail goes to the log only.
func mapError(logger zerolog.Logger, err error) ErrorInfo {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, registry.ErrInvalidParams),
		errors.Is(err, engine.ErrDuplicateRequest),
		errors.Is(err, engine.ErrRequestNotFound):
		return ErrorInfo{Code: CodeValidationError, Message: err.Error()}
	case errors.Is(err, registry.ErrToolNotFound):
		return ErrorInfo{Code: CodeToolNotFound, Message: err.Error()}
	case errors.Is(err, registry.ErrDuplicateTool):
		return ErrorInfo{Code: CodeDuplicateTool, Message: err.Error()}
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return ErrorInfo{Code: CodeRateLimitExceeded, Message: err.Error()}
	case errors.Is(err, engine.ErrTimedOut):
		return ErrorInfo{Code: CodeExecutionTimeout, Message: err.Error()}
	case errors.Is(err, engine.ErrCancelled):
		return ErrorInfo{Code: CodeCancelled, Message: err.Error()}
	case errors.Is(err, contextstore.ErrKeyNotFound),
		errors.Is(err, contextstore.ErrSessionNotFound):
		return ErrorInfo{Code: CodeContextKeyNotFound, Message: err.Error()}
	default:
		logger.Error().Err(err).Msg("internal error in message dispatch")
		return ErrorInfo{Code: CodeInternalError, Message: "internal error"}
	}
}
