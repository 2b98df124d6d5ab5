package router

// MessageKind discriminates inbound protocol messages.
type MessageKind string

const (
	KindDiscovery     MessageKind = "discovery"
	KindExecute       MessageKind = "execute"
	KindCancel        MessageKind = "cancel"
	KindContextGet    MessageKind = "context_get"
	KindContextSet    MessageKind = "context_set"
	KindContextDelete MessageKind = "context_delete"
	KindHistory       MessageKind = "history"
)

// Message is one inbound protocol frame. Fields beyond kind are
// interpreted per kind; unknown kinds are rejected.
type Message struct {
	Kind      MessageKind            `json:"kind"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Key       string                 `json:"key,omitempty"`
	Value     interface{}            `json:"value,omitempty"`
}

// Status values for synchronous responses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusAccepted = "accepted"
)

// ErrorInfo is the protocol-level error payload. Message never carries
// internal stack or state detail.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the synchronous reply to one inbound message.
type Response struct {
	RequestID string      `json:"request_id"`
	Status    string      `json:"status"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

func okResponse(requestID string, result interface{}) Response {
	return Response{RequestID: requestID, Status: StatusOK, Result: result}
}

func acceptedResponse(requestID string) Response {
	return Response{
		RequestID: requestID,
		Status:    StatusAccepted,
		Result:    map[string]interface{}{"status": "accepted"},
	}
}

func errorResponse(requestID string, info ErrorInfo) Response {
	return Response{RequestID: requestID, Status: StatusError, Error: &info}
}
