package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID test-trace-id, got %s", got)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-1")

	if got := GetSessionID(ctx); got != "sess-1" {
		t.Errorf("Expected session ID sess-1, got %s", got)
	}
}

func TestWithTool(t *testing.T) {
	ctx := WithTool(context.Background(), "url_scraper")

	if got := GetTool(ctx); got != "url_scraper" {
		t.Errorf("Expected tool url_scraper, got %s", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetRequestID(ctx) != "" || GetSessionID(ctx) != "" || GetTool(ctx) != "" {
		t.Error("Expected empty values from bare context")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "t1")
	ctx = WithRequestID(ctx, "r1")
	ctx = WithSessionID(ctx, "s1")
	ctx = WithTool(ctx, "echo")

	tc := FromContext(ctx)
	if tc.TraceID != "t1" || tc.RequestID != "r1" || tc.SessionID != "s1" || tc.Tool != "echo" {
		t.Errorf("FromContext mismatch: %+v", tc)
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{TraceID: "t1", SessionID: "s1"}
	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "t1" {
		t.Error("trace ID not propagated")
	}
	if GetSessionID(ctx) != "s1" {
		t.Error("session ID not propagated")
	}
	if GetRequestID(ctx) != "" {
		t.Error("request ID should be empty")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("Expected a generated trace ID")
	}
}
