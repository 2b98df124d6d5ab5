package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-xyz")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithTool(ctx, "web_search")

	logger := PropagateToLogger(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{"trace-xyz", "sess-1", "web_search"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLoggerFromContextEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := LoggerFromContext(context.Background(), zerolog.New(buf))
	logger.Info().Msg("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Error("bare context should add no tracing fields")
	}
}

func TestMergeContext(t *testing.T) {
	source := context.Background()
	source = WithTraceID(source, "t-source")
	source = WithSessionID(source, "s-source")

	target := WithTraceID(context.Background(), "t-target")
	merged := MergeContext(target, source)

	if GetTraceID(merged) != "t-target" {
		t.Error("merge must not overwrite existing trace ID")
	}
	if GetSessionID(merged) != "s-source" {
		t.Error("merge should fill missing session ID")
	}
}

func TestCloneContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "t1")
	ctx = WithRequestID(ctx, "r1")

	clone := CloneContext(ctx)
	if GetTraceID(clone) != "t1" || GetRequestID(clone) != "r1" {
		t.Error("clone lost tracing information")
	}
}
