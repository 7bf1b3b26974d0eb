package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testTime = time.Unix(1_700_000_000, 0)

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	assert.Nil(t, d)

	// nil dispatcher is safe to use
	d.Emit(context.Background(), NewEvent(testTime, EventLogout, "u-1", true, ""))
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestDispatcherForwardsAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(10)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 10}, sink, nil)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), NewEvent(testTime, EventLoginSuccess, "u-1", true, ""))
	}
	d.Close()

	require.Len(t, sink.Events(), 3)
	e := <-sink.Events()
	assert.Equal(t, EventLoginSuccess, e.EventType)
	assert.NotEmpty(t, e.ID)

	// Emit after close is ignored.
	d.Emit(context.Background(), NewEvent(testTime, EventLogout, "u-1", true, ""))
	assert.Len(t, sink.Events(), 2)
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (s *blockingSink) Emit(ctx context.Context, _ Event) error {
	<-s.release
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), NewEvent(testTime, EventAuthRejected, "u", false, "x"))
	}
	assert.Greater(t, d.Dropped(), uint64(0))

	close(sink.release)
	d.Close()
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("broker down") }

func TestDispatcherCountsAndLogsSinkFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, failingSink{}, zap.New(core))

	d.Emit(context.Background(), NewEvent(testTime, EventLogout, "u-1", true, ""))
	d.Close()

	assert.Equal(t, uint64(1), d.Failed())
	assert.Equal(t, 1, logs.FilterMessage("audit sink emit failed").Len())
}

func TestZapSinkWritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	e := NewEvent(testTime, EventAuthRejected, "u-9", false, "subject_mismatch")
	e.Metadata = map[string]string{"path": "/auth"}
	require.NoError(t, sink.Emit(context.Background(), e))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "auth_rejected", fields["event_type"])
	assert.Equal(t, "u-9", fields["subject"])
	assert.Equal(t, "subject_mismatch", fields["reason"])
	assert.Equal(t, "/auth", fields["meta.path"])
	assert.Equal(t, "audit", fields["component"])
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSinkPublishesJSONKeyedBySubject(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSinkWithWriter(w, "auth-audit", nil)

	e := NewEvent(testTime, EventLoginSuccess, "u-7", true, "")
	require.NoError(t, sink.Emit(context.Background(), e))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("u-7"), w.msgs[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, EventLoginSuccess, decoded.EventType)
	assert.True(t, decoded.Success)
}

func TestKafkaSinkReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("no leader")}
	sink := NewKafkaSinkWithWriter(w, "auth-audit", nil)
	assert.Error(t, sink.Emit(context.Background(), NewEvent(testTime, EventLogout, "u-1", true, "")))
	assert.NoError(t, sink.Close())
}

type spanSink struct {
	mu    sync.Mutex
	spans []trace.SpanContext
}

func (s *spanSink) Emit(ctx context.Context, _ Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, trace.SpanContextFromContext(ctx))
	return nil
}

func testSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestDispatcherKeepsEmitterSpanContext(t *testing.T) {
	sink := &spanSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, nil)

	sc := testSpanContext(t)
	d.Emit(trace.ContextWithSpanContext(context.Background(), sc), NewEvent(testTime, EventLoginSuccess, "u-1", true, ""))
	d.Emit(context.Background(), NewEvent(testTime, EventLogout, "u-1", true, ""))
	d.Close()

	require.Len(t, sink.spans, 2)
	assert.Equal(t, sc.TraceID(), sink.spans[0].TraceID())
	assert.Equal(t, sc.SpanID(), sink.spans[0].SpanID())
	assert.False(t, sink.spans[1].IsValid())
}

func TestKafkaSinkLinksToRequestTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	w := &recordingWriter{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, NewKafkaSinkWithWriter(w, "auth-audit", nil), nil)

	sc := testSpanContext(t)
	d.Emit(trace.ContextWithSpanContext(context.Background(), sc), NewEvent(testTime, EventLoginSuccess, "u-1", true, ""))
	d.Close()

	require.Len(t, w.msgs, 1)
	var traceparent string
	for _, h := range w.msgs[0].Headers {
		if h.Key == "traceparent" {
			traceparent = string(h.Value)
		}
	}
	assert.Contains(t, traceparent, sc.TraceID().String())
}
