package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error { m.closed = true; return nil }

func TestBroadcastBestEffort(t *testing.T) {
	failing := &memSink{err: errors.New("down")}
	ok := &memSink{}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	Broadcast(context.Background(), []Sink{failing, ok}, Event{Type: EventTransition, From: "launching", To: "running"}, log)

	require.Len(t, ok.events, 1)
	assert.Equal(t, "running", ok.events[0].To)
	assert.False(t, ok.events[0].OccurredAt.IsZero())
	assert.WithinDuration(t, time.Now(), ok.events[0].OccurredAt, time.Minute)
	assert.Len(t, failing.events, 1)
	assert.Contains(t, buf.String(), "history sink failed")
}

func TestBroadcastNilLogger(t *testing.T) {
	Broadcast(context.Background(), []Sink{&memSink{err: errors.New("x")}}, Event{Type: EventUp}, nil)
}

func TestCloseAll(t *testing.T) {
	s := &memSink{}
	CloseAll([]Sink{s})
	assert.True(t, s.closed)
}
