package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureWriter struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	batches int
}

func (w *captureWriter) WriteBatch(ctx context.Context, entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches++
	w.entries = append(w.entries, entries...)
	return nil
}

func (w *captureWriter) all() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

func TestTrail_DrainsOnStop(t *testing.T) {
	w := &captureWriter{}
	trail := NewTrailSized(w, zap.NewNop(), 100, time.Hour) // тикер не успеет — сброс только в drain
	trail.Start()

	for i := 0; i < 25; i++ {
		trail.Log(Entry{UserID: "u1", Category: CategoryToolCall})
	}
	trail.Stop()

	got := w.all()
	require.Len(t, got, 25, "every buffered entry must survive shutdown")
	assert.False(t, got[0].Timestamp.IsZero(), "timestamp is stamped on enqueue")
}

func TestTrail_LogAfterStopIsDroppedNotPanic(t *testing.T) {
	w := &captureWriter{}
	trail := NewTrailSized(w, zap.NewNop(), 10, time.Hour)
	trail.Start()
	trail.Stop()

	require.NotPanics(t, func() {
		trail.Log(Entry{UserID: "u1"})
	})
	assert.Empty(t, w.all())
}

func TestTrail_OverflowShedsInsteadOfBlocking(t *testing.T) {
	w := &captureWriter{}
	trail := NewTrailSized(w, zap.NewNop(), 2, time.Hour)
	// Воркер не запущен: канал наполняется и переполняется

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			trail.Log(Entry{UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log must never block on a full buffer")
	}
}

func TestTrail_WriteErrorIsContained(t *testing.T) {
	w := &captureWriter{err: errors.New("db is down")}
	trail := NewTrailSized(w, zap.NewNop(), 10, time.Hour)
	trail.Start()
	trail.Log(Entry{UserID: "u1"})

	require.NotPanics(t, trail.Stop)
}

func TestService_LogRedactsBeforeEnqueue(t *testing.T) {
	w := &captureWriter{}
	trail := NewTrailSized(w, zap.NewNop(), 10, time.Hour)
	trail.Start()
	svc := NewService(trail, nil, zap.NewNop())

	svc.Log(Entry{
		UserID:   "u1",
		Category: CategoryToolCall,
		Input:    map[string]any{"name": "Ana", "cpf": "123.456.789-00"},
		Output:   map[string]any{"token": "tok_abc", "id": "c-1"},
	})
	trail.Stop()

	got := w.all()
	require.Len(t, got, 1)
	e := got[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "Ana", e.Input["name"])
	assert.Equal(t, "[REDACTED]", e.Input["cpf"])
	out := e.Output.(map[string]any)
	assert.Equal(t, "[REDACTED]", out["token"])
	assert.Equal(t, "c-1", out["id"])
}

func TestService_LogNeverPanics(t *testing.T) {
	w := &captureWriter{}
	trail := NewTrailSized(w, zap.NewNop(), 10, time.Hour)
	trail.Start()
	defer trail.Stop()
	svc := NewService(trail, nil, zap.NewNop())

	require.NotPanics(t, func() {
		svc.Log(Entry{UserID: "u1", Output: func() {}}) // несериализуемый payload
	})
}
