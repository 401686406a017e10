package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestHubDeliversAndCloses(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{TS: time.Now(), Stage: StageRunStart, Source: "signbank"})
	hub.Emit(Event{TS: time.Now(), Stage: StageEntryImport, Source: "signbank", EntryID: "abc", Count: 1})
	hub.Emit(Event{TS: time.Now(), Stage: StageBuildDone, Dur: time.Second})

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.snapshot(), 3)
	require.True(t, sink.closed)

	// emits after close are ignored, and Close is idempotent
	hub.Emit(Event{TS: time.Now(), Stage: StageBuildSkip})
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.snapshot(), 3)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{TS: time.Now(), Stage: "BOGUS"})
	hub.Emit(Event{Stage: StageBuildSkip}) // zero timestamp
	hub.Emit(Event{TS: time.Now(), Stage: StageRunStart}) // missing source

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ok := Event{TS: time.Now(), Stage: StageEntryImport, Source: "s", EntryID: "e"}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.EntryID = ""
	require.Error(t, bad.Validate())

	neg := ok
	neg.Dur = -time.Second
	require.Error(t, neg.Validate())
}
