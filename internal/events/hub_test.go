package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
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

func TestHubDeliversBatchesOnClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	now := time.Now().UTC()
	hub.Emit(Event{Kind: KindRunStarted, TS: now, RunID: "run-1"})
	hub.Emit(Event{Kind: KindTaskDone, TS: now, RunID: "run-1", SourceID: "src-1"})

	require.NoError(t, hub.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, KindRunStarted, got[0].Kind)
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Kind: KindRunStarted}) // missing timestamp
	hub.Emit(Event{Kind: Kind("bogus"), TS: time.Now()})
	hub.Emit(Event{Kind: KindFeedback, TS: time.Now(), Feedback: news.FeedbackKind("meh"), Article: news.Article{ID: "a"}})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.snapshot())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(Event{Kind: KindRunStarted, TS: time.Now(), RunID: "run-1"})
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"run started ok", Event{Kind: KindRunStarted, TS: now, RunID: "r"}, false},
		{"task missing source", Event{Kind: KindTaskDone, TS: now, RunID: "r"}, true},
		{"digest missing user", Event{Kind: KindDigestSent, TS: now}, true},
		{"click ok", Event{Kind: KindClick, TS: now, Article: news.Article{ID: "a"}}, false},
		{"feedback ok", Event{Kind: KindFeedback, TS: now, Feedback: news.FeedbackPositive, Article: news.Article{ID: "a"}}, false},
		{"negative duration", Event{Kind: KindRunDone, TS: now, RunID: "r", Dur: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
