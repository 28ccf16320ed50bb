package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{Disconnected, EventDial, Connecting, true},
		{Connecting, EventConnected, Connected, true},
		{Connecting, EventFailure, Backoff, true},
		{Connected, EventFailure, Backoff, true},
		{Backoff, EventRetry, Connecting, true},
		{Connected, EventUnsubscribe, Disconnected, true},
		{Backoff, EventUnsubscribe, Disconnected, true},
		{Connecting, EventUnsubscribe, Disconnected, true},
		{Disconnected, EventConnected, Disconnected, false},
		{Backoff, EventConnected, Backoff, false},
		{Connected, EventDial, Connected, false},
		{Disconnected, EventFailure, Disconnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			got, ok := Transition(tt.from, tt.ev)
			require.Equal(t, tt.to, got)
			require.Equal(t, tt.ok, ok)
		})
	}
}

func TestBackoffSequence(t *testing.T) {
	t.Parallel()
	b := newBackoff(DefaultRetryFloor, DefaultRetryCeiling)
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	require.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	require.Equal(t, 2*time.Second, b.Next())
	require.Equal(t, 4*time.Second, b.Current())
}

func TestBackoffNormalizesBounds(t *testing.T) {
	t.Parallel()
	b := newBackoff(0, time.Millisecond)
	require.Equal(t, DefaultRetryFloor, b.Next())
	require.Equal(t, DefaultRetryFloor, b.Next())
}
