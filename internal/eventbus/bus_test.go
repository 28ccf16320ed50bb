package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilteredDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(Filter{}, 4)
	defer unsubAll()
	u1, unsubU1 := b.Subscribe(Filter{User: "u1", Types: []string{"notification."}}, 4)
	defer unsubU1()

	b.Publish(Event{Type: "notification.attention", User: "u1"})
	b.Publish(Event{Type: "notification.attention", User: "u2"})
	b.Publish(Event{Type: "config.reloaded"})

	require.Len(t, all, 3)
	require.Len(t, u1, 1)
	e := <-u1
	require.Equal(t, "u1", e.User)
	require.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(Filter{}, 1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	require.Equal(t, uint64(4), b.Dropped())
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(Filter{}, 1)
	unsub()
	unsub()
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, b.Subscribers())
	b.Publish(Event{Type: "after"})
}
