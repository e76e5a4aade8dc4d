package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/channel/memory"
	tests "github.com/nimiq/boruca-messaging/internal/test"
)

func TestOriginTargeting(t *testing.T) {
	hub := memory.NewHub()
	a := hub.Endpoint("https://a")
	b := hub.Endpoint("https://b")
	c := hub.Endpoint("https://b")

	got := make(chan channel.Message, 10)
	for _, e := range []*memory.Endpoint{b, c} {
		_, err := e.Subscribe(func(msg channel.Message) { got <- msg })
		require.NoError(t, err)
	}
	selfGot := make(chan channel.Message, 10)
	_, err := a.Subscribe(func(msg channel.Message) { selfGot <- msg })
	require.NoError(t, err)

	require.NoError(t, a.Send([]byte("hi"), "https://b"))

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			require.Equal(t, a.Source(), msg.Source)
			require.Equal(t, "https://a", msg.Origin)
			require.Equal(t, "hi", string(msg.Data))
		case <-time.After(time.Second):
			t.Fatal("delivery to matching origins timed out")
		}
	}

	// Sender must not hear its own message, mismatched origins nothing.
	require.NoError(t, a.Send([]byte("stray"), "https://nowhere"))
	select {
	case <-selfGot:
		t.Fatal("sender received its own message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := memory.NewHub()
	a := hub.Endpoint("https://a")
	b := hub.Endpoint("https://b")

	got := make(chan channel.Message, 10)
	cancel, err := b.Subscribe(func(msg channel.Message) { got <- msg })
	require.NoError(t, err)
	cancel()

	require.NoError(t, a.Send([]byte("hi"), channel.Wildcard))
	select {
	case <-got:
		t.Fatal("cancelled subscription still delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRPCOverMemoryHub(t *testing.T) {
	hub := memory.NewHub()
	tests.RPC_RoundTrip_Test(t, hub.Endpoint("https://app.example"), hub.Endpoint("https://accounts.example"))
}
