package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/client"
	"github.com/nimiq/boruca-messaging/internal/testlogger"
	"github.com/nimiq/boruca-messaging/server"
)

// EchoService is the service every transport is exercised against.
type EchoService struct {
	mu        sync.Mutex
	connected int
}

func (s *EchoService) OnConnect() {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
}

func (s *EchoService) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *EchoService) Ping() string {
	return "pong"
}

func (s *EchoService) Add(a, b int) (int, error) {
	return a + b, nil
}

func (s *EchoService) Echo(text string, delayMs int) (string, error) {
	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	return text, nil
}

func (s *EchoService) Fail(text string) error {
	return status.Error(codes.FailedPrecondition, text)
}

// RPC_RoundTrip_Test connects a proxy on clientCh to a dispatcher on
// serverCh and verifies handshake, value and error round trips, and that
// concurrent calls resolve by id regardless of reply order.
func RPC_RoundTrip_Test(t *testing.T, clientCh, serverCh channel.Channel) {
	iface := "boruca-conformance"
	svc := &EchoService{}
	srv, err := server.New(serverCh, iface, svc, server.WithLogger(testlogger.New(t)))
	require.NoError(t, err)
	defer srv.Close()

	ctx := context.Background()
	cli, err := client.Connect(ctx, clientCh, iface,
		client.WithTimeout(15*time.Second),
		client.WithLogger(testlogger.New(t)),
	)
	require.NoError(t, err)
	defer cli.Close()

	require.Contains(t, cli.Methods(), "Ping")
	require.Contains(t, cli.Methods(), "getRpcInterface")
	// A slow transport may let a handshake retry through before the first
	// reply arrives, so the hook fires at least once, not exactly once.
	require.GreaterOrEqual(t, svc.Connected(), 1)

	var pong string
	require.NoError(t, cli.CallInto(ctx, &pong, "Ping"))
	require.Equal(t, "pong", pong)

	var sum int
	require.NoError(t, cli.CallInto(ctx, &sum, "Add", 19, 23))
	require.Equal(t, 42, sum)

	err = cli.CallInto(ctx, nil, "Fail", "broken")
	require.Error(t, err)
	require.Equal(t, "broken", err.Error())
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())

	// Concurrent calls with inverted delays: later calls answer first, the
	// correlation table must still route every reply to its own call.
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("call-%d", i)
			var got string
			err := cli.CallInto(ctx, &got, "Echo", text, (10-i)*20)
			require.NoError(t, err)
			require.Equal(t, text, got)
		}(i)
	}
	wg.Wait()
}
