package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nimiq/boruca-messaging/registry"
)

type surface struct{}

func (s *surface) Ping() string              { return "pong" }
func (s *surface) Add(a, b int) (int, error) { return a + b, nil }
func (s *surface) Touch()                    {}
func (s *surface) Drop(name string) error    { return nil }
func (s *surface) WithCtx(ctx context.Context, n int) (int, error) {
	return n, ctx.Err()
}

// Excluded: reserved names, variadic, too many results.
func (s *surface) OnConnect()              {}
func (s *surface) Close()                  {}
func (s *surface) String() string          { return "surface" }
func (s *surface) Sum(ns ...int) int       { return 0 }
func (s *surface) Pair() (int, int, error) { return 0, 0, nil }
func (s *surface) Wrong() (int, string)    { return 0, "" }

func TestCallableMethods(t *testing.T) {
	names := registry.CallableMethods(&surface{})
	require.Equal(t, []string{"Add", "Drop", "Ping", "Touch", "WithCtx"}, names)
}

type embedded struct{}

func (e embedded) Inherited() string { return "inherited" }

type composed struct {
	sync.Mutex
	embedded
}

func (c *composed) Ping() string { return "pong" }

func TestCallableMethodsExcludePromoted(t *testing.T) {
	names := registry.CallableMethods(&composed{})
	require.Equal(t, []string{"Ping"}, names)
	require.NotContains(t, names, "Lock")
	require.NotContains(t, names, "Unlock")
	require.NotContains(t, names, "Inherited")
}

func args(t *testing.T, vals ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestInvokeResultShapes(t *testing.T) {
	ctx := context.Background()
	svc := &surface{}

	res, err := registry.Invoke(ctx, svc, "Ping", nil)
	require.NoError(t, err)
	require.Equal(t, "pong", res)

	res, err = registry.Invoke(ctx, svc, "Add", args(t, 19, 23))
	require.NoError(t, err)
	require.Equal(t, 42, res)

	res, err = registry.Invoke(ctx, svc, "Touch", nil)
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = registry.Invoke(ctx, svc, "Drop", args(t, "x"))
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = registry.Invoke(ctx, svc, "WithCtx", args(t, 7))
	require.NoError(t, err)
	require.Equal(t, 7, res)
}

func TestInvokeErrors(t *testing.T) {
	ctx := context.Background()
	svc := &surface{}

	_, err := registry.Invoke(ctx, svc, "Missing", nil)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unimplemented, st.Code())

	_, err = registry.Invoke(ctx, svc, "Add", args(t, 1))
	st, ok = status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.InvalidArgument, st.Code())

	_, err = registry.Invoke(ctx, svc, "Add", []json.RawMessage{[]byte(`1`), []byte(`"two"`)})
	st, ok = status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.InvalidArgument, st.Code())
}

type failing struct{}

func (f *failing) Blow(msg string) (string, error) {
	return "", fmt.Errorf("exploded: %s", msg)
}

func TestInvokePropagatesMethodError(t *testing.T) {
	_, err := registry.Invoke(context.Background(), &failing{}, "Blow", args(t, "now"))
	require.EqualError(t, err, "exploded: now")
}
