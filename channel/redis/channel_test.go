package redis_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	"github.com/nimiq/boruca-messaging/channel"
	channel_redis "github.com/nimiq/boruca-messaging/channel/redis"
	tests "github.com/nimiq/boruca-messaging/internal/test"
)

/*
  Docker is required to run these tests.

  The daemon address is taken from the DOCKER_HOST environment variable.
*/

type TestContext struct {
	redisAddr string

	dockerPool *dockertest.Pool
	dbRes      *dockertest.Resource
}

func getAddr(dockerEndpoint, port string) string {
	dockerEndpoint = strings.Replace(dockerEndpoint, "tcp://", "", 1)

	host := strings.Split(dockerEndpoint, ":")[0]

	if strings.Contains(dockerEndpoint, "unix:") || strings.Contains(dockerEndpoint, "http://localhost:") {
		host = "0.0.0.0"
	}

	return fmt.Sprintf("%s:%s", host, port)
}

func (tc *TestContext) SetUp(t testing.TB) {
	t.Log("SetUp")

	if p, e := dockertest.NewPool(""); e != nil {
		t.Fatalf("Could not connect to docker: %s", e)
	} else {
		tc.dockerPool = p
	}

	if r, e := tc.dockerPool.Run("redis", "6.0.8-alpine3.12", nil); e != nil {
		t.Fatalf("Could not start resource: %s", e)
	} else {
		tc.dbRes = r
	}

	// backoff-retry, the container might not accept connections yet
	tc.redisAddr = getAddr(tc.dockerPool.Client.Endpoint(), tc.dbRes.GetPort("6379/tcp"))
	if err := tc.dockerPool.Retry(func() error {
		conn, err := radix.Dial("tcp", tc.redisAddr)
		if err != nil {
			return err
		}
		defer conn.Close()
		return conn.Do(radix.Cmd(nil, "PING"))
	}); err != nil {
		t.Fatalf("Could not connect to docker: %s", err)
	}
}

func (tc *TestContext) TearDown(t testing.TB) {
	t.Log("TearDown")
	if err := tc.dockerPool.Purge(tc.dbRes); err != nil {
		t.Fatalf("Could not purge resource: %s", err)
	}
}

func TestRPCOverRedis(t *testing.T) {
	tc := TestContext{}
	tc.SetUp(t)
	defer tc.TearDown(t)

	clientCh, err := channel_redis.New("tcp", tc.redisAddr, "conformance", "https://app.example")
	require.NoError(t, err)
	defer clientCh.Close()
	serverCh, err := channel_redis.New("tcp", tc.redisAddr, "conformance", "https://accounts.example")
	require.NoError(t, err)
	defer serverCh.Close()

	tests.RPC_RoundTrip_Test(t, clientCh, serverCh)
}

func TestOriginTargetingOverRedis(t *testing.T) {
	tc := TestContext{}
	tc.SetUp(t)
	defer tc.TearDown(t)

	a, err := channel_redis.New("tcp", tc.redisAddr, "targeting", "https://a")
	require.NoError(t, err)
	defer a.Close()
	b, err := channel_redis.New("tcp", tc.redisAddr, "targeting", "https://b")
	require.NoError(t, err)
	defer b.Close()

	got := make(chan channel.Message, 10)
	_, err = b.Subscribe(func(msg channel.Message) { got <- msg })
	require.NoError(t, err)

	// Mismatched target origin first: must never arrive.
	require.NoError(t, a.Send([]byte("stray"), "https://nowhere"))
	require.NoError(t, a.Send([]byte("hi"), "https://b"))

	select {
	case msg := <-got:
		require.Equal(t, a.Source(), msg.Source)
		require.Equal(t, "https://a", msg.Origin)
		require.Equal(t, "hi", string(msg.Data))
	case <-time.After(10 * time.Second):
		t.Fatal("delivery timed out")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected delivery: %s", msg.Data)
	case <-time.After(200 * time.Millisecond):
	}
}
