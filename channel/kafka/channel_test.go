package kafka_test

import (
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	"github.com/nimiq/boruca-messaging/channel"
	channel_kafka "github.com/nimiq/boruca-messaging/channel/kafka"
	tests "github.com/nimiq/boruca-messaging/internal/test"
)

/*
  Docker is required to run these tests.

  The daemon address is taken from the DOCKER_HOST environment variable.
*/

const kafkaContainerName = "boruca-docker-test-kafka"

func config() *sarama.Config {
	config := sarama.NewConfig()
	config.Admin.Retry.Max = 10
	config.Admin.Retry.Backoff = 10 * time.Second
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewRandomPartitioner
	config.Producer.Return.Successes = true
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	return config
}

func removeAndRestart(config *docker.HostConfig) {
	// Stopped containers go away by themselves.
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{
		Name: "no",
	}
}

func initKafka(t testing.TB) (broker string) {
	t.Log("SetUp")

	dockerPool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("Could not connect to docker: %s", err)
	}
	if resource, ok := dockerPool.ContainerByName(kafkaContainerName); ok {
		resource.Close()
	}

	kafkaResource, err := dockerPool.RunWithOptions(&dockertest.RunOptions{
		Name:       kafkaContainerName,
		Repository: "johnnypark/kafka-zookeeper",
		Tag:        "2.6.0",
		Hostname:   "kafka",
		Env: []string{
			"ADVERTISED_HOST=127.0.0.1",
			"NUM_PARTITIONS=1",
		},
		PortBindings: map[docker.Port][]docker.PortBinding{
			"9092/tcp": {{HostIP: "localhost", HostPort: "9092/tcp"}},
		},
	}, removeAndRestart)
	if err != nil {
		t.Fatalf("Could not start kafka: %s", err)
	}
	t.Cleanup(func() {
		if err := dockerPool.Purge(kafkaResource); err != nil {
			t.Logf("Could not purge resource: %s", err)
		}
	})

	// backoff-retry, the broker might not accept connections yet
	addr := kafkaResource.GetHostPort("9092/tcp")
	if err := dockerPool.Retry(func() error {
		cl, err := sarama.NewClient([]string{addr}, config())
		if err != nil {
			return err
		}
		return cl.Close()
	}); err != nil {
		t.Fatalf("Could not connect to kafka: %s", err)
	}
	return addr
}

func TestRPCOverKafka(t *testing.T) {
	broker := initKafka(t)

	clientCh, err := channel_kafka.New(config(), []string{broker}, "conformance", "https://app.example")
	require.NoError(t, err)
	defer clientCh.Close()
	serverCh, err := channel_kafka.New(config(), []string{broker}, "conformance", "https://accounts.example")
	require.NoError(t, err)
	defer serverCh.Close()

	tests.RPC_RoundTrip_Test(t, clientCh, serverCh)
}

func TestOriginTargetingOverKafka(t *testing.T) {
	broker := initKafka(t)

	a, err := channel_kafka.New(config(), []string{broker}, "targeting", "https://a")
	require.NoError(t, err)
	defer a.Close()
	b, err := channel_kafka.New(config(), []string{broker}, "targeting", "https://b")
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
	case <-time.After(30 * time.Second):
		t.Fatal("delivery timed out")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected delivery: %s", msg.Data)
	case <-time.After(500 * time.Millisecond):
	}
}
