package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/internal/rnd"
)

type envelope struct {
	Source       string `json:"source"`
	Origin       string `json:"origin"`
	TargetOrigin string `json:"targetOrigin"`
	Data         []byte `json:"data"`
}

// Channel is one endpoint of a bus carried over a Kafka topic. Every
// endpoint consumes with its own group id so each of them sees the full
// bus traffic.
type Channel struct {
	client        sarama.Client
	syncProducer  sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	topic         string
	source        string
	origin        string

	mu           sync.Mutex
	lastEl       int64
	callbacks    map[int64]func(channel.Message)
	consuming    bool
	cancelGroup  context.CancelFunc
	topicCreated bool
}

// New attaches an endpoint with the given origin to the bus named bus.
func New(config *sarama.Config, brokers []string, bus, origin string) (*Channel, error) {
	source := rnd.Source()
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	cg, err := sarama.NewConsumerGroupFromClient("boruca-"+source, client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, err
	}
	return &Channel{
		client:        client,
		syncProducer:  producer,
		consumerGroup: cg,
		topic:         "boruca." + bus,
		source:        source,
		origin:        origin,
		callbacks:     map[int64]func(channel.Message){},
	}, nil
}

func (r *Channel) Source() string { return r.source }
func (r *Channel) Origin() string { return r.origin }

func (r *Channel) ensureTopic() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topicCreated {
		return nil
	}
	admin, err := sarama.NewClusterAdminFromClient(r.client)
	if err != nil {
		return err
	}
	topics, err := admin.ListTopics()
	if err != nil {
		return err
	}
	if _, ok := topics[r.topic]; !ok {
		detail := &sarama.TopicDetail{
			NumPartitions:     1,
			ReplicationFactor: 1,
			ConfigEntries:     map[string]*string{},
		}
		if err := admin.CreateTopic(r.topic, detail, false); err != nil {
			return err
		}
	}
	r.topicCreated = true
	return nil
}

func (r *Channel) Send(data []byte, targetOrigin string) error {
	if err := r.ensureTopic(); err != nil {
		return fmt.Errorf("ensure topic: %w", err)
	}
	env := envelope{
		Source:       r.source,
		Origin:       r.origin,
		TargetOrigin: targetOrigin,
		Data:         data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, _, err = r.syncProducer.SendMessage(&sarama.ProducerMessage{
		Topic: r.topic,
		Value: sarama.ByteEncoder(raw),
	})
	return err
}

func (r *Channel) Subscribe(callback func(msg channel.Message)) (channel.CancelFunc, error) {
	if err := r.ensureTopic(); err != nil {
		return nil, fmt.Errorf("ensure topic: %w", err)
	}
	r.mu.Lock()
	i := r.lastEl
	r.lastEl++
	r.callbacks[i] = callback
	startConsumer := !r.consuming
	if startConsumer {
		r.consuming = true
	}
	r.mu.Unlock()

	if startConsumer {
		ctx, cancel := context.WithCancel(context.Background())
		r.mu.Lock()
		r.cancelGroup = cancel
		r.mu.Unlock()
		c := consumer{ch: r, ready: make(chan bool)}
		go func() {
			for {
				// Consume must be called in a loop: a server-side rebalance
				// ends the session and a new one has to be created.
				if err := r.consumerGroup.Consume(ctx, []string{r.topic}, &c); err != nil {
					return
				}
				if ctx.Err() != nil {
					return
				}
				c.ready = make(chan bool)
			}
		}()
		<-c.ready
	}

	return func() {
		r.mu.Lock()
		delete(r.callbacks, i)
		r.mu.Unlock()
	}, nil
}

func (r *Channel) dispatch(raw []byte) {
	env := envelope{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Source == r.source {
		return
	}
	if env.TargetOrigin != channel.Wildcard && env.TargetOrigin != r.origin {
		return
	}
	msg := channel.Message{Source: env.Source, Origin: env.Origin, Data: env.Data}
	r.mu.Lock()
	cbs := make([]func(channel.Message), 0, len(r.callbacks))
	for _, cb := range r.callbacks {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()
	for _, cb := range cbs {
		go cb(msg)
	}
}

func (r *Channel) Close() {
	r.mu.Lock()
	cancel := r.cancelGroup
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.consumerGroup.Close()
	r.syncProducer.Close()
	r.client.Close()
}

// consumer adapts the sarama consumer-group callbacks to the bus.
type consumer struct {
	ch    *Channel
	ready chan bool
}

func (c *consumer) Setup(sarama.ConsumerGroupSession) error {
	close(c.ready)
	return nil
}

func (c *consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.ch.dispatch(message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}
