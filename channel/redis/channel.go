package redis

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mediocregopher/radix/v3"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/internal/rnd"
)

// envelope wraps an opaque payload with the transport-stamped identities.
// Data stays opaque bytes, the bus does not care whether it is JSON.
type envelope struct {
	Source       string `json:"source"`
	Origin       string `json:"origin"`
	TargetOrigin string `json:"targetOrigin"`
	Data         []byte `json:"data"`
}

// Channel is one endpoint of a bus carried over a redis pub/sub topic.
// Origin targeting is enforced on the receiving side: an endpoint drops
// envelopes addressed to an origin that is not its own.
type Channel struct {
	pool   *radix.Pool
	pubsub radix.PubSubConn
	topic  string
	source string
	origin string

	mu        sync.Mutex
	lastEl    int64
	callbacks map[int64]func(channel.Message)
	msgChan   chan radix.PubSubMessage
	started   bool
	done      int32
}

// New attaches an endpoint with the given origin to the bus named bus.
func New(network, addr, bus, origin string) (*Channel, error) {
	inst := &Channel{
		topic:     "boruca:" + bus,
		source:    rnd.Source(),
		origin:    origin,
		callbacks: map[int64]func(channel.Message){},
		msgChan:   make(chan radix.PubSubMessage, 10000),
	}
	var err error
	inst.pool, err = radix.NewPool(network, addr, 8)
	if err != nil {
		return nil, fmt.Errorf("radix pool create error: %w", err)
	}
	inst.pubsub, err = radix.PersistentPubSubWithOpts(network, addr)
	if err != nil {
		inst.pool.Close()
		return nil, fmt.Errorf("radix pubsub create error: %w", err)
	}
	return inst, nil
}

func (r *Channel) Source() string { return r.source }
func (r *Channel) Origin() string { return r.origin }

func (r *Channel) Send(data []byte, targetOrigin string) error {
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
	return r.pool.Do(radix.Cmd(nil, "PUBLISH", r.topic, string(raw)))
}

func (r *Channel) Subscribe(callback func(msg channel.Message)) (channel.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		if err := r.pubsub.Subscribe(r.msgChan, r.topic); err != nil {
			return nil, err
		}
		r.started = true
		go r.readLoop()
	}
	i := r.lastEl
	r.lastEl++
	r.callbacks[i] = callback
	return func() {
		r.mu.Lock()
		delete(r.callbacks, i)
		r.mu.Unlock()
	}, nil
}

func (r *Channel) readLoop() {
	for atomic.LoadInt32(&r.done) == 0 {
		evt, ok := <-r.msgChan
		if !ok {
			return
		}
		if len(evt.Message) == 0 {
			continue
		}
		env := envelope{}
		if err := json.Unmarshal(evt.Message, &env); err != nil {
			continue
		}
		if env.Source == r.source {
			continue
		}
		if env.TargetOrigin != channel.Wildcard && env.TargetOrigin != r.origin {
			continue
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
}

func (r *Channel) Close() {
	r.mu.Lock()
	atomic.AddInt32(&r.done, 1)
	if r.started {
		_ = r.pubsub.Unsubscribe(r.msgChan, r.topic)
		close(r.msgChan)
	}
	r.mu.Unlock()
	r.pool.Close()
	r.pubsub.Close()
}
