package nats

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/internal/rnd"
)

type envelope struct {
	Source       string `json:"source"`
	Origin       string `json:"origin"`
	TargetOrigin string `json:"targetOrigin"`
	Data         []byte `json:"data"`
}

// Channel is one endpoint of a bus carried over a single NATS subject.
type Channel struct {
	connection *nats.Conn
	subject    string
	source     string
	origin     string
}

// New connects to the NATS server at addr and attaches an endpoint with
// the given origin to the bus named bus.
func New(addr, bus, origin string) (*Channel, error) {
	conn, err := nats.Connect(addr)
	if err != nil {
		return nil, err
	}
	return &Channel{
		connection: conn,
		subject:    "boruca." + bus,
		source:     rnd.Source(),
		origin:     origin,
	}, nil
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
	return r.connection.Publish(r.subject, raw)
}

func (r *Channel) Subscribe(callback func(msg channel.Message)) (channel.CancelFunc, error) {
	s, err := r.connection.Subscribe(r.subject, func(msg *nats.Msg) {
		env := envelope{}
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		if env.Source == r.source {
			return
		}
		if env.TargetOrigin != channel.Wildcard && env.TargetOrigin != r.origin {
			return
		}
		callback(channel.Message{Source: env.Source, Origin: env.Origin, Data: env.Data})
	})
	if err != nil {
		return nil, err
	}
	r.connection.Flush()
	return func() {
		_ = s.Unsubscribe()
	}, nil
}

func (r *Channel) Close() {
	r.connection.Close()
}
