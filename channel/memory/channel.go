package memory

import (
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nimiq/boruca-messaging/channel"
)

// Hub is an in-process message bus. Every endpoint attached to it receives
// the traffic of every other endpoint, asynchronously and in no particular
// order. It is the default transport for tests and examples.
type Hub struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewHub() *Hub {
	return &Hub{endpoints: map[string]*Endpoint{}}
}

// Endpoint attaches a new endpoint with the given origin. The source
// identity is random and unique within the hub.
func (h *Hub) Endpoint(origin string) *Endpoint {
	e := &Endpoint{
		hub:       h,
		source:    uuid.NewString(),
		origin:    origin,
		callbacks: map[int64]func(channel.Message){},
	}
	h.mu.Lock()
	h.endpoints[e.source] = e
	h.mu.Unlock()
	return e
}

// Endpoint is one attachment point of a Hub. It implements channel.Channel.
type Endpoint struct {
	hub    *Hub
	source string
	origin string

	mu        sync.Mutex
	lastEl    int64
	callbacks map[int64]func(channel.Message)
	closed    bool
}

func (e *Endpoint) Source() string { return e.source }
func (e *Endpoint) Origin() string { return e.origin }

// Send delivers data to every other endpoint whose origin matches
// targetOrigin. Each delivery runs on its own goroutine, so arrival order
// across messages is undefined.
func (e *Endpoint) Send(data []byte, targetOrigin string) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return status.Error(codes.Unavailable, "endpoint closed")
	}

	msg := channel.Message{Source: e.source, Origin: e.origin, Data: data}

	e.hub.mu.Lock()
	targets := make([]*Endpoint, 0, len(e.hub.endpoints))
	for _, other := range e.hub.endpoints {
		if other.source == e.source {
			continue
		}
		if targetOrigin != channel.Wildcard && other.origin != targetOrigin {
			continue
		}
		targets = append(targets, other)
	}
	e.hub.mu.Unlock()

	for _, other := range targets {
		go other.deliver(msg)
	}
	return nil
}

func (e *Endpoint) deliver(msg channel.Message) {
	e.mu.Lock()
	cbs := make([]func(channel.Message), 0, len(e.callbacks))
	for _, cb := range e.callbacks {
		cbs = append(cbs, cb)
	}
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
}

func (e *Endpoint) Subscribe(callback func(msg channel.Message)) (channel.CancelFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, status.Error(codes.Unavailable, "endpoint closed")
	}
	i := e.lastEl
	e.lastEl++
	e.callbacks[i] = callback
	return func() {
		e.mu.Lock()
		delete(e.callbacks, i)
		e.mu.Unlock()
	}, nil
}

// Close detaches the endpoint from the hub. Messages sent to it afterwards
// are silently lost, like on any unreliable transport.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.callbacks = map[int64]func(channel.Message){}
	e.mu.Unlock()

	e.hub.mu.Lock()
	delete(e.hub.endpoints, e.source)
	e.hub.mu.Unlock()
}
