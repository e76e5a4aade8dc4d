// Package client implements the calling side of the protocol: the polling
// handshake that discovers a server's method whitelist, and the proxy that
// correlates concurrent in-flight calls with their replies by id.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/interfaces/logger"
	"github.com/nimiq/boruca-messaging/internal/rnd"
	"github.com/nimiq/boruca-messaging/rpc"
)

var (
	// ErrConnectionTimeout means the handshake went unacknowledged within
	// the connect deadline.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrClosed rejects calls still pending when the proxy is closed, and
	// new calls issued afterwards.
	ErrClosed = errors.New("client closed")
	// ErrUnknownCommand means the command is not part of the whitelist the
	// server advertised during the handshake.
	ErrUnknownCommand = errors.New("unknown command")
)

type outcome struct {
	result json.RawMessage
	err    error
}

// Client is the proxy built once the handshake succeeded. It owns the
// pending-call table; replies are routed to outstanding calls solely by id,
// independent of arrival order.
type Client struct {
	ch      channel.Channel
	iface   string
	target  string
	origin  string
	ordered []string
	allowed map[string]struct{}
	log     logger.Logger

	mu      sync.Mutex
	pending map[uint64]chan outcome
	cancel  channel.CancelFunc
	closed  bool
}

func newClient(ch channel.Channel, iface, target, origin string, whitelist []string, log logger.Logger) (*Client, error) {
	c := &Client{
		ch:      ch,
		iface:   iface,
		target:  target,
		origin:  origin,
		ordered: whitelist,
		allowed: make(map[string]struct{}, len(whitelist)),
		log:     log,
		pending: map[uint64]chan outcome{},
	}
	for _, name := range whitelist {
		c.allowed[name] = struct{}{}
	}
	cancel, err := ch.Subscribe(c.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	c.cancel = cancel
	return c, nil
}

// Methods returns the whitelist the server advertised, in order.
func (c *Client) Methods() []string {
	out := make([]string, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Call invokes a whitelisted command and blocks until its correlated reply
// arrives. No timeout is applied: a call may stay pending indefinitely,
// some commands legitimately await user interaction on the remote side.
// Cancelling ctx stops waiting; the request itself cannot be revoked.
func (c *Client) Call(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error) {
	if _, ok := c.allowed[command]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	req, err := rpc.NewRequest(c.iface, command, 0, args...)
	if err != nil {
		return nil, err
	}

	wait := make(chan outcome, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id := rnd.NextID()
	for {
		if _, taken := c.pending[id]; !taken {
			break
		}
		id = rnd.NextID()
	}
	req.ID = id
	c.pending[id] = wait
	c.mu.Unlock()

	data, err := rpc.Encode(req)
	if err != nil {
		c.drop(id)
		return nil, err
	}
	// Outbound target origin is always the wildcard; the configured origin
	// restricts replies, not requests.
	if err := c.ch.Send(data, channel.Wildcard); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("send %q: %w", command, err)
	}

	select {
	case out := <-wait:
		return out.result, out.err
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}
}

// CallInto invokes command and decodes the result into result, which must
// be a pointer. A nil result discards the value.
func (c *Client) CallInto(ctx context.Context, result interface{}, command string, args ...interface{}) error {
	raw, err := c.Call(ctx, command, args...)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %q result: %w", command, err)
	}
	return nil
}

// Stub is a call bound to one whitelisted command.
type Stub func(ctx context.Context, args ...interface{}) (json.RawMessage, error)

// Stub returns the bound call for command, or an error when the server
// never advertised it.
func (c *Client) Stub(command string) (Stub, error) {
	if _, ok := c.allowed[command]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return func(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
		return c.Call(ctx, command, args...)
	}, nil
}

// Close releases the channel subscription and rejects every still-pending
// call with ErrClosed. Closing twice is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	drained := c.pending
	c.pending = map[uint64]chan outcome{}
	c.mu.Unlock()

	cancel()
	for _, wait := range drained {
		wait <- outcome{err: ErrClosed}
	}
}

func (c *Client) drop(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// receive routes a reply to the pending call whose id matches. Non-matching
// traffic is ignored with no side effect; a matching id that is no longer
// outstanding is logged and dropped.
func (c *Client) receive(msg channel.Message) {
	if msg.Source != c.target {
		return
	}
	rep, ok := rpc.ParseReply(msg.Data)
	if !ok {
		return
	}
	if rep.InterfaceName != c.iface {
		return
	}
	if c.origin != channel.Wildcard && msg.Origin != c.origin {
		return
	}

	c.mu.Lock()
	wait, ok := c.pending[rep.ID]
	if ok {
		delete(c.pending, rep.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug(fmt.Sprintf("unknown reply id %d", rep.ID), c.iface, "")
		return
	}

	if rep.Status == rpc.StatusOK {
		wait <- outcome{result: rep.Result}
		return
	}
	wait <- outcome{err: rep.RemoteError()}
}
