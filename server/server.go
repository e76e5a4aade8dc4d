// Package server dispatches incoming RPC commands to a wrapped service
// value and answers every request with a status reply.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"google.golang.org/grpc/codes"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/interfaces/logger"
	"github.com/nimiq/boruca-messaging/registry"
	"github.com/nimiq/boruca-messaging/rpc"
)

// ConnectHook is implemented by services that want to be told when a new
// client performs the handshake.
type ConnectHook interface {
	OnConnect()
}

type Option func(*options)

type options struct {
	whitelist []string
	access    bool
	log       logger.Logger
}

// WithWhitelist configures the remote surface explicitly instead of
// introspecting the service.
func WithWhitelist(names ...string) Option {
	return func(o *options) { o.whitelist = names }
}

// WithAccessControl makes the dispatcher prepend the caller's identity to
// the arguments of every call except the handshake.
func WithAccessControl() Option {
	return func(o *options) { o.access = true }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Dispatcher wraps a service object to expose a subset of its behavior on
// a channel. One dispatcher serves one interface name for the lifetime of
// the process.
type Dispatcher struct {
	ch        channel.Channel
	iface     string
	svc       interface{}
	whitelist []string
	allowed   map[string]struct{}
	access    bool
	log       logger.Logger
	cancel    channel.CancelFunc
}

// New wires svc to ch under interfaceName and starts answering requests.
// Without WithWhitelist the surface is introspected via the registry. The
// handshake command is always reachable, whichever way the whitelist was
// built.
func New(ch channel.Channel, interfaceName string, svc interface{}, opts ...Option) (*Dispatcher, error) {
	if svc == nil {
		return nil, fmt.Errorf("service must be set")
	}
	o := options{log: &logger.DefaultLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	whitelist := o.whitelist
	if whitelist == nil {
		whitelist = registry.CallableMethods(svc)
	}
	found := false
	for _, name := range whitelist {
		if name == rpc.HandshakeCommand {
			found = true
			break
		}
	}
	if !found {
		whitelist = append(whitelist, rpc.HandshakeCommand)
	}

	d := &Dispatcher{
		ch:        ch,
		iface:     interfaceName,
		svc:       svc,
		whitelist: whitelist,
		allowed:   make(map[string]struct{}, len(whitelist)),
		access:    o.access,
		log:       o.log,
	}
	for _, name := range whitelist {
		d.allowed[name] = struct{}{}
	}

	cancel, err := ch.Subscribe(d.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	d.cancel = cancel
	return d, nil
}

// Whitelist returns the ordered remote surface, handshake included.
func (d *Dispatcher) Whitelist() []string {
	out := make([]string, len(d.whitelist))
	copy(out, d.whitelist)
	return out
}

// Close releases the channel subscription.
func (d *Dispatcher) Close() {
	d.cancel()
}

func (d *Dispatcher) receive(msg channel.Message) {
	req, ok := rpc.ParseRequest(msg.Data)
	if !ok {
		// Replies and unrelated traffic on a shared channel.
		return
	}
	if req.InterfaceName != d.iface {
		return
	}
	if _, ok := d.allowed[req.Command]; !ok {
		d.log.Debug("unknown command", d.iface, req.Command)
		d.reply(msg, rpc.NewErrorReply(d.iface, req.ID, &rpc.ErrorPayload{
			Message: fmt.Sprintf("unknown command %q", req.Command),
			Code:    codes.Unimplemented,
		}))
		return
	}

	result, err := d.execute(msg, req)
	if err != nil {
		d.reply(msg, rpc.NewErrorReply(d.iface, req.ID, rpc.PayloadFromError(err)))
		return
	}
	rep, err := rpc.NewOKReply(d.iface, req.ID, result)
	if err != nil {
		d.reply(msg, rpc.NewErrorReply(d.iface, req.ID, rpc.PayloadFromError(err)))
		return
	}
	d.reply(msg, rep)
}

func (d *Dispatcher) execute(msg channel.Message, req *rpc.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &rpc.RemoteError{Payload: rpc.ErrorPayload{
				Message: fmt.Sprintf("%s panicked: %v", req.Command, r),
				Stack:   string(debug.Stack()),
				Code:    codes.Internal,
			}}
		}
	}()

	if req.Command == rpc.HandshakeCommand {
		if hook, ok := d.svc.(ConnectHook); ok {
			hook.OnConnect()
		}
		return d.whitelist, nil
	}

	args := req.Args
	if d.access {
		identity, merr := json.Marshal(rpc.CallerIdentity{
			CallingSource: msg.Source,
			CallingOrigin: msg.Origin,
		})
		if merr != nil {
			return nil, merr
		}
		args = append([]json.RawMessage{identity}, args...)
	}
	return registry.Invoke(context.Background(), d.svc, req.Command, args)
}

// reply addresses the response back to the originating origin. Send
// failures are logged, there is nobody else to surface them to.
func (d *Dispatcher) reply(msg channel.Message, rep *rpc.Reply) {
	data, err := rpc.Encode(rep)
	if err != nil {
		d.log.Error(err, "encode reply", d.iface, "")
		return
	}
	if err := d.ch.Send(data, msg.Origin); err != nil {
		d.log.Error(err, "send reply", d.iface, "")
	}
}
