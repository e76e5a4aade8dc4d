package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/interfaces/logger"
	"github.com/nimiq/boruca-messaging/rpc"
)

const (
	defaultTimeout = 30 * time.Second
	retryInterval  = time.Second
	initialDelay   = 100 * time.Millisecond
)

type Option func(*options)

type options struct {
	origin  string
	source  string
	timeout time.Duration
	log     logger.Logger
}

// WithTargetOrigin pins the origin the server must reply from. Replies from
// any other origin are silently discarded, handshake and calls alike.
// Default is the wildcard.
func WithTargetOrigin(origin string) Option {
	return func(o *options) { o.origin = origin }
}

// WithTargetSource pins the peer identity up front. Without it the first
// endpoint that acknowledges the handshake becomes the peer.
func WithTargetSource(source string) Option {
	return func(o *options) { o.source = source }
}

// WithTimeout bounds the handshake, not individual calls. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Connect drives the polling handshake: it asks for the server's interface
// after a short initial delay, then once a second, until the server
// acknowledges or the timeout expires. On success the returned Client
// exposes exactly the methods the server advertised. Send failures during
// retries are logged and retrying continues; they surface only as an
// eventual ErrConnectionTimeout.
func Connect(ctx context.Context, ch channel.Channel, interfaceName string, opts ...Option) (*Client, error) {
	o := options{origin: channel.Wildcard, timeout: defaultTimeout, log: &logger.DefaultLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	type handshake struct {
		source    string
		whitelist []string
	}
	won := make(chan handshake, 1)

	cancelSub, err := ch.Subscribe(func(msg channel.Message) {
		if o.source != "" && msg.Source != o.source {
			return
		}
		rep, ok := rpc.ParseReply(msg.Data)
		if !ok || rep.Status != rpc.StatusOK {
			return
		}
		if rep.InterfaceName != interfaceName {
			return
		}
		if o.origin != channel.Wildcard && msg.Origin != o.origin {
			return
		}
		whitelist, err := rep.Whitelist()
		if err != nil {
			o.log.Error(err, "malformed handshake reply", interfaceName, rpc.HandshakeCommand)
			return
		}
		select {
		case won <- handshake{source: msg.Source, whitelist: whitelist}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	defer cancelSub()

	req, err := rpc.NewRequest(interfaceName, rpc.HandshakeCommand, rpc.HandshakeID)
	if err != nil {
		return nil, err
	}
	data, err := rpc.Encode(req)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		delay := time.NewTimer(initialDelay)
		defer delay.Stop()
		select {
		case <-delay.C:
		case <-stop:
			return
		}
		ticker := time.NewTicker(retryInterval)
		defer ticker.Stop()
		for {
			// Unlike regular calls the handshake targets the configured
			// origin directly: there is no point probing endpoints whose
			// replies the origin pin would discard anyway.
			if err := ch.Send(data, o.origin); err != nil {
				o.log.Error(err, "handshake send", interfaceName, rpc.HandshakeCommand)
			}
			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}
	}()

	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()
	select {
	case hs := <-won:
		return newClient(ch, interfaceName, hs.source, o.origin, hs.whitelist, o.log)
	case <-deadline.C:
		return nil, ErrConnectionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
