// Package channel defines the message transport the RPC engine runs over.
// Implementations are asynchronous and fire-and-forget: Send gives no
// delivery or ordering guarantee, and a message may never arrive.
package channel

// Wildcard matches any origin when used as a send target or as an expected
// reply origin.
const Wildcard = "*"

// Message is one datagram handed to a subscriber. Source identifies the
// sending endpoint, Origin the context it sent from. Both are stamped by
// the transport, not by the sender's payload.
type Message struct {
	Source string
	Origin string
	Data   []byte
}

type CancelFunc func()

// Channel is one endpoint of a shared duplex transport.
type Channel interface {
	// Send transmits data to every other endpoint whose origin matches
	// targetOrigin (Wildcard for all). Fire and forget.
	Send(data []byte, targetOrigin string) error

	// Subscribe registers a callback for incoming messages. The callback
	// may be invoked concurrently from transport goroutines. The returned
	// CancelFunc releases the subscription.
	Subscribe(callback func(msg Message)) (CancelFunc, error)

	// Source returns the identity other endpoints see as Message.Source.
	Source() string

	// Origin returns the origin stamped on this endpoint's messages.
	Origin() string
}
