package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/nimiq/boruca-messaging/channel"
	"github.com/nimiq/boruca-messaging/rpc"
)

// Sent is one recorded outbound message of a FakeChannel.
type Sent struct {
	Data         []byte
	TargetOrigin string
}

// FakeChannel records every Send and lets a test inject incoming messages.
// It never delivers anything on its own, which makes loss, reordering and
// origin spoofing trivial to script.
type FakeChannel struct {
	SourceID string
	OriginID string
	SendErr  error

	mu     sync.Mutex
	sent   []Sent
	subs   map[int64]func(channel.Message)
	lastEl int64
}

func NewFakeChannel(source, origin string) *FakeChannel {
	return &FakeChannel{
		SourceID: source,
		OriginID: origin,
		subs:     map[int64]func(channel.Message){},
	}
}

func (f *FakeChannel) Source() string { return f.SourceID }
func (f *FakeChannel) Origin() string { return f.OriginID }

func (f *FakeChannel) Send(data []byte, targetOrigin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, Sent{Data: data, TargetOrigin: targetOrigin})
	return nil
}

func (f *FakeChannel) Subscribe(callback func(msg channel.Message)) (channel.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.lastEl
	f.lastEl++
	f.subs[i] = callback
	return func() {
		f.mu.Lock()
		delete(f.subs, i)
		f.mu.Unlock()
	}, nil
}

// Inject delivers msg to every subscriber, synchronously.
func (f *FakeChannel) Inject(msg channel.Message) {
	f.mu.Lock()
	cbs := make([]func(channel.Message), 0, len(f.subs))
	for _, cb := range f.subs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
}

// SentAll returns a copy of every recorded outbound message.
func (f *FakeChannel) SentAll() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentCount returns how many messages have been sent so far.
func (f *FakeChannel) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// SentRequests decodes every recorded message that parses as a request.
func (f *FakeChannel) SentRequests() []*rpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpc.Request, 0, len(f.sent))
	for _, s := range f.sent {
		if req, ok := rpc.ParseRequest(s.Data); ok {
			out = append(out, req)
		}
	}
	return out
}

// SentReplies decodes every recorded message that parses as a reply.
func (f *FakeChannel) SentReplies() []*rpc.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpc.Reply, 0, len(f.sent))
	for _, s := range f.sent {
		if rep, ok := rpc.ParseReply(s.Data); ok {
			out = append(out, rep)
		}
	}
	return out
}

// WaitSent blocks until at least n messages were sent or the deadline
// passes, and reports whether the count was reached.
func (f *FakeChannel) WaitSent(t *testing.T, n int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.SentCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f.SentCount() >= n
}
