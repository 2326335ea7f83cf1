// Package tlsbridge adapts the blocking net.Conn shape uTLS expects to
// the synchronous, suspension-point-free entry points the protocol
// core calls (spec §5). A [Bridge] runs exactly one background
// goroutine per KeyContext — the unavoidable cost of driving a
// blocking TLS handshake — and exposes only non-blocking methods to
// its caller: FeedIncoming/DrainOutgoing for the control-channel
// ciphertext, SendApp/RecvApp for the cleartext auth-payload messages
// above it. No method on [Bridge] itself blocks.
package tlsbridge

import (
	"bytes"
	"net"
	"sync"
	"time"
)

// bio is a net.Conn with no real socket behind it: Read drains an
// inbound byte queue, Write appends to an outbound one. It is the
// synchronous-friendly replacement for the teacher's channel-backed
// tlsBio (internal/tlssession/tlsbio.go, internal/tlsstate/tlsbio.go):
// those forced every Read/Write through a channel select, which is
// fine for a dedicated goroutine but wrong for code that must never
// suspend. Here only the net.Conn side (used exclusively by the
// handshake goroutine inside a [Bridge]) blocks; FeedIncoming and
// DrainOutgoing never do.
type bio struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
}

func newBio() *bio {
	b := &bio{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// FeedIncoming appends data to the queue the net.Conn side reads from.
// Never blocks.
func (b *bio) FeedIncoming(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	b.in.Write(data)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// DrainOutgoing removes and returns everything the net.Conn side has
// written so far, or nil if nothing is pending. Never blocks.
func (b *bio) DrainOutgoing() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out.Len() == 0 {
		return nil
	}
	data := make([]byte, b.out.Len())
	copy(data, b.out.Bytes())
	b.out.Reset()
	return data
}

// Read implements net.Conn; it blocks until data is available or the
// bio is closed. Only the handshake/record goroutine calls this.
func (b *bio) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.in.Len() == 0 {
		if b.closed {
			return 0, net.ErrClosed
		}
		b.cond.Wait()
	}
	return b.in.Read(p)
}

// Write implements net.Conn.
func (b *bio) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, net.ErrClosed
	}
	n, err := b.out.Write(p)
	b.cond.Broadcast()
	return n, err
}

func (b *bio) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.cond.Broadcast()
	}
	return nil
}

func (b *bio) LocalAddr() net.Addr              { return bioAddr{} }
func (b *bio) RemoteAddr() net.Addr             { return bioAddr{} }
func (b *bio) SetDeadline(time.Time) error      { return nil }
func (b *bio) SetReadDeadline(time.Time) error  { return nil }
func (b *bio) SetWriteDeadline(time.Time) error { return nil }

type bioAddr struct{}

func (bioAddr) Network() string { return "tlsbridge" }
func (bioAddr) String() string  { return "tlsbridge" }

var _ net.Conn = &bio{}
