// Package replay implements the packet-id replay windows used to guard
// both the data channel and, when tls-auth is enabled, the control
// channel's authenticated header. Two policies are provided: a sliding
// bitmap for datagram transports, where packets may legitimately arrive
// out of order, and a strict-linear policy for stream transports, where
// the underlying transport already guarantees ordering and any deviation
// is itself a protocol violation.
package replay

import "github.com/vpncore/protoengine/internal/model"

// Window decides whether a received packet id is fresh (never seen, not
// too old to judge) or must be rejected as a replay.
type Window interface {
	// Accept reports whether id is fresh and records it as seen. A false
	// return means the caller must discard the packet and count a replay
	// error without mutating any other state (spec's non-mutation
	// invariant for rejected packets).
	Accept(id model.PacketID) bool
}

// bitmapSize is the width, in bits, of the sliding replay window. 128
// packets of slack comfortably covers UDP reordering in practice while
// keeping the backing array tiny.
const bitmapSize = 128

// SlidingWindow implements the UDP replay policy: a bitmap of the most
// recently accepted packet ids, sliding forward as higher ids arrive.
// Packets far enough behind the high watermark to have fallen off the
// bitmap are rejected unconditionally. seen[i] tracks the packet id
// (highest - i); seen[0] is always the high watermark itself.
type SlidingWindow struct {
	initialized bool
	highest     model.PacketID
	seen        [bitmapSize]bool
}

// NewSlidingWindow returns an empty sliding-bitmap replay window.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Accept implements [Window].
func (w *SlidingWindow) Accept(id model.PacketID) bool {
	if !w.initialized {
		w.initialized = true
		w.highest = id
		w.seen[0] = true
		return true
	}

	switch {
	case id > w.highest:
		w.slideTo(id)
		w.highest = id
		w.seen[0] = true
		return true

	case id == w.highest:
		return false

	default:
		diff := int(w.highest - id)
		if diff >= bitmapSize {
			return false
		}
		if w.seen[diff] {
			return false
		}
		w.seen[diff] = true
		return true
	}
}

// slideTo shifts the bitmap forward so that offset 0 again refers to the
// about-to-be-accepted id, discarding entries that fall off the back.
func (w *SlidingWindow) slideTo(id model.PacketID) {
	by := int(id - w.highest)
	if by >= bitmapSize {
		w.seen = [bitmapSize]bool{}
		return
	}
	copy(w.seen[by:], w.seen[:bitmapSize-by])
	for i := 0; i < by; i++ {
		w.seen[i] = false
	}
}

// StrictLinearWindow implements the TCP replay policy: only the exact
// next expected packet id is accepted. Since TCP already guarantees
// in-order, exactly-once delivery at the transport level, anything else
// signals a protocol-level error rather than ordinary network reordering.
type StrictLinearWindow struct {
	initialized bool
	next        model.PacketID
}

// NewStrictLinearWindow returns an empty strict-linear replay window.
func NewStrictLinearWindow() *StrictLinearWindow {
	return &StrictLinearWindow{}
}

// Accept implements [Window].
func (w *StrictLinearWindow) Accept(id model.PacketID) bool {
	if !w.initialized {
		w.initialized = true
		w.next = id + 1
		return true
	}
	if id != w.next {
		return false
	}
	w.next++
	return true
}
