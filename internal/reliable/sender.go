package reliable

//
// SendWindow tracks the outbound control packets a KeyContext has not yet
// seen ACKed. It is a plain, synchronous struct with no goroutines or
// channels: the keycontext package drives it directly from its own
// synchronous entry points, per the single-threaded cooperative model.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/model"
)

// SendWindow holds the outgoing packets currently in flight plus the
// remote packet ids this side still owes an ACK for.
type SendWindow struct {
	inFlight    inflightSequence
	pendingACKs []model.PacketID
}

// NewSendWindow returns an empty SendWindow.
func NewSendWindow() *SendWindow {
	return &SendWindow{
		inFlight:    make(inflightSequence, 0, SendBufferSize),
		pendingACKs: []model.PacketID{},
	}
}

// TryInsert attempts to register an outgoing packet as in-flight. It
// returns false if the window is already at capacity, signaling the
// caller to back off rather than drop silently.
func (w *SendWindow) TryInsert(p *model.Packet) bool {
	if len(w.inFlight) >= SendBufferSize {
		return false
	}
	w.inFlight = append(w.inFlight, newInFlightPacket(p))
	return true
}

// Empty reports whether there are no unacked packets in flight. The
// KeyContext state machine advances out of a *_WAIT_*_ACK state exactly
// when this becomes true.
func (w *SendWindow) Empty() bool {
	return len(w.inFlight) == 0
}

// OnACK evicts the in-flight packet matching acked, if any, and bumps the
// fast-retransmit counter of every packet with a lower id. It reports
// whether a packet was evicted.
func (w *SendWindow) OnACK(acked model.PacketID) bool {
	for i, p := range w.inFlight {
		switch {
		case acked == p.packet.ID:
			last := len(w.inFlight) - 1
			w.inFlight[i], w.inFlight[last] = w.inFlight[last], w.inFlight[i]
			w.inFlight = w.inFlight[:last]
			return true
		case acked > p.packet.ID:
			p.ackForHigherPacket()
		}
	}
	return false
}

// NotePeerPacket records that the peer sent us a packet with the given id,
// so it gets included in the ACK array of our next outgoing packet.
func (w *SendWindow) NotePeerPacket(id model.PacketID) {
	w.pendingACKs = append(w.pendingACKs, id)
}

// NextACKs drains and returns up to MaxACKsPerPacket pending ACK ids, for
// attaching to the next outgoing packet's ack array.
func (w *SendWindow) NextACKs() []model.PacketID {
	if len(w.pendingACKs) <= MaxACKsPerPacket {
		next := w.pendingACKs
		w.pendingACKs = nil
		return next
	}
	next := w.pendingACKs[:MaxACKsPerPacket]
	w.pendingACKs = w.pendingACKs[MaxACKsPerPacket:]
	return next
}

// ReadyToSend returns the in-flight packets whose retransmission deadline
// has expired (or that qualify for fast retransmit) and advances each
// one's deadline and retry counter. The caller must hand the returned
// packets to the transport.
func (w *SendWindow) ReadyToSend(now time.Time) []*model.Packet {
	sortInflight(w.inFlight)
	ready := w.inFlight.readyToSend(now)
	out := make([]*model.Packet, 0, len(ready))
	for _, p := range ready {
		p.scheduleRetransmission(now)
		p.packet.ACKs = w.NextACKs()
		out = append(out, p.packet)
	}
	return out
}

// NextDeadline returns the earliest retransmission deadline across the
// in-flight queue, used by the housekeeping tick to know when to wake up
// next. fallback is returned (relative to now) when the queue is empty.
func (w *SendWindow) NextDeadline(now time.Time, fallback time.Duration) time.Time {
	return w.inFlight.nearestDeadline(now, fallback)
}
