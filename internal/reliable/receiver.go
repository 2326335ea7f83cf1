package reliable

//
// RecvWindow reorders inbound control packets by packet id and releases
// the longest contiguous prefix ready for delivery to the control channel
// above. Like SendWindow, it is plain and synchronous.
//

import (
	"github.com/vpncore/protoengine/internal/model"
)

// RecvWindow buffers out-of-order incoming control packets until they can
// be delivered in sequence.
type RecvWindow struct {
	buffered     incomingSequence
	lastConsumed model.PacketID
	haveAny      bool
}

// NewRecvWindow returns an empty RecvWindow.
func NewRecvWindow() *RecvWindow {
	return &RecvWindow{buffered: incomingSequence{}}
}

// TryInsert buffers an incoming packet, dropping it (and returning false)
// if the window is already at capacity or the packet id was already
// consumed.
func (w *RecvWindow) TryInsert(p *model.Packet) bool {
	if w.haveAny && p.ID <= w.lastConsumed {
		return false
	}
	if len(w.buffered) >= RecvBufferSize {
		return false
	}
	w.buffered = append(w.buffered, &incomingPacket{packet: p})
	return true
}

// wantNext returns the packet id this window expects to deliver next: 0
// for the very first packet of a session, lastConsumed+1 thereafter.
func (w *RecvWindow) wantNext() model.PacketID {
	if !w.haveAny {
		return 0
	}
	return w.lastConsumed + 1
}

// Ready sorts the buffered packets and returns (and removes) the longest
// prefix that continues on directly from the last delivered id, advancing
// as it goes. Packets with a lower id than expected (stale duplicates) are
// dropped rather than kept, since they can never become deliverable.
func (w *RecvWindow) Ready() []*model.Packet {
	sortIncoming(w.buffered)

	want := w.wantNext()
	ready := make([]*model.Packet, 0, RecvBufferSize)
	keepFrom := len(w.buffered)

	for i, p := range w.buffered {
		if p.packet.ID == want {
			ready = append(ready, p.packet)
			w.haveAny = true
			w.lastConsumed = want
			want++
			continue
		}
		if p.packet.ID > want {
			keepFrom = i
			break
		}
		// stale duplicate, drop by not re-keeping it.
		keepFrom = i + 1
	}
	if keepFrom >= len(w.buffered) {
		w.buffered = w.buffered[:0]
	} else {
		w.buffered = w.buffered[keepFrom:]
	}
	return ready
}

// LastConsumed returns the highest packet id delivered so far.
func (w *RecvWindow) LastConsumed() model.PacketID {
	return w.lastConsumed
}
