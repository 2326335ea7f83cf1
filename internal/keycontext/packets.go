package keycontext

//
// Packet construction, the reliable receive-window dispatch of spec
// §4.3, and draining everything this context has queued for the network.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/optional"
)

// newControlPacket builds an outgoing reset/CONTROL_V1 packet stamped
// with the next message id. ACKs are attached lazily by the send
// window's ReadyToSend, not here.
func (kc *KeyContext) newControlPacket(opcode model.Opcode, payload []byte) *model.Packet {
	pkt := model.NewPacket(opcode, kc.keyID, payload)
	pkt.LocalSessionID = kc.localSessionID
	pkt.RemoteSessionID = kc.remoteSessionID.UnwrapOr(model.SessionID{})
	pkt.ID = kc.nextMsgID()
	return pkt
}

// newACKPacket builds a standalone P_ACK_V1 packet: per spec §4.3 these
// carry only the session ids and an ACK list, no message id and no
// payload, so unlike reset/CONTROL_V1 packets they never go through the
// reliable send window's retransmission tracking.
func (kc *KeyContext) newACKPacket(acks []model.PacketID) *model.Packet {
	pkt := model.NewPacket(model.P_ACK_V1, kc.keyID, nil)
	pkt.LocalSessionID = kc.localSessionID
	pkt.RemoteSessionID = kc.remoteSessionID.UnwrapOr(model.SessionID{})
	pkt.ACKs = acks
	return pkt
}

// ReceiveControlPacket processes one inbound control or ACK packet for
// this key id: learns or checks the peer's session id, applies any ACKs
// it carries to our send window, and — for anything but a bare ACK —
// buffers it in the receive window and delivers whatever becomes ready
// in order, per spec §4.3's receive algorithm.
func (kc *KeyContext) ReceiveControlPacket(pkt *model.Packet, now time.Time) {
	if kc.invalidated {
		return
	}

	if kc.remoteSessionID.IsNone() {
		kc.remoteSessionID = optional.Some(pkt.LocalSessionID)
	} else if pkt.LocalSessionID != kc.remoteSessionID.Unwrap() {
		kc.countError(now, model.ErrCCError, "control-channel session id mismatch")
		return
	}

	for _, id := range pkt.ACKs {
		kc.sendWindow.OnACK(id)
	}

	if pkt.Opcode == model.P_ACK_V1 {
		kc.advance(now)
		return
	}

	// A duplicate below the receive window's low watermark still owes
	// an ACK (the peer may be retransmitting because ours was lost);
	// a packet dropped purely because the window is at capacity does
	// not, matching spec §4.3's "above window: drop silently" rule.
	belowWatermark := pkt.ID <= kc.recvWindow.LastConsumed()
	inserted := kc.recvWindow.TryInsert(pkt)
	if inserted || belowWatermark {
		kc.sendWindow.NotePeerPacket(pkt.ID)
	}

	for _, ready := range kc.recvWindow.Ready() {
		switch ready.Opcode {
		case model.P_CONTROL_HARD_RESET_CLIENT_V1, model.P_CONTROL_HARD_RESET_SERVER_V1,
			model.P_CONTROL_HARD_RESET_CLIENT_V2, model.P_CONTROL_HARD_RESET_SERVER_V2,
			model.P_CONTROL_SOFT_RESET_V1:
			kc.handleReset(now)
		case model.P_CONTROL_V1:
			if kc.bridge != nil {
				kc.bridge.FeedIncoming(ready.Payload)
			}
		}
	}

	kc.advance(now)
}

// DrainOutgoing returns every packet this context has queued for
// transmission: packets due for (re)transmission on the reliable send
// window, plus a standalone ACK packet if one or more inbound packets
// are still owed an acknowledgement that no outgoing control packet has
// piggybacked yet.
func (kc *KeyContext) DrainOutgoing(now time.Time) []*model.Packet {
	kc.advance(now)

	out := kc.sendWindow.ReadyToSend(now)
	if acks := kc.sendWindow.NextACKs(); len(acks) > 0 {
		out = append(out, kc.newACKPacket(acks))
	}
	return out
}
