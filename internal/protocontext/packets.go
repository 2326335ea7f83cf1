package protocontext

//
// Inbound/outbound control-channel packet handling: tls-auth
// wrap/unwrap, key-id demultiplexing, and draining each key context's
// reliable send window out to the network (spec §4.1, §4.3).
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/keycontext"
	"github.com/vpncore/protoengine/internal/model"
)

// ControlNetRecv is the control_net_recv host entry point of spec §5:
// it unwraps the tls-auth HMAC layer (if configured), parses the
// packet, demultiplexes it to the owning key context by key-id, and
// creates the secondary key context a peer-initiated soft reset calls
// for. wire must be a control or ACK packet; callers are expected to
// have classified it cheaply by its opcode byte before routing here
// (data packets go to [ProtoContext.DataDecrypt] instead).
func (pc *ProtoContext) ControlNetRecv(wire []byte) error {
	now := pc.clock()
	pc.lastNow = now
	if pc.invalidated {
		return ErrSessionInvalidated
	}

	if pc.cc != nil {
		unwrapped, err := pc.cc.Unwrap(wire, now)
		if err != nil {
			// tls-auth failures never mutate any other protocol state
			// (spec §8's invariant); the Channel has already counted
			// the error.
			return err
		}
		wire = unwrapped
	}

	pkt, err := model.ParsePacket(wire)
	if err != nil {
		pc.countError(now, model.ErrBufferError, err.Error())
		return err
	}
	if pkt.IsData() {
		pc.countError(now, model.ErrCCError, "data packet routed through ControlNetRecv")
		return ErrUnknownKeyID
	}

	kc := pc.contextForKeyID(pkt.KeyID)
	if kc == nil {
		kc = pc.maybeAcceptRenegotiation(pkt, now)
	}
	if kc == nil {
		pc.countError(now, model.ErrCCError, "unknown key id")
		return ErrUnknownKeyID
	}

	kc.ReceiveControlPacket(pkt, now)
	pc.notePeerActivity(now)
	pc.drainKeyContext(kc, now)

	if inv, reason := kc.Invalidated(); inv {
		pc.onKeyContextInvalidated(kc, now, reason)
	}
	return nil
}

// maybeAcceptRenegotiation creates a non-initiator secondary key
// context when pkt is a reset opcode naming the next key-id this side
// is prepared to accept (spec §8 scenario 6: "Soft-reset from peer").
func (pc *ProtoContext) maybeAcceptRenegotiation(pkt *model.Packet, now time.Time) *keycontext.KeyContext {
	if pc.secondary != nil || pc.invalidated {
		return nil
	}
	switch pkt.Opcode {
	case model.P_CONTROL_SOFT_RESET_V1, model.P_CONTROL_HARD_RESET_CLIENT_V2, model.P_CONTROL_HARD_RESET_SERVER_V2:
	default:
		return nil
	}
	if pkt.KeyID != pc.upcomingKeyID {
		return nil
	}
	kc, err := pc.newKeyContext(pc.nextKeyID(), false, now)
	if err != nil {
		pc.countError(now, model.ErrCCError, err.Error())
		return nil
	}
	pc.secondary = kc
	return kc
}

// drainKeyContext flushes kc's reliable send window (and standalone
// ACKs) to the network, tls-auth-wrapping each packet first when
// configured.
func (pc *ProtoContext) drainKeyContext(kc *keycontext.KeyContext, now time.Time) {
	for _, pkt := range kc.DrainOutgoing(now) {
		pc.sendPacket(pkt, now)
	}
}

func (pc *ProtoContext) sendPacket(pkt *model.Packet, now time.Time) {
	wire, err := pkt.Bytes()
	if err != nil {
		pc.countError(now, model.ErrBufferError, err.Error())
		return
	}
	if pc.cc != nil {
		wrapped, err := pc.cc.Wrap(wire, now)
		if err != nil {
			pc.countError(now, model.ErrBufferError, err.Error())
			return
		}
		wire = wrapped
	}
	pc.sendControl(wire)
}

// notePeerActivity resets the keepalive expiry clock: any authentic
// packet, control or data, counts as liveness (spec §4.7).
func (pc *ProtoContext) notePeerActivity(now time.Time) {
	if pc.keepaliveEnabled {
		pc.keepaliveExpire = now.Add(pc.pingTimeout)
	}
}

func (pc *ProtoContext) onKeyContextInvalidated(kc *keycontext.KeyContext, now time.Time, reason *model.StatsError) {
	if kc == pc.primary {
		// Primary invalidation is fatal unless a live secondary is
		// ready to take over (spec §7): promotion is driven by the
		// primary's own KEV_BECOME_PRIMARY firing on the secondary, so
		// if we get here with no secondary at all, there is nothing
		// left to fall back on.
		if pc.secondary == nil {
			pc.disconnect(now, reason.Code, reason.Detail)
		}
		return
	}
	if kc == pc.secondary {
		pc.secondary = nil
	}
}
