package keycontext

//
// The handshake state machine of spec §4.2: reset exchange, TLS bridge
// startup, the auth-payload exchange carried over the bridge's cleartext
// channel, and the transition into ACTIVE once both sides' randomness is
// in hand.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/session"
)

// waitResetAckState returns the role-appropriate *_WAIT_RESET_ACK state.
func waitResetAckState(role Role) model.NegotiationState {
	if role == RoleServer {
		return model.S_WAIT_RESET_ACK
	}
	return model.C_WAIT_RESET_ACK
}

// waitResetState returns the role-appropriate *_WAIT_RESET state.
func waitResetState(role Role) model.NegotiationState {
	if role == RoleServer {
		return model.S_WAIT_RESET
	}
	return model.C_WAIT_RESET
}

// waitAuthState returns the role-appropriate *_WAIT_AUTH state.
func waitAuthState(role Role) model.NegotiationState {
	if role == RoleServer {
		return model.S_WAIT_AUTH
	}
	return model.C_WAIT_AUTH
}

// Start kicks off an initiator context: sends the opening hard-reset (or
// soft-reset, for a renegotiated key id) and moves into *_WAIT_RESET. A
// non-initiator context (one seeded by the peer's soft-reset request)
// does nothing here; its first transition happens inside
// [KeyContext.ReceiveControlPacket] instead.
func (kc *KeyContext) Start(now time.Time) {
	if kc.started {
		return
	}
	kc.started = true
	if !kc.initiator {
		return
	}
	kc.sendReset(now)
	kc.setState(waitResetState(kc.role))
}

// sendReset enqueues this context's opening reset packet: a hard reset
// for the initial key id 0, a soft reset for a renegotiated key id.
func (kc *KeyContext) sendReset(now time.Time) {
	opcode := model.P_CONTROL_HARD_RESET_CLIENT_V2
	if kc.role == RoleServer {
		opcode = model.P_CONTROL_HARD_RESET_SERVER_V2
	}
	if kc.keyID != 0 {
		opcode = model.P_CONTROL_SOFT_RESET_V1
	}
	pkt := kc.newControlPacket(opcode, nil)
	kc.sendWindow.TryInsert(pkt)
}

// handleReset processes a reset packet from the peer once the reliable
// receive window has delivered it in order (spec §4.2's *_INITIAL and
// *_WAIT_RESET transitions).
func (kc *KeyContext) handleReset(now time.Time) {
	switch kc.negState {
	case model.C_INITIAL, model.S_INITIAL:
		// Seeded by the peer's reset: this is our first chance to send
		// our own, whether we're a fresh non-initiator secondary or we
		// simply haven't called Start yet.
		kc.sendReset(now)
		kc.setState(waitResetAckState(kc.role))
	case model.C_WAIT_RESET, model.S_WAIT_RESET:
		kc.setState(waitResetAckState(kc.role))
	default:
		// A duplicate reset once past the reset phase; already ACKed by
		// the caller via the receive window, nothing further to do.
	}
}

// advance drives every state transition that depends on something other
// than a freshly-received packet: TLS bytes the bridge's handshake
// goroutine produced since the last call, handshake completion, the
// auth-payload exchange, and the reliable send window draining. Called
// at the end of every ReceiveControlPacket and at the top of every
// DrainOutgoing, since the bridge's goroutine makes progress
// independently of both.
func (kc *KeyContext) advance(now time.Time) {
	if kc.invalidated {
		return
	}
	kc.pumpBridgeOutgoing(now)
	kc.pumpHandshakeAndAuth(now)
	kc.pumpBridgeOutgoing(now)
	kc.pumpWaitAckStates(now)
}

// pumpBridgeOutgoing frames any TLS bytes the bridge has queued for
// transmission into CONTROL_V1 packets and tries to enqueue them on the
// reliable send window, retaining whatever doesn't fit for next time
// rather than dropping it.
func (kc *KeyContext) pumpBridgeOutgoing(now time.Time) {
	if kc.bridge == nil {
		return
	}
	kc.outBuf = append(kc.outBuf, kc.bridge.DrainOutgoing()...)
	for len(kc.outBuf) > 0 {
		n := len(kc.outBuf)
		if n > controlFrameSize {
			n = controlFrameSize
		}
		pkt := kc.newControlPacket(model.P_CONTROL_V1, kc.outBuf[:n])
		if !kc.sendWindow.TryInsert(pkt) {
			break
		}
		kc.outBuf = kc.outBuf[n:]
	}
}

// pumpHandshakeAndAuth advances the auth-payload exchange once the TLS
// handshake has completed: the client sends its record as soon as its
// own handshake finishes, the server waits for the client's record and
// replies to it, and whichever side is still missing the peer's record
// keeps trying to parse whatever cleartext bytes have arrived.
func (kc *KeyContext) pumpHandshakeAndAuth(now time.Time) {
	if kc.bridge == nil || !kc.bridge.HandshakeDone() {
		return
	}
	if err := kc.bridge.HandshakeErr(); err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}

	data, err := kc.bridge.RecvApp()
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	if len(data) > 0 {
		if kc.haveRemoteAuth {
			// The auth-payload exchange is done; anything the bridge
			// yields from here on is a later control-channel
			// application message (spec §6's "deliver an assembled
			// app-level control message" host callback), not more of
			// the auth record.
			if kc.appRecv != nil {
				kc.appRecv(data)
			}
		} else {
			kc.authIn = append(kc.authIn, data...)
			if len(kc.authIn) > maxAuthBufferSize {
				kc.invalidate(now, model.ErrCCError, "auth-payload record too large")
				return
			}
		}
	}

	if kc.role == RoleClient && kc.negState == waitAuthState(kc.role) && !kc.authSent {
		kc.sendAuthRequest(now)
	}
	if kc.role == RoleServer && kc.negState == waitAuthState(kc.role) && !kc.haveRemoteAuth {
		kc.tryParseAuthRequest(now)
	}
	if kc.role == RoleClient && kc.authSent && !kc.haveRemoteAuth {
		kc.tryParseAuthReply(now)
	}
}

func (kc *KeyContext) sendAuthRequest(now time.Time) {
	local, err := session.NewKeySource()
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	payload, err := session.EncodeAuthRequest(local, kc.opt)
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	if err := kc.bridge.SendApp(payload); err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	kc.dck.AddLocalKey(local)
	kc.authSent = true
}

func (kc *KeyContext) tryParseAuthReply(now time.Time) {
	ks, _, err := session.ParseAuthReply(kc.authIn)
	if err != nil {
		return // the record hasn't fully arrived yet
	}
	if err := kc.dck.AddRemoteKey(ks); err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	kc.authIn = nil
	kc.haveRemoteAuth = true
	kc.setState(model.C_WAIT_AUTH_ACK)
}

func (kc *KeyContext) tryParseAuthRequest(now time.Time) {
	ks, _, username, password, peerInfo, err := session.ParseAuthRequest(kc.authIn)
	if err != nil {
		return // the record hasn't fully arrived yet
	}
	if err := kc.dck.AddRemoteKey(ks); err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	kc.authIn = nil
	kc.haveRemoteAuth = true
	kc.remoteUsername, kc.remotePassword, kc.remotePeerInfo = username, password, peerInfo

	local, err := session.NewKeySource()
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	reply, err := session.EncodeAuthReply(local, kc.opt)
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	if err := kc.bridge.SendApp(reply); err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	kc.dck.AddLocalKey(local)
	kc.setState(model.S_WAIT_AUTH_ACK)
}

// pumpWaitAckStates advances out of a *_WAIT_*_ACK state once the
// reliable send window has drained, per spec §4.2.
func (kc *KeyContext) pumpWaitAckStates(now time.Time) {
	switch kc.negState {
	case model.C_WAIT_RESET_ACK:
		if kc.sendWindow.Empty() {
			kc.bridge.Start()
			kc.setState(model.C_WAIT_AUTH)
		}
	case model.S_WAIT_RESET_ACK:
		if kc.sendWindow.Empty() {
			kc.bridge.Start()
			kc.setState(model.S_WAIT_AUTH)
		}
	case model.C_WAIT_AUTH_ACK:
		if kc.sendWindow.Empty() && kc.haveRemoteAuth {
			kc.enterActive(now)
		}
	case model.S_WAIT_AUTH_ACK:
		if kc.sendWindow.Empty() {
			kc.enterActive(now)
		}
	}
}

// enterActive derives data-channel key material and moves to ACTIVE,
// per spec §4.2's final transition.
func (kc *KeyContext) enterActive(now time.Time) {
	dir := session.DirectionNormal
	if kc.role == RoleServer {
		dir = session.DirectionInverse
	}
	remoteSID := kc.remoteSessionID.UnwrapOr(model.SessionID{})
	km, err := session.Expand(kc.dck, kc.localSessionID, remoteSID, dir)
	if err != nil {
		kc.invalidate(now, model.ErrCCError, err.Error())
		return
	}
	kc.crypto.SetKeys(km)
	kc.reachedActive = now
	kc.expireDeadline = kc.constructTime.Add(expireDuration(kc.opt, kc.role))
	if kc.primary {
		kc.renegotiateDeadline = kc.constructTime.Add(renegotiateDuration(kc.opt, kc.role))
	} else {
		blockCipher64 := is64BitBlockCipher(kc.opt.Cipher)
		kc.becomePrimaryDeadline = now.Add(becomePrimaryDuration(kc.opt, blockCipher64))
	}
	kc.setState(model.ACTIVE)
	kc.recomputeEvent(now)
}
