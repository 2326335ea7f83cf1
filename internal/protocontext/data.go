package protocontext

//
// The data_encrypt/data_decrypt host entry points of spec §5, plus the
// keepalive/liveness bookkeeping of spec §4.7 that rides on them.
//

import (
	"errors"
	"time"

	"github.com/vpncore/protoengine/internal/datachannel"
	"github.com/vpncore/protoengine/internal/model"
)

// ErrNoPrimary indicates an encrypt/decrypt call arrived before any
// primary key context had reached ACTIVE.
var ErrNoPrimary = errors.New("protocontext: no active primary key context")

// DataEncrypt is the data_encrypt host entry point: it always uses the
// primary key context (spec §8's invariant: "at most one KeyContext is
// primary; data-channel encrypt always uses that primary").
func (pc *ProtoContext) DataEncrypt(plaintext []byte) ([]byte, error) {
	now := pc.clock()
	pc.lastNow = now
	if pc.invalidated {
		return nil, ErrSessionInvalidated
	}
	if pc.primary == nil {
		return nil, ErrNoPrimary
	}
	wire, ev, err := pc.primary.EncryptData(plaintext, now)
	if err != nil {
		return nil, err
	}
	pc.handleKeyEvent(now, ev)
	return wire, nil
}

// DataDecrypt is the data_decrypt host entry point: raw, a full
// P_DATA_V2 wire packet including its 4-byte op32 header. The key-id
// that header carries picks the owning key context, the same
// [model.ParsePacket] split ControlNetRecv uses for control packets.
func (pc *ProtoContext) DataDecrypt(raw []byte) ([]byte, error) {
	now := pc.clock()
	pc.lastNow = now
	if pc.invalidated {
		return nil, ErrSessionInvalidated
	}
	pkt, err := model.ParsePacket(raw)
	if err != nil {
		pc.countError(now, model.ErrBufferError, err.Error())
		return nil, err
	}
	kc := pc.contextForKeyID(pkt.KeyID)
	if kc == nil {
		pc.countError(now, model.ErrCCError, "data packet for unknown key id")
		return nil, ErrUnknownKeyID
	}
	plaintext, ev, err := kc.DecryptData(pkt.Payload, now)
	if err != nil {
		if inv, reason := kc.Invalidated(); inv {
			pc.onKeyContextInvalidated(kc, now, reason)
		}
		return nil, err
	}
	pc.handleKeyEvent(now, ev)
	pc.notePeerActivity(now)

	if datachannel.IsExplicitExitNotifyMessage(plaintext) {
		pc.disconnect(now, model.ErrKeepaliveTimeout, "peer sent explicit-exit-notify")
		return nil, nil
	}
	if datachannel.IsKeepaliveMessage(plaintext) {
		return nil, nil
	}
	return plaintext, nil
}

// SendKeepaliveIfDue sends the fixed keepalive ping over the primary's
// data channel when keepalive_xmit has passed, and reschedules it for
// now + keepalive_ping (spec §4.7). Called by the housekeeping tick.
func (pc *ProtoContext) sendKeepaliveIfDue(now time.Time) {
	if !pc.keepaliveEnabled || pc.invalidated || pc.primary == nil || !pc.primary.Active() {
		return
	}
	if pc.keepaliveXmit.IsZero() {
		pc.keepaliveXmit = now.Add(pc.pingInterval)
		return
	}
	if now.Before(pc.keepaliveXmit) {
		return
	}
	if wire, err := pc.DataEncrypt(datachannel.KeepaliveMessage()); err == nil {
		pc.sendControl(wire)
	}
	pc.keepaliveXmit = now.Add(pc.pingInterval)
}

// ExplicitExitNotify sends the explicit-exit-notify magic over the data
// channel, at most once, for a graceful UDP client shutdown (spec
// §4.7). A no-op on TCP or once already sent.
func (pc *ProtoContext) ExplicitExitNotify() error {
	if pc.exitNotifySent || pc.opt.Proto != model.ProtoUDP {
		return nil
	}
	wire, err := pc.DataEncrypt(datachannel.ExplicitExitNotifyMessage())
	if err != nil {
		return err
	}
	pc.sendControl(wire)
	pc.exitNotifySent = true
	return nil
}
