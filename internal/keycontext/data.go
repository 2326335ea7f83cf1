package keycontext

//
// The data-channel encrypt/decrypt bridge of spec §4.6: a thin wrapper
// over [datachannel.Crypto] that enforces the ACTIVE precondition, turns
// a crypto failure into the fault accounting and teardown rules of
// spec §7, and feeds successful traffic into the data-limit watch that
// drives KEV_RENEGOTIATE/KEV_RENEGOTIATE_QUEUE.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/model"
)

// EncryptData seals plaintext for transmission on this context's data
// channel. Returns [ErrNotActive] if the handshake hasn't completed or
// the context has since been invalidated.
func (kc *KeyContext) EncryptData(plaintext []byte, now time.Time) ([]byte, model.KeyEvent, error) {
	if kc.invalidated || kc.negState != model.ACTIVE {
		return nil, model.KevNone, ErrNotActive
	}
	wire, err := kc.crypto.EncryptData(plaintext, kc.opt)
	if err != nil {
		kc.countError(now, model.ErrBufferError, err.Error())
		return nil, model.KevNone, err
	}
	return wire, kc.NoteDataActivity(now), nil
}

// SendAppData queues a control-channel application message (anything
// beyond the auth-payload exchange itself, e.g. a push-reply) over the
// TLS bridge. Valid once the auth-payload exchange has completed on
// both sides.
func (kc *KeyContext) SendAppData(payload []byte) error {
	if kc.invalidated || !kc.haveRemoteAuth {
		return ErrNotActive
	}
	return kc.bridge.SendApp(payload)
}

// DecryptData opens an inbound data-channel packet. A decrypt or HMAC
// failure is a hard fault for TCP transports (spec §7: corrupting the
// reliable byte stream demands the session be torn down) and is merely
// counted for UDP, where a single bad packet is simply dropped.
func (kc *KeyContext) DecryptData(wire []byte, now time.Time) ([]byte, model.KeyEvent, error) {
	if kc.invalidated || kc.negState != model.ACTIVE {
		return nil, model.KevNone, ErrNotActive
	}
	plaintext, err := kc.crypto.DecryptData(wire, kc.opt)
	if err != nil {
		kc.countError(now, model.ErrDecryptError, err.Error())
		if kc.opt.Proto == model.ProtoTCP {
			kc.invalidate(now, model.ErrDecryptError, err.Error())
		}
		return nil, model.KevNone, err
	}
	return plaintext, kc.NoteDataActivity(now), nil
}
