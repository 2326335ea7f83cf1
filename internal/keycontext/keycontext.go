// Package keycontext implements the per-key-id handshake and data-channel
// state machine described in spec §4.2: one KeyContext owns a single
// key-method-2 negotiation (hard/soft reset, TLS handshake, auth-payload
// exchange, data-channel key derivation) plus the data-channel crypto and
// lifecycle-event bookkeeping that follow from reaching ACTIVE.
//
// A KeyContext is single-threaded and non-blocking: every exported method
// takes the current time explicitly and runs to completion, matching the
// cooperative scheduling model of spec §5. The protocontext package owns
// the primary/secondary pair of KeyContexts and drives both from its own
// synchronous entry points.
package keycontext

import (
	"errors"
	"strings"
	"time"

	"github.com/vpncore/protoengine/internal/datachannel"
	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/optional"
	"github.com/vpncore/protoengine/internal/reliable"
	"github.com/vpncore/protoengine/internal/session"
	"github.com/vpncore/protoengine/internal/tlsbridge"
)

// Role distinguishes which side of the key-method-2 handshake a
// KeyContext plays. Re-exported from [tlsbridge] so callers need not
// import that package solely to pick a role.
type Role = tlsbridge.Role

const (
	RoleClient = tlsbridge.RoleClient
	RoleServer = tlsbridge.RoleServer
)

// ErrNotActive is returned by EncryptData/DecryptData when called before
// the KeyContext has reached ACTIVE, or after it has been invalidated.
var ErrNotActive = errors.New("keycontext: not active")

// controlFrameSize bounds how many TLS bytes get framed into a single
// outgoing CONTROL_V1 packet (spec §4.4: "sized by the frame config").
const controlFrameSize = 1200

// maxAuthBufferSize guards against unbounded growth of the cleartext
// auth-payload reassembly buffer: the real record is a few hundred bytes
// at most, so anything beyond this is treated as a protocol violation
// rather than a record still arriving in pieces.
const maxAuthBufferSize = 8192

// Config carries everything needed to construct a [KeyContext].
type Config struct {
	// Options is the parsed configuration shared read-only across key
	// contexts.
	Options *model.OpenVPNOptions

	// Role selects the client or server side of the handshake.
	Role Role

	// KeyID is this context's 3-bit key id (0 for the very first
	// negotiation of a session, cycling 1..7 thereafter).
	KeyID uint8

	// Initiator is true when this side sends the opening hard/soft
	// reset unprompted. The primary (key id 0) context is always
	// initiator on the client and never on the server; a renegotiated
	// secondary may be initiator on either side, or seeded by the
	// peer's soft-reset (initiator=false) per spec §4.2's tie-break.
	Initiator bool

	// LocalSessionID is this side's 8-byte control-channel session id.
	LocalSessionID model.SessionID

	// PeerID is the 24-bit P_DATA_V2 peer id this context's data
	// channel stamps and expects, or 0 when undefined.
	PeerID uint32

	// Logger and Stats receive diagnostic and fault records
	// respectively. Stats may be nil (treated as [model.NopStatsSink]).
	Logger model.Logger
	Stats  model.StatsSink

	// AppRecv, if non-nil, is handed every control-channel application
	// message the TLS bridge yields once the auth-payload exchange has
	// completed — e.g. a later push-reply. Before that point, incoming
	// bridge bytes are exclusively the auth-payload record itself and
	// never reach this callback.
	AppRecv func([]byte)
}

// KeyContext is one key-method-2 negotiation and, once ACTIVE, the
// data-channel crypto context that followed from it.
type KeyContext struct {
	opt    *model.OpenVPNOptions
	role   Role
	keyID  uint8

	initiator bool
	started   bool

	localSessionID  model.SessionID
	remoteSessionID optional.Value[model.SessionID]

	negState model.NegotiationState

	localMsgID model.PacketID

	sendWindow *reliable.SendWindow
	recvWindow *reliable.RecvWindow

	bridge *tlsbridge.Bridge
	dck    *session.DataChannelKey
	crypto *datachannel.Crypto

	outBuf []byte

	authIn         []byte
	authSent       bool
	haveRemoteAuth bool

	remoteUsername string
	remotePassword string
	remotePeerInfo string

	appRecv func([]byte)

	logger model.Logger
	stats  model.StatsSink

	constructTime time.Time
	reachedActive time.Time

	primary            bool
	becomePrimaryFired bool
	renegotiateFired   bool
	renegForced        bool
	renegQueued        bool

	handshakeDeadline    time.Time
	renegotiateDeadline  time.Time
	becomePrimaryDeadline time.Time
	expireDeadline       time.Time

	nextEvent    model.KeyEvent
	eventDeadline time.Time

	invalidated      bool
	invalidateReason *model.StatsError
}

// New constructs a [KeyContext] in its role's initial state
// (C_INITIAL/S_INITIAL) and schedules its handshake-completion deadline.
// Call [KeyContext.Start] next to have an initiator send its opening
// reset; a non-initiator context instead waits for [KeyContext.ReceiveControlPacket]
// to see the peer's.
func New(cfg Config, now time.Time) (*KeyContext, error) {
	bridge, err := tlsbridge.NewBridge(cfg.Options, cfg.Role)
	if err != nil {
		return nil, err
	}
	crypto, err := datachannel.NewCrypto(cfg.Options.Cipher, cfg.Options.Auth, cfg.KeyID, cfg.PeerID)
	if err != nil {
		return nil, err
	}
	stats := cfg.Stats
	if stats == nil {
		stats = model.NopStatsSink{}
	}

	negState := model.C_INITIAL
	if cfg.Role == RoleServer {
		negState = model.S_INITIAL
	}

	kc := &KeyContext{
		opt:             cfg.Options,
		role:            cfg.Role,
		keyID:           cfg.KeyID,
		initiator:       cfg.Initiator,
		localSessionID:  cfg.LocalSessionID,
		remoteSessionID: optional.None[model.SessionID](),
		negState:        negState,
		sendWindow:      reliable.NewSendWindow(),
		recvWindow:      reliable.NewRecvWindow(),
		bridge:          bridge,
		dck:             &session.DataChannelKey{},
		crypto:          crypto,
		appRecv:         cfg.AppRecv,
		logger:          cfg.Logger,
		stats:           stats,
		constructTime:   now,
	}
	kc.handshakeDeadline = now.Add(handshakeWindowDuration(kc.opt))
	kc.recomputeEvent(now)
	return kc, nil
}

// KeyID returns this context's 3-bit key id.
func (kc *KeyContext) KeyID() uint8 { return kc.keyID }

// State returns the current negotiation state.
func (kc *KeyContext) State() model.NegotiationState { return kc.negState }

// Active reports whether the handshake has completed.
func (kc *KeyContext) Active() bool { return kc.negState == model.ACTIVE }

// Invalidated reports whether this context has been torn down, and why.
func (kc *KeyContext) Invalidated() (bool, *model.StatsError) {
	return kc.invalidated, kc.invalidateReason
}

// Primary reports whether this context is the one currently driving the
// data channel's encrypt path. Set by protocontext via [KeyContext.MakePrimary].
func (kc *KeyContext) Primary() bool { return kc.primary }

// MakePrimary marks kc as primary without touching deferred-renegotiation
// bookkeeping; used when constructing the very first (key id 0) context,
// which starts primary from birth rather than being promoted into it.
func (kc *KeyContext) MakePrimary() { kc.primary = true }

// ReachedActive returns the time this context entered ACTIVE, the zero
// time if it hasn't yet.
func (kc *KeyContext) ReachedActive() time.Time { return kc.reachedActive }

// RemoteAuth returns the username/password/peer-info the peer presented
// in its auth-payload record, valid once past *_WAIT_AUTH.
func (kc *KeyContext) RemoteAuth() (username, password, peerInfo string) {
	return kc.remoteUsername, kc.remotePassword, kc.remotePeerInfo
}

func (kc *KeyContext) nextMsgID() model.PacketID {
	id := kc.localMsgID
	kc.localMsgID++
	return id
}

func (kc *KeyContext) setState(s model.NegotiationState) {
	if kc.logger != nil {
		kc.logger.Infof("[@] %s -> %s", kc.negState, s)
	}
	kc.negState = s
}

func (kc *KeyContext) countError(now time.Time, code model.ErrorCode, detail string) {
	kc.stats.Count(&model.StatsError{Code: code, At: now, KeyID: kc.keyID, Detail: detail})
}

// invalidate tears kc down: no further packets are sent or processed.
func (kc *KeyContext) invalidate(now time.Time, code model.ErrorCode, detail string) {
	if kc.invalidated {
		return
	}
	kc.invalidated = true
	kc.invalidateReason = &model.StatsError{Code: code, At: now, KeyID: kc.keyID, Detail: detail}
	kc.setState(model.S_ERROR)
	kc.countError(now, code, detail)
	if kc.bridge != nil {
		kc.bridge.Close()
	}
	kc.eventDeadline = time.Time{}
	kc.nextEvent = model.KevNone
}

// is64BitBlockCipher reports whether name is one of the legacy 64-bit
// block ciphers spec §4.6 calls out (CVE-2016-6329): their byte-limited
// keys force a renegotiation well before a 32-bit packet-id wrap would.
func is64BitBlockCipher(name string) bool {
	switch strings.ToUpper(name) {
	case "BF-CBC", "DES-CBC", "DES-EDE3-CBC", "CAST5-CBC":
		return true
	default:
		return false
	}
}
