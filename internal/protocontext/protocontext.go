// Package protocontext implements the session-level coordinator of spec
// §4.1/§4.7/§5: it owns the primary/secondary [keycontext.KeyContext]
// pair, the tls-auth HMAC layer, and the keepalive/liveness timers, and
// demultiplexes every inbound packet to the key context its key-id
// names. A ProtoContext is single-threaded and non-blocking, matching
// the cooperative scheduling model a real driver (internal/hostloop)
// pumps it from.
//
// No direct teacher file matches this shape: the responsibilities here
// are split in the teacher across a goroutine/channel packetmuxer, a
// reliabletransport service, and a session manager. ProtoContext
// collapses all three into one synchronous struct, since spec §5 rules
// out an internally-threaded engine.
package protocontext

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vpncore/protoengine/internal/bytesx"
	"github.com/vpncore/protoengine/internal/controlchannel"
	"github.com/vpncore/protoengine/internal/keycontext"
	"github.com/vpncore/protoengine/internal/model"
)

// ErrUnknownKeyID indicates an inbound packet named a key-id that is
// neither the primary's nor the secondary's, and isn't a reset naming
// the next key-id either.
var ErrUnknownKeyID = errors.New("protocontext: unknown key id")

// ErrSessionInvalidated indicates a call arrived after disconnect.
var ErrSessionInvalidated = errors.New("protocontext: session invalidated")

// Config carries everything needed to construct a [ProtoContext].
type Config struct {
	Options *model.OpenVPNOptions
	Role    keycontext.Role

	// ControlChannel wraps/unwraps the tls-auth HMAC layer. Nil when
	// tls-auth is not configured.
	ControlChannel *controlchannel.Channel

	// PeerID is the 24-bit P_DATA_V2 peer-id this side stamps/expects,
	// 0 when undefined (spec §6's `peer-id N` directive).
	PeerID uint32

	Logger model.Logger
	Stats  model.StatsSink

	// SendControl is invoked with a fully framed wire packet to hand to
	// the network: control-channel packets drained from a key context's
	// reliable send window (tls-auth-wrapped first, if ControlChannel is
	// set), and the data-channel keepalive/explicit-exit-notify packets
	// ProtoContext emits on its own initiative from Housekeeping. A
	// plaintext handed to [ProtoContext.DataEncrypt] directly returns
	// its wire bytes to the caller instead, since that call is already
	// host-initiated. Required.
	SendControl func([]byte)

	// AppRecv, if non-nil, receives every control-channel application
	// message delivered after the auth-payload exchange completes
	// (spec §6's "deliver an assembled app-level control message").
	AppRecv func([]byte)

	// DataLimitNotify, if non-nil, is called whenever a key context's
	// data-channel byte/packet-id limit state changes (spec §6's
	// "notify on data-limit state changes").
	DataLimitNotify func(model.KeyEvent)

	// Clock is the current-time source spec §5 calls "a single pointer
	// updated by the host": ControlNetRecv/DataEncrypt/DataDecrypt take
	// no explicit timestamp of their own and borrow it from here on
	// every call instead. Defaults to [time.Now]. Housekeeping is the
	// exception — the host passes its tick time there directly, since
	// that call exists precisely to drive time forward.
	Clock func() time.Time

	// Tracer collects handshake events and carries the debug
	// correlation id this ProtoContext's own log lines are tagged
	// with. Defaults to [model.DummyTracer].
	Tracer model.HandshakeTracer
}

// ProtoContext is the synchronous session coordinator described in the
// package doc comment.
type ProtoContext struct {
	opt    *model.OpenVPNOptions
	role   keycontext.Role
	cc     *controlchannel.Channel
	peerID uint32

	logger model.Logger
	stats  model.StatsSink

	sendControl     func([]byte)
	appRecv         func([]byte)
	dataLimitNotify func(model.KeyEvent)
	clock           func() time.Time
	tracer          model.HandshakeTracer

	localSessionID model.SessionID

	primary   *keycontext.KeyContext
	secondary *keycontext.KeyContext

	upcomingKeyID uint8

	// lastNow mirrors spec §5's "current-time source is a single
	// pointer updated by the host": every entry point stamps it, so
	// NextHousekeeping needs no argument of its own.
	lastNow time.Time

	keepaliveEnabled bool
	pingInterval     time.Duration
	pingTimeout      time.Duration
	keepaliveXmit    time.Time
	keepaliveExpire  time.Time
	exitNotifySent   bool

	invalidated      bool
	invalidateReason *model.StatsError
}

// New constructs a ProtoContext and its primary [keycontext.KeyContext]
// (key-id 0), initiator on the client, awaiting the peer's hard reset on
// the server, per spec §4.2.
func New(cfg Config, now time.Time) (*ProtoContext, error) {
	if cfg.SendControl == nil {
		return nil, errors.New("protocontext: SendControl callback is required")
	}
	stats := cfg.Stats
	if stats == nil {
		stats = model.NopStatsSink{}
	}

	localSID, err := newSessionID()
	if err != nil {
		return nil, err
	}

	pc := &ProtoContext{
		opt:             cfg.Options,
		role:            cfg.Role,
		cc:              cfg.ControlChannel,
		peerID:          cfg.PeerID,
		logger:          cfg.Logger,
		stats:           stats,
		sendControl:     cfg.SendControl,
		appRecv:         cfg.AppRecv,
		dataLimitNotify: cfg.DataLimitNotify,
		localSessionID:  localSID,
		upcomingKeyID:   1,
		lastNow:         now,
		clock:           cfg.Clock,
		tracer:          cfg.Tracer,
	}
	if pc.clock == nil {
		pc.clock = time.Now
	}
	if pc.tracer == nil {
		pc.tracer = &model.DummyTracer{}
	}
	pc.keepaliveEnabled = cfg.Options.PingSeconds > 0 && cfg.Options.PingRestartSeconds > 0
	if pc.keepaliveEnabled {
		pc.pingInterval = time.Duration(cfg.Options.PingSeconds) * time.Second
		timeoutSeconds := cfg.Options.PingRestartSeconds
		if cfg.Role == keycontext.RoleServer {
			timeoutSeconds *= 2
		}
		pc.pingTimeout = time.Duration(timeoutSeconds) * time.Second
		pc.keepaliveExpire = now.Add(pc.pingTimeout)
	}

	primary, err := pc.newKeyContext(0, cfg.Role == keycontext.RoleClient, now)
	if err != nil {
		return nil, err
	}
	primary.MakePrimary()
	pc.primary = primary
	return pc, nil
}

func (pc *ProtoContext) newKeyContext(keyID uint8, initiator bool, now time.Time) (*keycontext.KeyContext, error) {
	kc, err := keycontext.New(keycontext.Config{
		Options:        pc.opt,
		Role:           pc.role,
		KeyID:          keyID,
		Initiator:      initiator,
		LocalSessionID: pc.localSessionID,
		PeerID:         pc.peerID,
		Logger:         pc.logger,
		Stats:          pc.stats,
		AppRecv:        pc.appRecv,
	}, now)
	if err != nil {
		return nil, err
	}
	kc.Start(now)
	return kc, nil
}

// nextKeyID consumes and advances upcoming_key_id, cycling 1..7 and
// never re-issuing 0 (spec §8's key-id sequence invariant).
func (pc *ProtoContext) nextKeyID() uint8 {
	id := pc.upcomingKeyID
	pc.upcomingKeyID++
	if pc.upcomingKeyID > 7 {
		pc.upcomingKeyID = 1
	}
	return id
}

func (pc *ProtoContext) countError(now time.Time, code model.ErrorCode, detail string) {
	pc.stats.Count(&model.StatsError{Code: code, At: now, Detail: detail})
}

// Invalidated reports whether the session has been disconnected, and
// why.
func (pc *ProtoContext) Invalidated() (bool, *model.StatsError) {
	return pc.invalidated, pc.invalidateReason
}

// TraceID returns this instance's debug/trace correlation id, letting
// a deployment match this ProtoContext's log lines up with the
// detailed event trace its [model.HandshakeTracer] collects.
func (pc *ProtoContext) TraceID() uuid.UUID {
	return pc.tracer.TraceID()
}

// disconnect invalidates both key contexts immediately; no further
// packet emission is permitted (spec §5's cancellation rule).
func (pc *ProtoContext) disconnect(now time.Time, code model.ErrorCode, detail string) {
	if pc.invalidated {
		return
	}
	pc.invalidated = true
	pc.invalidateReason = &model.StatsError{Code: code, At: now, Detail: detail}
	pc.countError(now, code, detail)
	if pc.logger != nil {
		pc.logger.Warnf("protocontext[%s]: disconnect: %s", pc.tracer.TraceID(), pc.invalidateReason.Error())
	}
}

func newSessionID() (model.SessionID, error) {
	var sid model.SessionID
	b, err := bytesx.GenRandomBytes(len(sid))
	if err != nil {
		return sid, fmt.Errorf("protocontext: generating session id: %w", err)
	}
	copy(sid[:], b)
	return sid, nil
}

// contextForKeyID returns the key context owning keyID, if any.
func (pc *ProtoContext) contextForKeyID(keyID byte) *keycontext.KeyContext {
	if pc.primary != nil && pc.primary.KeyID() == keyID {
		return pc.primary
	}
	if pc.secondary != nil && pc.secondary.KeyID() == keyID {
		return pc.secondary
	}
	return nil
}

// handleKeyEvent forwards a non-KevNone event from a key context to
// the host's data-limit callback, and creates/promotes key contexts in
// response per spec §4.6.
func (pc *ProtoContext) handleKeyEvent(now time.Time, ev model.KeyEvent) {
	if ev == model.KevNone {
		return
	}
	if pc.dataLimitNotify != nil {
		pc.dataLimitNotify(ev)
	}
	switch ev {
	case model.KevRenegotiate, model.KevRenegotiateForce:
		pc.startRenegotiation(now)
	}
}

// startRenegotiation creates the secondary key context that a primary's
// KEV_RENEGOTIATE/KEV_RENEGOTIATE_FORCE event calls for, unless one is
// already underway.
func (pc *ProtoContext) startRenegotiation(now time.Time) {
	if pc.secondary != nil || pc.invalidated {
		return
	}
	kc, err := pc.newKeyContext(pc.nextKeyID(), true, now)
	if err != nil {
		pc.countError(now, model.ErrCCError, err.Error())
		return
	}
	pc.secondary = kc
}
