package model

import "time"

// ErrorCode classifies a runtime fault raised by the protocol engine,
// reported through a [StatsSink] rather than propagated as a plain error,
// since most of them are recoverable at the KeyContext or ProtoContext
// level (spec §7).
type ErrorCode int

const (
	// ErrUndefined is the zero value; no real error carries it.
	ErrUndefined = ErrorCode(iota)

	// ErrBufferError means a packet failed basic framing validation
	// (too short, malformed length).
	ErrBufferError

	// ErrHMACError means a control-channel tls-auth HMAC, or a
	// data-channel non-AEAD HMAC, failed to verify.
	ErrHMACError

	// ErrReplayError means a packet id was rejected by a replay window.
	ErrReplayError

	// ErrDecryptError means AEAD or CBC decryption failed.
	ErrDecryptError

	// ErrCCError means a control-channel semantic invariant was
	// violated (e.g. a PSID mismatch).
	ErrCCError

	// ErrKeepaliveTimeout means no packet was seen within
	// ping_restart of the last one.
	ErrKeepaliveTimeout

	// ErrHandshakeTimeout means a KeyContext did not reach ACTIVE
	// within handshake_window of its construction.
	ErrHandshakeTimeout

	// ErrPrimaryExpire means the primary KeyContext's expire deadline
	// fired with no live secondary to promote.
	ErrPrimaryExpire

	// ErrKeyLimitReneg means a 64-bit-block cipher's byte counter
	// crossed into Red and forced a renegotiation.
	ErrKeyLimitReneg

	// ErrKevExpire means a KeyContext was destroyed by its KEV_EXPIRE
	// deadline.
	ErrKevExpire
)

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	switch c {
	case ErrBufferError:
		return "BUFFER_ERROR"
	case ErrHMACError:
		return "HMAC_ERROR"
	case ErrReplayError:
		return "REPLAY_ERROR"
	case ErrDecryptError:
		return "DECRYPT_ERROR"
	case ErrCCError:
		return "CC_ERROR"
	case ErrKeepaliveTimeout:
		return "KEEPALIVE_TIMEOUT"
	case ErrHandshakeTimeout:
		return "HANDSHAKE_TIMEOUT"
	case ErrPrimaryExpire:
		return "PRIMARY_EXPIRE"
	case ErrKeyLimitReneg:
		return "N_KEY_LIMIT_RENEG"
	case ErrKevExpire:
		return "N_KEV_EXPIRE"
	default:
		return "ERR_UNDEFINED"
	}
}

// StatsError is a single fault record delivered to a [StatsSink].
type StatsError struct {
	// Code classifies the fault.
	Code ErrorCode

	// At is when the fault was observed.
	At time.Time

	// KeyID identifies which KeyContext raised it, when applicable.
	KeyID uint8

	// Detail is a short, human-readable note (e.g. the PSID mismatch
	// observed, or the cipher name for a key-limit reneg).
	Detail string
}

// Error implements the error interface so a [StatsError] can be returned
// or wrapped like any other Go error.
func (e *StatsError) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Detail
}

// StatsSink receives [StatsError] records as the engine runs. Any
// component that can raise a spec §7 error kind takes one; a nil sink is
// valid and simply discards everything.
type StatsSink interface {
	Count(e *StatsError)
}

// NopStatsSink is a [StatsSink] that discards every record; used as a
// default when the host doesn't care about observability.
type NopStatsSink struct{}

// Count implements [StatsSink].
func (NopStatsSink) Count(*StatsError) {}

// CollectingStatsSink is a [StatsSink] that keeps every record it sees,
// useful for tests and for short-lived diagnostic sessions.
type CollectingStatsSink struct {
	Errors []*StatsError
}

// Count implements [StatsSink].
func (s *CollectingStatsSink) Count(e *StatsError) {
	s.Errors = append(s.Errors, e)
}
