package keycontext

//
// The KEV_* lifecycle event/deadline register of spec §4.2. Rather than
// the teacher's imperative set_event(cur, next, deadline) calls, the
// single "next event" slot is recomputed from a handful of fixed
// deadlines whenever the state that could change it changes; this keeps
// the register a pure function of kc's fields instead of bookkeeping
// that must be kept in sync by hand at every call site.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/model"
)

func durationOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

// handshakeWindowDuration is --hand-window, default 60s.
func handshakeWindowDuration(o *model.OpenVPNOptions) time.Duration {
	return durationOrDefault(o.HandshakeWindow, 60*time.Second)
}

// transitionWindowDuration is --tran-window, default 10s.
func transitionWindowDuration(o *model.OpenVPNOptions) time.Duration {
	return durationOrDefault(o.TransitionWindow, 10*time.Second)
}

// renegotiateDuration is --reneg-sec, default 3600s; the server adds its
// handshake window so its renegotiation deadline always trails the
// client's, avoiding a renegotiation collision (spec §4.2).
func renegotiateDuration(o *model.OpenVPNOptions, role Role) time.Duration {
	d := durationOrDefault(o.RenegSeconds, 3600*time.Second)
	if role == RoleServer {
		d += handshakeWindowDuration(o)
	}
	return d
}

// expireDuration is renegotiate + tran-window.
func expireDuration(o *model.OpenVPNOptions, role Role) time.Duration {
	return transitionWindowDuration(o) + renegotiateDuration(o, role)
}

// becomePrimaryDuration is --become-primary, defaulting to
// min(handshake_window, renegotiate/2), or a flat 5s for 64-bit block
// ciphers (spec §4.2).
func becomePrimaryDuration(o *model.OpenVPNOptions, blockCipher64Bit bool) time.Duration {
	if o.BecomePrimary > 0 {
		return time.Duration(o.BecomePrimary) * time.Second
	}
	if blockCipher64Bit {
		return 5 * time.Second
	}
	hw := handshakeWindowDuration(o)
	half := renegotiateDuration(o, RoleClient) / 2
	if hw < half {
		return hw
	}
	return half
}

// recomputeEvent picks the earliest of the deadlines that currently
// apply to kc and installs it as the single next event/deadline pair.
func (kc *KeyContext) recomputeEvent(now time.Time) {
	if kc.invalidated {
		kc.nextEvent, kc.eventDeadline = model.KevNone, time.Time{}
		return
	}

	type candidate struct {
		ev model.KeyEvent
		at time.Time
	}
	var candidates []candidate

	if kc.negState != model.ACTIVE {
		candidates = append(candidates, candidate{model.KevNegotiate, kc.handshakeDeadline})
	} else {
		if kc.primary && !kc.renegotiateFired {
			candidates = append(candidates, candidate{model.KevRenegotiate, kc.renegotiateDeadline})
		} else if !kc.primary && !kc.becomePrimaryFired {
			candidates = append(candidates, candidate{model.KevBecomePrimary, kc.becomePrimaryDeadline})
		}
		candidates = append(candidates, candidate{model.KevExpire, kc.expireDeadline})
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.at.Before(best.at) {
			best = c
		}
	}
	kc.nextEvent, kc.eventDeadline = best.ev, best.at
}

// NextDeadline returns the earliest time this context needs another
// DrainOutgoing/Tick call: the sooner of a retransmission deadline and
// the next lifecycle event.
func (kc *KeyContext) NextDeadline(now time.Time, fallback time.Duration) time.Time {
	d := kc.sendWindow.NextDeadline(now, fallback)
	if !kc.eventDeadline.IsZero() && kc.eventDeadline.Before(d) {
		d = kc.eventDeadline
	}
	return d
}

// Tick fires and returns the next lifecycle event if its deadline has
// passed, or [model.KevNone] otherwise. The host's housekeeping loop
// calls this once per context per tick.
func (kc *KeyContext) Tick(now time.Time) model.KeyEvent {
	if kc.invalidated || kc.eventDeadline.IsZero() || now.Before(kc.eventDeadline) {
		return model.KevNone
	}
	ev := kc.nextEvent
	switch ev {
	case model.KevNegotiate:
		kc.invalidate(now, model.ErrHandshakeTimeout, "")
	case model.KevBecomePrimary:
		kc.becomePrimaryFired = true
		kc.recomputeEvent(now)
	case model.KevRenegotiate:
		kc.renegotiateFired = true
		kc.recomputeEvent(now)
	case model.KevExpire:
		kc.invalidate(now, model.ErrKevExpire, "")
	}
	return ev
}

// NoteDataActivity checks the data-channel byte limit (spec §4.6; the
// packet-id counter is not checked here) after an encrypt or decrypt and
// returns the event, if any, that
// a crossed limit raises: KEV_RENEGOTIATE when kc is primary and free to
// renegotiate immediately, KEV_RENEGOTIATE_QUEUE when kc is a secondary
// and the renegotiation must wait for [KeyContext.Promote].
func (kc *KeyContext) NoteDataActivity(now time.Time) model.KeyEvent {
	return kc.noteDataLimitCrossed(now, kc.crypto.ShouldRenegotiate())
}

// noteDataLimitCrossed implements NoteDataActivity's decision given
// whether the data-channel's limit has been crossed, split out so the
// primary/secondary/already-fired bookkeeping can be exercised directly
// without needing a 64-bit block cipher actually configured.
func (kc *KeyContext) noteDataLimitCrossed(now time.Time, crossed bool) model.KeyEvent {
	if kc.invalidated || kc.renegForced || kc.renegQueued || kc.renegotiateFired || !crossed {
		return model.KevNone
	}
	if !kc.primary {
		kc.renegQueued = true
		return model.KevRenegotiateQueue
	}
	kc.renegForced = true
	delay := time.Second
	if kc.role == RoleServer {
		delay = 2 * time.Second
	}
	kc.renegotiateDeadline = now.Add(delay)
	kc.recomputeEvent(now)
	return model.KevRenegotiate
}

// Promote marks kc as primary, the host's response to KEV_BECOME_PRIMARY
// firing on it. Returns KEV_RENEGOTIATE_FORCE when a data-limit
// renegotiation had been queued awaiting exactly this promotion (spec
// §4.6), KEV_BECOME_PRIMARY otherwise.
func (kc *KeyContext) Promote(now time.Time) model.KeyEvent {
	kc.primary = true
	kc.becomePrimaryFired = true
	ev := model.KevBecomePrimary
	if kc.renegQueued {
		kc.renegQueued = false
		kc.renegForced = true
		kc.renegotiateDeadline = now
		ev = model.KevRenegotiateForce
	} else {
		kc.renegotiateDeadline = kc.constructTime.Add(renegotiateDuration(kc.opt, kc.role))
	}
	kc.recomputeEvent(now)
	return ev
}
