package protocontext

//
// The housekeeping()/next_housekeeping() tick of spec §5: drives each
// key context's lifecycle-event register and reliable retransmissions,
// the promotion of a secondary into primary, and the keepalive timeout
// check of spec §4.7.
//

import (
	"time"

	"github.com/vpncore/protoengine/internal/keycontext"
	"github.com/vpncore/protoengine/internal/model"
)

// fallbackRetransmit bounds how long a key context's send window ever
// waits for an empty retransmission deadline, mirroring
// [keycontext.KeyContext.NextDeadline]'s own fallback contract.
const fallbackRetransmit = time.Second

// Housekeeping is the host's periodic tick: it fires due lifecycle
// events on both key contexts, drains their reliable send windows, acts
// on promotion, and checks the keepalive timeout.
func (pc *ProtoContext) Housekeeping(now time.Time) error {
	pc.lastNow = now
	if pc.invalidated {
		return ErrSessionInvalidated
	}

	pc.tickKeyContext(pc.primary, now)
	pc.tickKeyContext(pc.secondary, now)

	if pc.secondary != nil && pc.secondary.Primary() {
		pc.promoteSecondary(now)
	}

	pc.sendKeepaliveIfDue(now)
	if pc.keepaliveEnabled && !pc.keepaliveExpire.IsZero() && !now.Before(pc.keepaliveExpire) {
		pc.disconnect(now, model.ErrKeepaliveTimeout, "")
	}
	return nil
}

func (pc *ProtoContext) tickKeyContext(kc *keycontext.KeyContext, now time.Time) {
	if kc == nil {
		return
	}
	ev := kc.Tick(now)
	switch ev {
	case model.KevBecomePrimary:
		promoteEv := kc.Promote(now)
		pc.handleKeyEvent(now, promoteEv)
	case model.KevRenegotiate, model.KevRenegotiateForce:
		pc.handleKeyEvent(now, ev)
	}
	pc.drainKeyContext(kc, now)

	if inv, reason := kc.Invalidated(); inv {
		pc.onKeyContextInvalidated(kc, now, reason)
	}
}

// promoteSecondary swaps a promoted secondary into the primary slot.
// The old primary is left in place only long enough to drain and
// expire on its own schedule (spec §8 scenario 3: "old key expires
// within expire with no data loss across the swap"); since it already
// fired the KEV_RENEGOTIATE that created this very secondary,
// recomputeEvent no longer offers it another renegotiation.
func (pc *ProtoContext) promoteSecondary(now time.Time) {
	old := pc.primary
	pc.primary = pc.secondary
	pc.secondary = nil
	if pc.logger != nil && old != nil {
		pc.logger.Infof("protocontext[%s]: promoted key id %d over key id %d", pc.tracer.TraceID(), pc.primary.KeyID(), old.KeyID())
	}
}

// maxHousekeepingInterval bounds how long NextHousekeeping ever asks the
// host to wait when nothing else is scheduled (no active key context,
// no keepalive configured): a cooperative engine with no pending
// deadline still needs occasional ticks so a future configuration
// change or call takes effect promptly.
const maxHousekeepingInterval = 30 * time.Second

// NextHousekeeping returns the earliest time Housekeeping next needs to
// run: the sooner of either key context's retransmit/event deadline and
// the keepalive expiry, relative to the time last stamped by any entry
// point (spec §5's shared current-time source).
func (pc *ProtoContext) NextHousekeeping() time.Time {
	now := pc.lastNow
	best := now.Add(maxHousekeepingInterval)
	consider := func(t time.Time) {
		if !t.IsZero() && t.Before(best) {
			best = t
		}
	}
	if pc.primary != nil {
		consider(pc.primary.NextDeadline(now, fallbackRetransmit))
	}
	if pc.secondary != nil {
		consider(pc.secondary.NextDeadline(now, fallbackRetransmit))
	}
	if pc.keepaliveEnabled {
		consider(pc.keepaliveExpire)
		consider(pc.keepaliveXmit)
	}
	return best
}
