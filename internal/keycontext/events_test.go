package keycontext

import (
	"testing"
	"time"

	"github.com/vpncore/protoengine/internal/model"
)

func Test_recomputeEvent_handshakePhase(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)

	if kc.nextEvent != model.KevNegotiate {
		t.Fatalf("nextEvent = %v, want KevNegotiate before ACTIVE", kc.nextEvent)
	}
	if !kc.eventDeadline.Equal(kc.handshakeDeadline) {
		t.Errorf("eventDeadline = %v, want handshakeDeadline %v", kc.eventDeadline, kc.handshakeDeadline)
	}
}

func Test_recomputeEvent_activePrimaryPrefersRenegotiate(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true
	kc.renegotiateDeadline = now.Add(time.Minute)
	kc.expireDeadline = now.Add(time.Hour)

	kc.recomputeEvent(now)
	if kc.nextEvent != model.KevRenegotiate {
		t.Errorf("nextEvent = %v, want KevRenegotiate", kc.nextEvent)
	}
}

func Test_recomputeEvent_activeSecondaryPrefersBecomePrimary(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 1, true, now)
	kc.negState = model.ACTIVE
	kc.primary = false
	kc.becomePrimaryDeadline = now.Add(time.Minute)
	kc.expireDeadline = now.Add(time.Hour)

	kc.recomputeEvent(now)
	if kc.nextEvent != model.KevBecomePrimary {
		t.Errorf("nextEvent = %v, want KevBecomePrimary", kc.nextEvent)
	}
}

func Test_recomputeEvent_expireWinsWhenEarliest(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true
	kc.renegotiateDeadline = now.Add(time.Hour)
	kc.expireDeadline = now.Add(time.Minute)

	kc.recomputeEvent(now)
	if kc.nextEvent != model.KevExpire {
		t.Errorf("nextEvent = %v, want KevExpire", kc.nextEvent)
	}
}

func Test_Tick_beforeDeadlineReturnsNone(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	if ev := kc.Tick(now); ev != model.KevNone {
		t.Errorf("Tick() before deadline = %v, want KevNone", ev)
	}
}

func Test_Tick_negotiateTimeoutInvalidates(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)

	late := now.Add(2 * time.Hour)
	ev := kc.Tick(late)
	if ev != model.KevNegotiate {
		t.Fatalf("Tick() = %v, want KevNegotiate", ev)
	}
	inv, reason := kc.Invalidated()
	if !inv {
		t.Fatalf("Invalidated() = false after a handshake timeout")
	}
	if reason.Code != model.ErrHandshakeTimeout {
		t.Errorf("reason.Code = %v, want ErrHandshakeTimeout", reason.Code)
	}
}

func Test_Tick_becomePrimaryThenExpire(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 1, true, now)
	kc.negState = model.ACTIVE
	kc.primary = false
	kc.becomePrimaryDeadline = now.Add(time.Minute)
	kc.expireDeadline = now.Add(2 * time.Minute)
	kc.recomputeEvent(now)

	at := now.Add(time.Minute)
	ev := kc.Tick(at)
	if ev != model.KevBecomePrimary {
		t.Fatalf("Tick() = %v, want KevBecomePrimary", ev)
	}
	if !kc.becomePrimaryFired {
		t.Errorf("becomePrimaryFired should be set after firing")
	}
	if kc.nextEvent != model.KevExpire {
		t.Errorf("nextEvent after becomePrimary fired = %v, want KevExpire", kc.nextEvent)
	}

	// A second Tick at the same instant must not re-fire the already
	// handled event.
	if ev := kc.Tick(at); ev != model.KevNone {
		t.Errorf("Tick() re-fired at the same instant: %v", ev)
	}
}

func Test_Tick_renegotiateDoesNotRefireOnEveryTick(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true
	kc.renegotiateDeadline = now.Add(time.Minute)
	kc.expireDeadline = now.Add(time.Hour)
	kc.recomputeEvent(now)

	at := now.Add(time.Minute)
	if ev := kc.Tick(at); ev != model.KevRenegotiate {
		t.Fatalf("Tick() = %v, want KevRenegotiate", ev)
	}
	if !kc.renegotiateFired {
		t.Fatalf("renegotiateFired should be set")
	}
	if kc.nextEvent != model.KevExpire {
		t.Fatalf("nextEvent after renegotiate fired = %v, want KevExpire (not re-offered)", kc.nextEvent)
	}
	// Ticking again well past the original renegotiate deadline must
	// not fire KevRenegotiate a second time.
	if ev := kc.Tick(at.Add(time.Second)); ev != model.KevNone {
		t.Errorf("Tick() re-fired KevRenegotiate after it already fired once: %v", ev)
	}
}

func Test_Tick_expireInvalidates(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleServer, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true
	kc.renegotiateDeadline = now.Add(time.Hour)
	kc.expireDeadline = now.Add(time.Minute)
	kc.recomputeEvent(now)

	ev := kc.Tick(now.Add(time.Minute))
	if ev != model.KevExpire {
		t.Fatalf("Tick() = %v, want KevExpire", ev)
	}
	inv, reason := kc.Invalidated()
	if !inv || reason.Code != model.ErrKevExpire {
		t.Errorf("Invalidated() = %v, %+v, want true/ErrKevExpire", inv, reason)
	}
}

func Test_noteDataLimitCrossed_primaryFiresImmediately(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true

	ev := kc.noteDataLimitCrossed(now, true)
	if ev != model.KevRenegotiate {
		t.Fatalf("noteDataLimitCrossed() = %v, want KevRenegotiate", ev)
	}
	if !kc.renegForced {
		t.Errorf("renegForced should be set")
	}
	if got, want := kc.renegotiateDeadline, now.Add(time.Second); !got.Equal(want) {
		t.Errorf("renegotiateDeadline = %v, want %v (client delay)", got, want)
	}
}

func Test_noteDataLimitCrossed_serverDelayIsTwoSeconds(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleServer, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true

	kc.noteDataLimitCrossed(now, true)
	if got, want := kc.renegotiateDeadline, now.Add(2*time.Second); !got.Equal(want) {
		t.Errorf("renegotiateDeadline = %v, want %v (server delay)", got, want)
	}
}

func Test_noteDataLimitCrossed_secondaryQueues(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 1, true, now)
	kc.negState = model.ACTIVE
	kc.primary = false

	ev := kc.noteDataLimitCrossed(now, true)
	if ev != model.KevRenegotiateQueue {
		t.Fatalf("noteDataLimitCrossed() = %v, want KevRenegotiateQueue", ev)
	}
	if !kc.renegQueued {
		t.Errorf("renegQueued should be set")
	}
}

func Test_noteDataLimitCrossed_notCrossedReturnsNone(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 0, true, now)
	kc.negState = model.ACTIVE
	kc.primary = true

	if ev := kc.noteDataLimitCrossed(now, false); ev != model.KevNone {
		t.Errorf("noteDataLimitCrossed(crossed=false) = %v, want KevNone", ev)
	}
}

func Test_Promote_queuedRenegotiationForcesImmediately(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 1, true, now)
	kc.negState = model.ACTIVE
	kc.primary = false
	kc.noteDataLimitCrossed(now, true) // queues, since not primary yet

	ev := kc.Promote(now)
	if ev != model.KevRenegotiateForce {
		t.Fatalf("Promote() = %v, want KevRenegotiateForce", ev)
	}
	if !kc.Primary() {
		t.Errorf("Primary() = false after Promote")
	}
	if kc.renegQueued {
		t.Errorf("renegQueued should be cleared by Promote")
	}
	if !kc.renegForced {
		t.Errorf("renegForced should be set by Promote")
	}
}

func Test_Promote_withoutQueuedRenegotiation(t *testing.T) {
	now := time.Now()
	kc := newTestContext(t, RoleClient, 1, true, now)
	kc.negState = model.ACTIVE
	kc.primary = false

	ev := kc.Promote(now)
	if ev != model.KevBecomePrimary {
		t.Fatalf("Promote() = %v, want KevBecomePrimary", ev)
	}
	if !kc.Primary() {
		t.Errorf("Primary() = false after Promote")
	}
}

func Test_becomePrimaryDuration_flatFiveSecondsFor64BitBlock(t *testing.T) {
	opt := &model.OpenVPNOptions{}
	if got, want := becomePrimaryDuration(opt, true), 5*time.Second; got != want {
		t.Errorf("becomePrimaryDuration(64bit) = %v, want %v", got, want)
	}
}

func Test_becomePrimaryDuration_explicitOverride(t *testing.T) {
	opt := &model.OpenVPNOptions{BecomePrimary: 30}
	if got, want := becomePrimaryDuration(opt, false), 30*time.Second; got != want {
		t.Errorf("becomePrimaryDuration(override) = %v, want %v", got, want)
	}
}

func Test_renegotiateDuration_serverAddsHandshakeWindow(t *testing.T) {
	opt := &model.OpenVPNOptions{}
	client := renegotiateDuration(opt, RoleClient)
	server := renegotiateDuration(opt, RoleServer)
	if server <= client {
		t.Errorf("server renegotiate duration %v should exceed client's %v", server, client)
	}
	if server-client != 60*time.Second {
		t.Errorf("server should add the 60s default handshake window, got delta %v", server-client)
	}
}

func Test_expireDuration_isTransitionPlusRenegotiate(t *testing.T) {
	opt := &model.OpenVPNOptions{}
	want := transitionWindowDuration(opt) + renegotiateDuration(opt, RoleClient)
	if got := expireDuration(opt, RoleClient); got != want {
		t.Errorf("expireDuration() = %v, want %v", got, want)
	}
}
