package model

import "testing"

func TestNegotiationState_String(t *testing.T) {
	tests := []struct {
		name string
		sns  NegotiationState
		want string
	}{
		{name: "undef", sns: S_UNDEF, want: "S_UNDEF"},
		{name: "error", sns: S_ERROR, want: "S_ERROR"},
		{name: "client initial", sns: C_INITIAL, want: "C_INITIAL"},
		{name: "client wait reset", sns: C_WAIT_RESET, want: "C_WAIT_RESET"},
		{name: "client wait reset ack", sns: C_WAIT_RESET_ACK, want: "C_WAIT_RESET_ACK"},
		{name: "client wait auth", sns: C_WAIT_AUTH, want: "C_WAIT_AUTH"},
		{name: "client wait auth ack", sns: C_WAIT_AUTH_ACK, want: "C_WAIT_AUTH_ACK"},
		{name: "server initial", sns: S_INITIAL, want: "S_INITIAL"},
		{name: "server wait reset", sns: S_WAIT_RESET, want: "S_WAIT_RESET"},
		{name: "server wait reset ack", sns: S_WAIT_RESET_ACK, want: "S_WAIT_RESET_ACK"},
		{name: "server wait auth", sns: S_WAIT_AUTH, want: "S_WAIT_AUTH"},
		{name: "server wait auth ack", sns: S_WAIT_AUTH_ACK, want: "S_WAIT_AUTH_ACK"},
		{name: "active", sns: ACTIVE, want: "ACTIVE"},
		{name: "unknown", sns: NegotiationState(99), want: "S_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sns.String(); got != tt.want {
				t.Errorf("NegotiationState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNegotiationState_IsClientState(t *testing.T) {
	for _, s := range []NegotiationState{C_INITIAL, C_WAIT_RESET, C_WAIT_RESET_ACK, C_WAIT_AUTH, C_WAIT_AUTH_ACK} {
		if !s.IsClientState() {
			t.Errorf("%v.IsClientState() = false, want true", s)
		}
		if s.IsServerState() {
			t.Errorf("%v.IsServerState() = true, want false", s)
		}
	}
	for _, s := range []NegotiationState{S_INITIAL, S_WAIT_RESET, S_WAIT_RESET_ACK, S_WAIT_AUTH, S_WAIT_AUTH_ACK} {
		if !s.IsServerState() {
			t.Errorf("%v.IsServerState() = false, want true", s)
		}
		if s.IsClientState() {
			t.Errorf("%v.IsClientState() = true, want false", s)
		}
	}
	for _, s := range []NegotiationState{ACTIVE, S_UNDEF, S_ERROR} {
		if s.IsClientState() || s.IsServerState() {
			t.Errorf("%v should belong to neither chain", s)
		}
	}
}

func TestKeyEvent_String(t *testing.T) {
	tests := []struct {
		e    KeyEvent
		want string
	}{
		{KevNone, "KEV_NONE"},
		{KevNegotiate, "KEV_NEGOTIATE"},
		{KevActive, "KEV_ACTIVE"},
		{KevBecomePrimary, "KEV_BECOME_PRIMARY"},
		{KevRenegotiate, "KEV_RENEGOTIATE"},
		{KevExpire, "KEV_EXPIRE"},
		{KevPrimaryPending, "KEV_PRIMARY_PENDING"},
		{KevRenegotiateQueue, "KEV_RENEGOTIATE_QUEUE"},
		{KevRenegotiateForce, "KEV_RENEGOTIATE_FORCE"},
		{KeyEvent(99), "KEV_INVALID"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("KeyEvent.String() = %v, want %v", got, tt.want)
		}
	}
}
