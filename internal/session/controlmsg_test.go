package session

import (
	"testing"

	"github.com/vpncore/protoengine/internal/model"
)

func testKeySource(t *testing.T) *KeySource {
	t.Helper()
	ks, err := NewKeySource()
	if err != nil {
		t.Fatalf("NewKeySource: %v", err)
	}
	return ks
}

func Test_EncodeParseAuthRequest_roundTrip(t *testing.T) {
	local := testKeySource(t)
	o := &model.OpenVPNOptions{
		Username: "alice",
		Password: "s3cr3t",
		PeerInfo: map[string]string{"IV_GUI_VER": "test-1.0"},
	}

	encoded, err := EncodeAuthRequest(local, o)
	if err != nil {
		t.Fatalf("EncodeAuthRequest: %v", err)
	}

	ks, options, user, pass, peerInfo, err := ParseAuthRequest(encoded)
	if err != nil {
		t.Fatalf("ParseAuthRequest: %v", err)
	}
	if ks.R1 != local.R1 || ks.R2 != local.R2 || ks.PreMaster != local.PreMaster {
		t.Errorf("parsed KeySource does not match the encoded one")
	}
	if options != o.ServerOptionsString() {
		t.Errorf("options = %q, want %q", options, o.ServerOptionsString())
	}
	if user != "alice" || pass != "s3cr3t" {
		t.Errorf("user/pass = %q/%q, want alice/s3cr3t", user, pass)
	}

	info := ParsePeerInfo(peerInfo)
	if info["IV_PROTO"] != "2" || info["IV_NCP"] != "2" {
		t.Errorf("peer-info missing required capability keys: %v", info)
	}
	if info["IV_GUI_VER"] != "test-1.0" {
		t.Errorf("peer-info missing host-supplied key: %v", info)
	}
}

func Test_EncodeParseAuthRequest_noCredentials(t *testing.T) {
	local := testKeySource(t)
	o := &model.OpenVPNOptions{}

	encoded, err := EncodeAuthRequest(local, o)
	if err != nil {
		t.Fatalf("EncodeAuthRequest: %v", err)
	}
	_, _, user, pass, _, err := ParseAuthRequest(encoded)
	if err != nil {
		t.Fatalf("ParseAuthRequest: %v", err)
	}
	if user != "" || pass != "" {
		t.Errorf("user/pass = %q/%q, want empty", user, pass)
	}
}

func Test_EncodeParseAuthReply_roundTrip(t *testing.T) {
	local := testKeySource(t)
	o := &model.OpenVPNOptions{}

	encoded, err := EncodeAuthReply(local, o)
	if err != nil {
		t.Fatalf("EncodeAuthReply: %v", err)
	}

	ks, options, err := ParseAuthReply(encoded)
	if err != nil {
		t.Fatalf("ParseAuthReply: %v", err)
	}
	if ks.R1 != local.R1 || ks.R2 != local.R2 {
		t.Errorf("parsed randomness does not match")
	}
	if ks.PreMaster != [48]byte{} {
		t.Errorf("server reply should never carry a premaster")
	}
	if options != o.ServerOptionsString() {
		t.Errorf("options = %q, want %q", options, o.ServerOptionsString())
	}
}

func Test_ParseAuthReply_doesNotConsumeClientPreMaster(t *testing.T) {
	// A server reply has no premaster field, so ParseAuthReply reads the
	// first 32 bytes after a client request's prefix (its premaster) as
	// random1, rather than skipping a premaster field to reach the
	// request's real random1.
	local := testKeySource(t)
	encoded, err := EncodeAuthRequest(local, &model.OpenVPNOptions{})
	if err != nil {
		t.Fatalf("EncodeAuthRequest: %v", err)
	}
	ks, _, err := ParseAuthReply(encoded)
	if err != nil {
		t.Fatalf("ParseAuthReply: %v", err)
	}
	if ks.R1 == local.R1 {
		t.Errorf("ParseAuthReply skipped a premaster field the reply layout does not have")
	}
}

func Test_ParseAuthRequest_tooShort(t *testing.T) {
	if _, _, _, _, _, err := ParseAuthRequest([]byte{0, 0, 0, 0, 2}); err != ErrAuthMessageTooShort {
		t.Errorf("err = %v, want ErrAuthMessageTooShort", err)
	}
}

func Test_ParseAuthReply_badPrefix(t *testing.T) {
	bad := make([]byte, 69)
	bad[4] = 0x01 // wrong key method
	if _, _, err := ParseAuthReply(bad); err != ErrBadAuthPrefix {
		t.Errorf("err = %v, want ErrBadAuthPrefix", err)
	}
}

func Test_ParsePeerInfo(t *testing.T) {
	info := ParsePeerInfo("IV_VER=2.6.0\nIV_PROTO=2\n\nmalformed-line\n")
	if info["IV_VER"] != "2.6.0" || info["IV_PROTO"] != "2" {
		t.Errorf("ParsePeerInfo = %v", info)
	}
	if _, ok := info["malformed-line"]; ok {
		t.Errorf("ParsePeerInfo should skip lines without '='")
	}
}

func Test_ParsePeerID(t *testing.T) {
	if got := ParsePeerID(map[string][]string{"peer-id": {"7"}}); got != 7 {
		t.Errorf("ParsePeerID = %d, want 7", got)
	}
	if got := ParsePeerID(map[string][]string{}); got != -1 {
		t.Errorf("ParsePeerID = %d, want -1 for absent key", got)
	}
	if got := ParsePeerID(map[string][]string{"peer-id": {"not-a-number"}}); got != -1 {
		t.Errorf("ParsePeerID = %d, want -1 for malformed value", got)
	}
}

func Test_platformName(t *testing.T) {
	if platformName() == "" {
		t.Errorf("platformName returned an empty string")
	}
}
