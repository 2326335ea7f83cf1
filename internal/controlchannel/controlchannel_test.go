package controlchannel

import (
	"testing"

	"github.com/vpncore/protoengine/internal/model"
)

func Test_NewChannelFromOptions_disabledWhenNoKey(t *testing.T) {
	ch, err := NewChannelFromOptions(&model.OpenVPNOptions{}, nil)
	if err != nil {
		t.Fatalf("NewChannelFromOptions: %v", err)
	}
	if ch != nil {
		t.Errorf("expected a nil *Channel when no tls-auth key is configured")
	}
}

func Test_NewChannelFromOptions_enabled(t *testing.T) {
	o := &model.OpenVPNOptions{
		TLSAuth:       rawStaticKey(),
		KeyDirection:  model.KeyDirectionBidirectional,
		TLSAuthDigest: "",
	}
	ch, err := NewChannelFromOptions(o, nil)
	if err != nil {
		t.Fatalf("NewChannelFromOptions: %v", err)
	}
	if ch == nil {
		t.Fatalf("expected a non-nil *Channel")
	}
}

func Test_NewChannelFromOptions_badKey(t *testing.T) {
	o := &model.OpenVPNOptions{TLSAuth: []byte("garbage")}
	if _, err := NewChannelFromOptions(o, nil); err == nil {
		t.Errorf("expected an error for malformed tls-auth key material")
	}
}

func Test_NewChannelFromOptions_badDigest(t *testing.T) {
	o := &model.OpenVPNOptions{TLSAuth: rawStaticKey(), TLSAuthDigest: "MD5"}
	if _, err := NewChannelFromOptions(o, nil); err == nil {
		t.Errorf("expected an error for an unsupported digest")
	}
}
