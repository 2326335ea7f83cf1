package controlchannel

import (
	"fmt"

	"github.com/vpncore/protoengine/internal/model"
)

// NewChannelFromOptions builds a tls-auth [Channel] from parsed config
// directives, or returns (nil, nil) when tls-auth is not in use —
// ProtoContext checks for a nil *Channel to decide whether this layer
// applies at all. This is the entry point `pkg/config` wires up.
func NewChannelFromOptions(o *model.OpenVPNOptions, stats model.StatsSink) (*Channel, error) {
	if len(o.TLSAuth) == 0 {
		return nil, nil
	}
	sk, err := ParseStaticKey(o.TLSAuth)
	if err != nil {
		return nil, fmt.Errorf("controlchannel: %w", err)
	}
	ch, err := NewChannel(sk, o.KeyDirection, o.TLSAuthDigest, stats)
	if err != nil {
		return nil, fmt.Errorf("controlchannel: %w", err)
	}
	return ch, nil
}
