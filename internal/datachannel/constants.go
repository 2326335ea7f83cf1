package datachannel

import "bytes"

// keepaliveMessage is the fixed 16-byte payload OpenVPN peers exchange over
// the data channel as a ping when no real traffic flows for --ping seconds.
var keepaliveMessage = []byte{
	0x2a, 0x18, 0x7b, 0xf3, 0x64, 0x1e, 0xb4, 0xcb,
	0x07, 0xed, 0x2d, 0x0a, 0x98, 0x1f, 0xc7, 0x48,
}

// keepaliveFirstByte is keepaliveMessage[0], checked before the full
// constant-time comparison as a cheap filter.
const keepaliveFirstByte = 0x2a

// explicitExitNotifyMessage is the fixed payload sent over the data channel
// to tell the peer this side is shutting down cleanly. The trailing byte is
// the OCC_EXIT reason code.
var explicitExitNotifyMessage = []byte{
	0x28, 0x7f, 0x34, 0x6b, 0xd4, 0xef, 0x7a, 0x81,
	0x2d, 0x56, 0xb8, 0xd3, 0xaf, 0xc5, 0x45, 0x9c,
	6,
}

const explicitExitNotifyFirstByte = 0x28

// isKeepaliveMessage reports whether a decrypted data-channel payload is a
// ping keepalive rather than application data.
func isKeepaliveMessage(payload []byte) bool {
	return len(payload) >= len(keepaliveMessage) &&
		payload[0] == keepaliveFirstByte &&
		bytes.Equal(payload[:len(keepaliveMessage)], keepaliveMessage)
}

// isExplicitExitNotifyMessage reports whether a decrypted data-channel
// payload is a peer's explicit-exit-notify.
func isExplicitExitNotifyMessage(payload []byte) bool {
	return len(payload) >= len(explicitExitNotifyMessage) &&
		payload[0] == explicitExitNotifyFirstByte &&
		bytes.Equal(payload[:len(explicitExitNotifyMessage)], explicitExitNotifyMessage)
}

// IsKeepaliveMessage is the exported form of [isKeepaliveMessage], for
// callers outside this package (protocontext's keepalive/liveness timers)
// that need to recognize a plaintext just handed back by DecryptData.
func IsKeepaliveMessage(payload []byte) bool { return isKeepaliveMessage(payload) }

// IsExplicitExitNotifyMessage is the exported form of
// [isExplicitExitNotifyMessage].
func IsExplicitExitNotifyMessage(payload []byte) bool { return isExplicitExitNotifyMessage(payload) }

// KeepaliveMessage returns the fixed 16-byte keepalive ping payload, for
// callers that need to send one.
func KeepaliveMessage() []byte { return append([]byte(nil), keepaliveMessage...) }

// ExplicitExitNotifyMessage returns the fixed explicit-exit-notify
// payload, for callers that need to send one.
func ExplicitExitNotifyMessage() []byte { return append([]byte(nil), explicitExitNotifyMessage...) }
