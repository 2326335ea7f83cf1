package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDataChannelKey is a [DataChannelKey] error.
	ErrDataChannelKey = errors.New("bad data-channel key")
)

// DataChannelKey holds the pair of key sources negotiated over one
// KeyContext's control channel, from which [Expand] derives that
// context's data-channel cipher/HMAC material. Each KeyContext in the
// primary/secondary slot pair owns its own DataChannelKey, one per
// negotiation rather than one per short key_id in a shared array, so
// the key-method-2 handshake that produced it can be repeated freely
// across renegotiations.
type DataChannelKey struct {
	ready  bool
	local  *KeySource
	remote *KeySource
	mu     sync.Mutex
}

// Local returns the local [KeySource]
func (dck *DataChannelKey) Local() *KeySource {
	return dck.local
}

// Remote returns the remote [KeySource]
func (dck *DataChannelKey) Remote() *KeySource {
	return dck.remote
}

// AddRemoteKey adds the peer's keySource to our dataChannelKey. This makes the
// dataChannelKey ready to be used.
func (dck *DataChannelKey) AddRemoteKey(k *KeySource) error {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	if dck.ready {
		return fmt.Errorf("%w: %s", ErrDataChannelKey, "cannot overwrite remote key slot")
	}
	dck.remote = k
	dck.ready = true
	return nil
}

// AddLocalKey adds the local keySource to our dataChannelKey.
func (dck *DataChannelKey) AddLocalKey(k *KeySource) error {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	dck.local = k
	return nil
}

// Ready returns whether the [DataChannelKey] is ready.
func (dck *DataChannelKey) Ready() bool {
	dck.mu.Lock()
	defer dck.mu.Unlock()
	return dck.ready
}
