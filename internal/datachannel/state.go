package datachannel

//
// Data-channel crypto context: holds the negotiated cipher/HMAC pair, the
// expanded key material for one key id, and the packet-id counters for
// both directions. Crypto performs no I/O and knows nothing about the
// control channel; it is owned and driven by a keycontext.KeyContext.
//

import (
	"hash"
	"math"
	"sync"

	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/session"
)

// keySlot holds 64 bytes of key material, as produced by the TLS-PRF key
// expansion. Ciphers and HMACs only consume as many leading bytes as their
// own key size requires.
type keySlot [64]byte

// Crypto is the data-channel crypto context for a single key id.
type Crypto struct {
	mu sync.Mutex

	keyID  uint8
	peerID uint32

	cipher dataCipher
	hashFn func() hash.Hash

	hmacLocal  hash.Hash
	hmacRemote hash.Hash

	cipherKeyLocal  keySlot
	cipherKeyRemote keySlot
	hmacKeyLocal    keySlot
	hmacKeyRemote   keySlot
	keyed           bool

	localPacketID  model.PacketID
	remotePacketID model.PacketID
	haveRemote     bool

	meter dataLimitMeter
}

// NewCrypto builds a Crypto context for the negotiated cipher and auth
// digest, for the given key id and 24-bit peer id. The context is not
// usable for encryption/decryption until SetKeys is called.
func NewCrypto(cipherSuite, authDigest string, keyID uint8, peerID uint32) (*Crypto, error) {
	dc, err := newDataCipherFromCipherSuite(cipherSuite)
	if err != nil {
		return nil, err
	}
	c := &Crypto{
		keyID:  keyID,
		peerID: peerID & 0x00FFFFFF,
		cipher: dc,
		meter:  newDataLimitMeter(dc.blockSize()),
	}
	if !dc.isAEAD() {
		hashFn, ok := newHMACFactory(authDigest)
		if !ok {
			return nil, errUnsupportedCipher
		}
		c.hashFn = hashFn
	}
	return c, nil
}

// SetKeys installs the expanded key material for this key id, derived by
// [session.Expand] from the control-channel key negotiation.
func (c *Crypto) SetKeys(km *session.KeyMaterial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipherKeyLocal = keySlot(km.CipherLocal)
	c.cipherKeyRemote = keySlot(km.CipherRemote)
	c.hmacKeyLocal = keySlot(km.HMACLocal)
	c.hmacKeyRemote = keySlot(km.HMACRemote)
	if c.hashFn != nil {
		c.hmacLocal = c.hashFn()
		c.hmacRemote = c.hashFn()
	}
	c.keyed = true
}

// Ready reports whether SetKeys has been called.
func (c *Crypto) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyed
}

// KeyID returns the 3-bit key id this context was built for.
func (c *Crypto) KeyID() uint8 {
	return c.keyID
}

// ShouldRenegotiate reports whether this key has processed enough data
// under a 64-bit block cipher to warrant a forced rekey (CVE-2016-6329).
func (c *Crypto) ShouldRenegotiate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meter.shouldRenegotiate()
}

// nextLocalPacketID returns the next packet id to stamp on an outgoing
// packet and advances the local counter.
func (c *Crypto) nextLocalPacketID() (model.PacketID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localPacketID == math.MaxUint32 {
		return 0, ErrExpiredKey
	}
	c.localPacketID++
	return c.localPacketID, nil
}

// SetRemotePacketID stores the passed packetID internally.
func (c *Crypto) SetRemotePacketID(id model.PacketID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotePacketID = id
	c.haveRemote = true
}

// RemotePacketID returns the last known remote packetID. It returns an
// error if the stored packet id has reached the maximum capacity of the
// packetID type.
func (c *Crypto) RemotePacketID() (model.PacketID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remotePacketID == math.MaxUint32 {
		return 0, ErrExpiredKey
	}
	return c.remotePacketID, nil
}

// opcodeAndKeyHeader returns the header byte encoding the P_DATA_V2 opcode
// and this context's key id (3 upper and 5 lower bits, respectively).
func (c *Crypto) opcodeAndKeyHeader() byte {
	return byte((byte(model.P_DATA_V2) << 3) | (c.keyID & 0x07))
}
