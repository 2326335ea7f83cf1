package controlchannel

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/replay"
)

// DefaultDigest is the tls-auth HMAC digest OpenVPN uses when no
// `tls-auth-digest` directive is given.
const DefaultDigest = "SHA1"

// ErrUnsupportedDigest indicates a `tls-auth-digest` name this engine
// does not implement.
var ErrUnsupportedDigest = errors.New("openvpn: unsupported tls-auth-digest")

// digestFunc resolves a `tls-auth-digest` name to a stdlib hash
// constructor, the same name table shape as the data channel's cipher
// and HMAC lookups (internal/datachannel/crypto.go).
func digestFunc(name string) (fn func() hash.Hash, size int, ok bool) {
	switch strings.ToUpper(name) {
	case "", DefaultDigest:
		return sha1.New, sha1.Size, true
	case "SHA256":
		return sha256.New, sha256.Size, true
	case "SHA512":
		return sha512.New, sha512.Size, true
	default:
		return nil, 0, false
	}
}

// headerSize is the size, in bytes, of the opcode+key-id byte and the
// local session id that precede the tls-auth HMAC on every control
// packet (spec §4.1's wire layout).
const headerSize = 1 + 8

// ErrHMACMismatch indicates an incoming control packet's tls-auth HMAC
// did not verify.
var ErrHMACMismatch = errors.New("openvpn: tls-auth hmac mismatch")

// ErrReplay indicates an incoming control packet's tls-auth replay id
// was rejected as a duplicate or too old.
var ErrReplay = errors.New("openvpn: tls-auth replay id rejected")

// Channel implements the tls-auth HMAC layer: [Channel.Wrap] prepends an
// HMAC and a long-form replay id to the wire bytes produced by
// [model.Packet.Bytes]; [Channel.Unwrap] verifies and strips them back
// off before the bytes reach [model.ParsePacket]. Grounded on
// proto.hpp's gen_head/ovpn_hmac_gen: the HMAC signs the replay id and
// everything after it, never the opcode or session id that precede it
// on the wire — the header is authenticated only insofar as tampering
// with it changes which Channel verifies the packet at all.
//
// A *Channel only exists when Config carries a tls-auth key; callers
// that hold a nil *Channel skip this layer entirely and hand wire bytes
// to the reliable transport unmodified.
type Channel struct {
	hmacSize int
	hashFn   func() hash.Hash
	sendKey  []byte
	recvKey  []byte

	sendCounter uint32
	recvWindow  replay.Window

	stats model.StatsSink
}

// NewChannel builds a tls-auth [Channel] from a parsed static key, an
// OpenVPN `--key-direction` value and a `--tls-auth-digest` name (empty
// for the OpenVPN default). A nil stats sink is replaced with
// [model.NopStatsSink].
func NewChannel(sk *StaticKey, keyDirection int, digestName string, stats model.StatsSink) (*Channel, error) {
	hashFn, size, ok := digestFunc(digestName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDigest, digestName)
	}
	if stats == nil {
		stats = model.NopStatsSink{}
	}
	return &Channel{
		hmacSize:   size,
		hashFn:     hashFn,
		sendKey:    sk.SendHMACKey(keyDirection),
		recvKey:    sk.RecvHMACKey(keyDirection),
		recvWindow: replay.NewSlidingWindow(),
		stats:      stats,
	}, nil
}

// Wrap prepends the tls-auth HMAC and long-form replay id to wire, the
// serialized control packet bytes from [model.Packet.Bytes] (whose
// first [headerSize] bytes are the opcode/key-id byte and the local
// session id). now is stamped into the replay id's timestamp field.
func (c *Channel) Wrap(wire []byte, now time.Time) ([]byte, error) {
	if len(wire) < headerSize {
		return nil, model.ErrPacketTooShort
	}
	header := wire[:headerSize]
	rest := wire[headerSize:]

	rid := model.ReplayID{Counter: c.sendCounter, Timestamp: uint32(now.Unix())}
	c.sendCounter++
	signed := append(rid.Bytes(true), rest...)
	mac := c.sign(c.sendKey, signed)

	out := make([]byte, 0, len(header)+len(mac)+len(signed))
	out = append(out, header...)
	out = append(out, mac...)
	out = append(out, signed...)
	return out, nil
}

// Unwrap verifies and strips the tls-auth HMAC and replay id from an
// incoming wire-format control packet, returning plain bytes
// [model.ParsePacket] can parse. On any failure it records a
// [model.StatsError] on the configured sink and returns a non-nil
// error; callers must not let a failed Unwrap mutate any other
// protocol state (spec §4's non-mutation invariant for rejected
// packets).
func (c *Channel) Unwrap(wire []byte, now time.Time) ([]byte, error) {
	if len(wire) < headerSize+c.hmacSize+model.LongFormReplayIDSize {
		c.count(now, model.ErrBufferError, 0, "")
		return nil, model.ErrPacketTooShort
	}
	keyID := wire[0] & 0x07
	header := wire[:headerSize]
	mac := wire[headerSize : headerSize+c.hmacSize]
	rest := wire[headerSize+c.hmacSize:]

	if !hmac.Equal(mac, c.sign(c.recvKey, rest)) {
		c.count(now, model.ErrHMACError, keyID, "")
		return nil, ErrHMACMismatch
	}

	rid, n, err := model.ParseReplayID(rest, true)
	if err != nil {
		c.count(now, model.ErrBufferError, keyID, err.Error())
		return nil, err
	}
	if !c.recvWindow.Accept(model.PacketID(rid.Counter)) {
		c.count(now, model.ErrReplayError, keyID, "")
		return nil, ErrReplay
	}

	out := make([]byte, 0, len(header)+len(rest)-n)
	out = append(out, header...)
	out = append(out, rest[n:]...)
	return out, nil
}

func (c *Channel) sign(key, data []byte) []byte {
	h := hmac.New(c.hashFn, key)
	h.Write(data)
	return h.Sum(nil)
}

func (c *Channel) count(now time.Time, code model.ErrorCode, keyID byte, detail string) {
	c.stats.Count(&model.StatsError{Code: code, At: now, KeyID: keyID, Detail: detail})
}
