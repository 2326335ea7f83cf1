// Package controlchannel implements the optional tls-auth HMAC layer
// prepended to every control packet (spec §4.1, §4.4): parsing the
// pre-shared static key file, slicing it per key-direction, and
// wrapping/unwrapping the wire bytes [internal/model.Packet] produces.
package controlchannel

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// StaticKeySize is the size, in bytes, of an OpenVPN 2048-bit static key
// file: four 64-byte key blocks. tls-auth only ever consumes the two
// HMAC blocks; the two cipher blocks are carried for file-format
// compatibility with --secret and otherwise ignored here.
const StaticKeySize = 256

const keyBlockSize = 64

// StaticKey holds the four key blocks parsed out of an OpenVPN static
// key file, in file order: [0] encrypt cipher, [1] encrypt HMAC,
// [2] decrypt cipher, [3] decrypt HMAC.
type StaticKey struct {
	blocks [4][keyBlockSize]byte
}

var (
	// ErrStaticKeySize indicates the decoded key material was not
	// exactly [StaticKeySize] bytes.
	ErrStaticKeySize = errors.New("openvpn: static key must be 256 bytes")

	// ErrStaticKeyFormat indicates the key file was neither a valid
	// "-----BEGIN OpenVPN Static key V1-----" block nor raw key bytes.
	ErrStaticKeyFormat = errors.New("openvpn: malformed static key file")
)

// ParseStaticKey parses an OpenVPN static key. It accepts the standard
// PEM-like file format (a "-----BEGIN OpenVPN Static key V1-----"
// banner followed by 16 lines of hex, then an END banner, as written by
// `openvpn --genkey`), bare hex text with no banners, or already-decoded
// raw key bytes — the three forms a `tls-auth` directive or an inline
// `<tls-auth>` config block can supply.
func ParseStaticKey(data []byte) (*StaticKey, error) {
	raw, err := decodeKeyMaterial(data)
	if err != nil {
		return nil, err
	}
	if len(raw) != StaticKeySize {
		return nil, fmt.Errorf("%w: got %d", ErrStaticKeySize, len(raw))
	}
	sk := &StaticKey{}
	for i := 0; i < 4; i++ {
		copy(sk.blocks[i][:], raw[i*keyBlockSize:(i+1)*keyBlockSize])
	}
	return sk, nil
}

func decodeKeyMaterial(data []byte) ([]byte, error) {
	if len(data) == StaticKeySize {
		return data, nil
	}

	s := string(data)
	if strings.Contains(s, "BEGIN OpenVPN Static key") {
		var hexLines []string
		sc := bufio.NewScanner(bytes.NewReader(data))
		inBlock := false
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			switch {
			case strings.HasPrefix(line, "-----BEGIN"):
				inBlock = true
			case strings.HasPrefix(line, "-----END"):
				inBlock = false
			case inBlock && line != "":
				hexLines = append(hexLines, line)
			}
		}
		decoded, err := hex.DecodeString(strings.Join(hexLines, ""))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrStaticKeyFormat, err)
		}
		return decoded, nil
	}

	if decoded, err := hex.DecodeString(strings.TrimSpace(s)); err == nil {
		return decoded, nil
	}
	return nil, ErrStaticKeyFormat
}

// SendHMACKey returns the HMAC key this endpoint must sign outgoing
// control packets with, given an OpenVPN `--key-direction` value (0, 1,
// or [github.com/vpncore/protoengine/internal/model.KeyDirectionBidirectional]).
// Direction 0 and the bidirectional default both sign with the first
// HMAC block; direction 1 swaps to the second, so the two ends of a
// tls-auth pair always sign with what the other verifies against.
func (sk *StaticKey) SendHMACKey(keyDirection int) []byte {
	if keyDirection == 1 {
		return sk.blocks[3][:]
	}
	return sk.blocks[1][:]
}

// RecvHMACKey returns the HMAC key this endpoint must verify incoming
// control packets against. See [StaticKey.SendHMACKey].
func (sk *StaticKey) RecvHMACKey(keyDirection int) []byte {
	if keyDirection == 1 {
		return sk.blocks[1][:]
	}
	if keyDirection == 0 {
		return sk.blocks[3][:]
	}
	// bidirectional: both ends sign and verify with the same block.
	return sk.blocks[1][:]
}
