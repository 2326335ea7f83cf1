package session

//
// Encoding and parsing of the auth-payload exchanged over the TLS
// connection once the control-channel handshake completes (spec §4.4):
// a short record carrying TLS-PRF randomness, the negotiated options
// string, and — in the client-to-server direction only — credentials
// and peer-info capabilities.
//

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/vpncore/protoengine/internal/bytesx"
	"github.com/vpncore/protoengine/internal/model"
)

// authPrefix is the 5-byte tag that opens every auth-payload record:
// four zero bytes (historically a packet-id placeholder that key
// method 2 never uses) followed by the key-method byte itself (2 is
// the only method this engine, or any current OpenVPN release,
// speaks).
var authPrefix = []byte{0x00, 0x00, 0x00, 0x00, 0x02}

// ivVer/ivProto/ivNCP are the peer-info capability values this engine
// always advertises (spec §6); IV_PROTO=2 and IV_NCP=2 tell the peer
// it may use P_DATA_V2 and the modern cipher-negotiation options
// string respectively.
const (
	ivVer   = "2.6.0"
	ivProto = "2"
	ivNCP   = "2"
)

var (
	// ErrAuthMessageTooShort indicates a record was too short to carry
	// even the fixed-size prefix and randomness fields.
	ErrAuthMessageTooShort = errors.New("openvpn: auth-payload message too short")

	// ErrBadAuthPrefix indicates the record's auth_prefix didn't match
	// {0,0,0,0,2}.
	ErrBadAuthPrefix = errors.New("openvpn: bad auth-payload prefix")

	// ErrBadAuthMessage indicates a record's variable-length fields
	// could not be parsed.
	ErrBadAuthMessage = errors.New("openvpn: cannot parse auth-payload message")
)

// EncodeAuthRequest builds the client-to-server auth-payload record:
// `auth_prefix | tlsprf_random(self) | auth_string(options) |
// auth_string(user) | auth_string(pass) | auth_string(peer_info)`.
func EncodeAuthRequest(local *KeySource, o *model.OpenVPNOptions) ([]byte, error) {
	opt, err := bytesx.EncodeOptionStringToBytes(o.ServerOptionsString())
	if err != nil {
		return nil, err
	}
	user, err := bytesx.EncodeOptionStringToBytes(o.Username)
	if err != nil {
		return nil, err
	}
	pass, err := bytesx.EncodeOptionStringToBytes(o.Password)
	if err != nil {
		return nil, err
	}
	peerInfo, err := bytesx.EncodeOptionStringToBytes(peerInfoString(o))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(authPrefix)
	out.Write(local.Bytes()) // pre_master||random1||random2: only the client sends a premaster
	out.Write(opt)
	out.Write(user)
	out.Write(pass)
	out.Write(peerInfo)
	return out.Bytes(), nil
}

// peerInfoString renders the newline-delimited `KEY=VALUE\n` peer-info
// block spec §6 requires (IV_VER, IV_PLAT, IV_PROTO, IV_NCP), plus any
// additional capability keys the host populated in o.PeerInfo.
func peerInfoString(o *model.OpenVPNOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IV_VER=%s\n", ivVer)
	fmt.Fprintf(&b, "IV_PLAT=%s\n", platformName())
	fmt.Fprintf(&b, "IV_PROTO=%s\n", ivProto)
	fmt.Fprintf(&b, "IV_NCP=%s\n", ivNCP)
	for k, v := range o.PeerInfo {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return b.String()
}

// platformName maps the Go runtime's GOOS to the IV_PLAT token OpenVPN
// peers expect (win/linux/mac/... rather than windows/darwin).
func platformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "windows":
		return "win"
	default:
		return runtime.GOOS
	}
}

// EncodeAuthReply builds the server-to-client auth-payload record:
// `auth_prefix | tlsprf_random(self) | auth_string(options)`, with no
// credentials or peer-info (only the client side sends those).
func EncodeAuthReply(local *KeySource, o *model.OpenVPNOptions) ([]byte, error) {
	opt, err := bytesx.EncodeOptionStringToBytes(o.ServerOptionsString())
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.Write(authPrefix)
	out.Write(local.RandomBytes()) // random1||random2 only: the server never sends a premaster
	out.Write(opt)
	return out.Bytes(), nil
}

// ParseAuthReply parses a server-to-client auth-payload record,
// returning the server's [KeySource] randomness (its PreMaster is
// always empty: key method 2 never sends one peer's premaster to the
// other) and the raw server options string.
func ParseAuthReply(data []byte) (*KeySource, string, error) {
	_, random1, random2, rest, err := parseAuthHeader(data, false)
	if err != nil {
		return nil, "", err
	}
	options, err := bytesx.DecodeOptionStringFromBytes(rest)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad options string", ErrBadAuthMessage)
	}
	return &KeySource{R1: random1, R2: random2}, options, nil
}

// ParseAuthRequest parses a client-to-server auth-payload record,
// returning the client's [KeySource] (including its PreMaster, which
// only the client ever sends), the raw options string, the client's
// username/password (empty when certificate-only authentication is in
// use), and its peer-info block.
func ParseAuthRequest(data []byte) (ks *KeySource, options, username, password, peerInfo string, err error) {
	preMaster, random1, random2, rest, err := parseAuthHeader(data, true)
	if err != nil {
		return nil, "", "", "", "", err
	}
	fields := [4]string{}
	for i := range fields {
		s, n, derr := decodeOneOptionString(rest)
		if derr != nil {
			return nil, "", "", "", "", fmt.Errorf("%w: %s", ErrBadAuthMessage, derr)
		}
		fields[i] = s
		rest = rest[n:]
	}
	ks = &KeySource{R1: random1, R2: random2, PreMaster: preMaster}
	return ks, fields[0], fields[1], fields[2], fields[3], nil
}

// parseAuthHeader validates the auth_prefix and splits off the random
// fields every auth-payload record carries. withPreMaster selects
// whether a 48-byte premaster field precedes random1||random2, which
// only the client-to-server direction sends; preMaster is the zero
// value when withPreMaster is false.
func parseAuthHeader(data []byte, withPreMaster bool) (preMaster [48]byte, r1, r2 [32]byte, rest []byte, err error) {
	randomLen := 48
	if !withPreMaster {
		randomLen = 0
	}
	headerLen := len(authPrefix) + randomLen + 32 + 32
	if len(data) < headerLen {
		return preMaster, r1, r2, nil, ErrAuthMessageTooShort
	}
	if !bytes.Equal(data[:len(authPrefix)], authPrefix) {
		return preMaster, r1, r2, nil, ErrBadAuthPrefix
	}
	off := len(authPrefix)
	if withPreMaster {
		copy(preMaster[:], data[off:off+48])
		off += 48
	}
	copy(r1[:], data[off:off+32])
	off += 32
	copy(r2[:], data[off:off+32])
	off += 32
	return preMaster, r1, r2, data[headerLen:], nil
}

// decodeOneOptionString decodes a single length-prefixed option string
// from the front of buf and reports how many bytes it consumed,
// tolerating a short/absent trailing field (credentials and peer-info
// are optional on older peers).
func decodeOneOptionString(buf []byte) (string, int, error) {
	if len(buf) == 0 {
		return "", 0, nil
	}
	s, err := bytesx.DecodeOptionStringFromBytes(buf)
	if err != nil {
		return "", 0, err
	}
	// The two-byte length prefix counts the string plus its trailing
	// \0, and sits in front of those bytes, so the record as a whole
	// occupies 2+len(s)+1 bytes.
	return s, len(s) + 3, nil
}

// ParsePeerInfo parses a newline-delimited `KEY=VALUE\n` peer-info
// block into a map.
func ParsePeerInfo(s string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// ParsePeerID extracts the `peer-id` pushed option, if present, as an
// int; returns -1 when absent or malformed.
func ParsePeerID(opts map[string][]string) int {
	v, ok := opts["peer-id"]
	if !ok || len(v) != 1 {
		return -1
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return -1
	}
	return n
}
