package datachannel

//
// Functions for decoding & decrypting incoming data-channel packets.
//

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vpncore/protoengine/internal/bytesx"
	"github.com/vpncore/protoengine/internal/model"
	"github.com/vpncore/protoengine/internal/runtimex"
)

// DecryptData reverses EncryptData: it verifies/decrypts wire, an already
// opcode-stripped P_DATA_V2 payload (everything after the 4-byte op32
// header), and returns the application plaintext, stripped of any
// compression framing. Keepalive and explicit-exit-notify control messages
// are returned unstripped; callers distinguish them with
// [IsKeepaliveMessage] and [IsExplicitExitNotifyMessage].
func (c *Crypto) DecryptData(wire []byte, opt *model.OpenVPNOptions) ([]byte, error) {
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCannotDecrypt, "empty payload")
	}
	if !c.Ready() {
		return nil, errNotReady
	}

	var encrypted *encryptedData
	var err error
	if c.cipher.isAEAD() {
		encrypted, err = c.decodeAEAD(wire)
	} else {
		encrypted, err = c.decodeNonAEAD(wire)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCannotDecrypt, err.Error())
	}

	plaintext, err := c.cipher.decrypt(c.cipherKeyRemote[:], encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCannotDecrypt, err.Error())
	}

	c.mu.Lock()
	c.meter.addDecrypted(len(plaintext))
	c.mu.Unlock()

	return maybeDecompress(plaintext, c, opt)
}

// decodeAEAD reconstructs the (iv, ciphertext, aead) triple for AEAD modes.
//
//	P_DATA_V2 GCM data channel crypto format
//	48000001 00000005 7e7046bd 444a7e28 cc6387b1 64a4d6c1 380275a...
//	[ OP32 ] [seq # ] [             auth tag            ] [ payload ... ]
//	- means authenticated -    * means encrypted *
//	[ - opcode/peer-id - ] [ - packet ID - ] [ TAG ] [ * packet payload * ]
func (c *Crypto) decodeAEAD(buf []byte) (*encryptedData, error) {
	if len(buf) < 20 {
		return nil, fmt.Errorf("%w: %d bytes", errTooShort, len(buf))
	}
	if len(c.hmacKeyRemote) < 8 {
		return nil, fmt.Errorf("bad remote hmac")
	}
	remoteHMAC := c.hmacKeyRemote[:8]
	packetID := buf[:4]

	headers := &bytes.Buffer{}
	headers.WriteByte(c.opcodeAndKeyHeader())
	bytesx.WriteUint24(headers, c.peerID)
	headers.Write(packetID)

	// we need to swap because decryption expects payload|tag
	// but we've got tag | payload instead
	payload := &bytes.Buffer{}
	payload.Write(buf[20:])  // ciphertext
	payload.Write(buf[4:20]) // tag

	// iv := packetID | remoteHMAC
	iv := &bytes.Buffer{}
	iv.Write(packetID)
	iv.Write(remoteHMAC)

	return &encryptedData{
		iv:         iv.Bytes(),
		ciphertext: payload.Bytes(),
		aead:       headers.Bytes(),
	}, nil
}

var errCannotDecode = errors.New("cannot decode")

func (c *Crypto) decodeNonAEAD(buf []byte) (*encryptedData, error) {
	runtimex.Assert(c.cipher != nil, "data cipher not initialized")

	hashSize := uint8(c.hmacRemote.Size())
	blockSize := c.cipher.blockSize()

	minLen := hashSize + blockSize
	if len(buf) < int(minLen) {
		return nil, fmt.Errorf("%w: %w (%d bytes)", errCannotDecode, errTooShort, len(buf))
	}

	receivedHMAC := buf[:hashSize]
	iv := buf[hashSize : hashSize+blockSize]
	cipherText := buf[hashSize+blockSize:]

	c.hmacRemote.Reset()
	c.hmacRemote.Write(iv)
	c.hmacRemote.Write(cipherText)
	computedHMAC := c.hmacRemote.Sum(nil)

	if !hmac.Equal(computedHMAC, receivedHMAC) {
		return nil, fmt.Errorf("%s: %w", "hmac mismatch", errBadHMAC)
	}

	return &encryptedData{
		iv:         iv,
		ciphertext: cipherText,
		aead:       []byte{}, // no AEAD data in this mode
	}, nil
}

// maybeDecompress de-serializes the data from the payload according to the
// framing given by different compression methods. Only the different
// no-compression modes are supported, so no real decompression is done; it
// only undoes the compression *framing* legacy peers still send. For
// non-AEAD ciphers it also strips the packet id prepended to the plaintext
// and checks it against the last known remote packet id as a minimal
// replay guard at the data-channel layer (the real replay window lives in
// [internal/replay]; this only protects against packet-id reuse within a
// single key).
func maybeDecompress(b []byte, c *Crypto, opt *model.OpenVPNOptions) ([]byte, error) {
	if c == nil || c.cipher == nil {
		return nil, fmt.Errorf("%w:%s", errBadInput, "bad state")
	}
	if opt == nil {
		return nil, fmt.Errorf("%w:%s", errBadInput, "bad options")
	}

	var compr byte // compression type
	var payload []byte

	switch c.cipher.isAEAD() {
	case true:
		switch opt.Compress {
		case model.CompressionStub, model.CompressionLZONo:
			// these are deprecated in openvpn 2.5.x
			compr = b[0]
			payload = b[1:]
		default:
			compr = 0x00
			payload = b[:]
		}
	default: // non-aead
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: %s", errBadInput, "too short for packet id")
		}
		remotePacketID := model.PacketID(binary.BigEndian.Uint32(b[:4]))
		lastKnownRemote, err := c.RemotePacketID()
		if err != nil {
			return nil, err
		}
		if c.haveRemote && remotePacketID <= lastKnownRemote {
			return nil, errReplayAttack
		}
		c.SetRemotePacketID(remotePacketID)

		switch opt.Compress {
		case model.CompressionStub, model.CompressionLZONo:
			compr = b[4]
			payload = b[5:]
		default:
			compr = 0x00
			payload = b[4:]
		}
	}

	switch compr {
	case 0xfb:
		// compression stub swap: we get the last byte and replace the
		// compression byte. deprecated in openvpn 2.5.x.
		end := payload[len(payload)-1]
		rest := payload[:len(payload)-1]
		payload = append([]byte{end}, rest...)
	case 0x00, 0xfa:
		// do nothing: 0x00 is compress-no, 0xfa is the old "comp-lzo no"
		// preamble. see https://community.openvpn.net/openvpn/ticket/952#comment:5
	default:
		return nil, fmt.Errorf("%w:%x", errBadCompression, compr)
	}
	return payload, nil
}
