package datachannel

//
// Functions for encoding & encrypting outgoing data-channel packets.
//

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vpncore/protoengine/internal/bytesx"
	"github.com/vpncore/protoengine/internal/model"
)

// EncryptData frames, pads/compresses and encrypts plaintext application
// data into a ready-to-send P_DATA_V2 packet. opt controls compression
// framing; it never negotiates a real compression algorithm, only the
// deprecated stub/lzo-no byte markers OpenVPN 2.5.x peers still send.
func (c *Crypto) EncryptData(plaintext []byte, opt *model.OpenVPNOptions) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, "empty plaintext")
	}
	if !c.Ready() {
		return nil, errNotReady
	}

	var out []byte
	var err error
	if c.cipher.isAEAD() {
		// AEAD ciphers need no packet-id-in-plaintext framing (the packet
		// id travels in the cleartext header instead) and no padding.
		compressed, cerr := doCompress(plaintext, opt.Compress)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, cerr.Error())
		}
		out, err = c.encryptAEAD(compressed)
	} else {
		// non-AEAD ciphers carry the packet id inside the encrypted
		// plaintext, ahead of compression framing and PKCS7 padding.
		localPacketID, perr := c.nextLocalPacketID()
		if perr != nil {
			return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, perr.Error())
		}
		withID := prependPacketID(localPacketID, plaintext)
		compressed, cerr := doCompress(withID, opt.Compress)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, cerr.Error())
		}
		padded, perr2 := doPadding(compressed, opt.Compress, c.cipher.blockSize())
		if perr2 != nil {
			return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, perr2.Error())
		}
		out, err = c.encryptNonAEAD(padded)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.meter.addEncrypted(len(plaintext))
	c.mu.Unlock()
	return out, nil
}

// encryptAEAD performs encryption and encoding of the payload in AEAD
// modes (AES-GCM, ChaCha20-Poly1305).
func (c *Crypto) encryptAEAD(padded []byte) ([]byte, error) {
	nextPacketID, err := c.nextLocalPacketID()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCannotEncrypt, "bad packet id")
	}

	// in AEAD mode, we authenticate:
	// - 1 byte: opcode/key
	// - 3 bytes: peer-id (we're using P_DATA_V2)
	// - 4 bytes: packet-id
	aead := &bytes.Buffer{}
	aead.WriteByte(c.opcodeAndKeyHeader())
	bytesx.WriteUint24(aead, c.peerID)
	bytesx.WriteUint32(aead, uint32(nextPacketID))

	// the iv is the packetID (again) concatenated with the 8 bytes of the
	// key derived for local hmac (which we do not use for anything else in
	// AEAD mode).
	iv := &bytes.Buffer{}
	bytesx.WriteUint32(iv, uint32(nextPacketID))
	iv.Write(c.hmacKeyLocal[:8])

	data := &plaintextData{
		iv:        iv.Bytes(),
		plaintext: padded,
		aead:      aead.Bytes(),
	}

	encrypted, err := c.cipher.encrypt(c.cipherKeyLocal[:], data)
	if err != nil {
		return nil, err
	}

	// some reordering, because openvpn uses tag | payload
	boundary := len(encrypted) - 16
	tag := encrypted[boundary:]
	ciphertext := encrypted[:boundary]

	out := &bytes.Buffer{}
	out.Write(data.aead) // opcode|peer-id|packet_id
	out.Write(tag)
	out.Write(ciphertext)
	return out.Bytes(), nil
}

// assign the random function to allow using a deterministic one in tests.
var genRandomFn = bytesx.GenRandomBytes

// encryptNonAEAD performs encryption and encoding of the payload in
// non-AEAD modes (AES-CBC plus HMAC).
func (c *Crypto) encryptNonAEAD(padded []byte) ([]byte, error) {
	// For iv generation, OpenVPN uses a nonce-based PRNG that is initially
	// seeded with OpenSSL's RAND_bytes function. We rely on crypto/rand,
	// which is good enough for our purposes.
	blockSize := c.cipher.blockSize()

	iv, err := genRandomFn(int(blockSize))
	if err != nil {
		return nil, err
	}
	data := &plaintextData{
		iv:        iv,
		plaintext: padded,
		aead:      nil,
	}

	ciphertext, err := c.cipher.encrypt(c.cipherKeyLocal[:], data)
	if err != nil {
		return nil, err
	}

	c.hmacLocal.Reset()
	c.hmacLocal.Write(iv)
	c.hmacLocal.Write(ciphertext)
	computedMAC := c.hmacLocal.Sum(nil)

	out := &bytes.Buffer{}
	out.WriteByte(c.opcodeAndKeyHeader())
	bytesx.WriteUint24(out, c.peerID)
	out.Write(computedMAC)
	out.Write(iv)
	out.Write(ciphertext)
	return out.Bytes(), nil
}

// doCompress adds compression bytes if needed by the passed compression
// options. If the compression stub is on, it sends the first byte to the
// last position, and it adds the compression preamble, according to the
// spec. compression lzo-no also adds a preamble. It returns a byte array
// and an error if the operation could not be completed.
func doCompress(b []byte, compress model.Compression) ([]byte, error) {
	switch compress {
	case "stub":
		// compression stub: send first byte to last
		// and add 0xfb marker on the first byte.
		b = append(b, b[0])
		b[0] = 0xfb
	case "lzo-no":
		// old "comp-lzo no" option
		b = append([]byte{0xfa}, b...)
	}
	return b, nil
}

var errPadding = errors.New("padding error")

// doPadding does pkcs7 padding of the encryption payloads as needed. If
// we're using the compression stub the padding is applied without taking
// the trailing bit into account. It returns the resulting byte array, and
// an error if the operation could not be completed.
func doPadding(b []byte, compress model.Compression, blockSize uint8) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s", errPadding, "nothing to pad")
	}
	if compress == "stub" {
		// if we're using the compression stub we need to account for a
		// trailing byte that we appended in the doCompress stage.
		endByte := b[len(b)-1]
		padded, err := bytesx.BytesPadPKCS7(b[:len(b)-1], int(blockSize))
		if err != nil {
			return nil, err
		}
		padded[len(padded)-1] = endByte
		return padded, nil
	}
	padded, err := bytesx.BytesPadPKCS7(b, int(blockSize))
	if err != nil {
		return nil, err
	}
	return padded, nil
}

// prependPacketID returns the original buffer with the passed packetID
// concatenated at the beginning.
func prependPacketID(p model.PacketID, buf []byte) []byte {
	newbuf := &bytes.Buffer{}
	packetID := make([]byte, 4)
	binary.BigEndian.PutUint32(packetID, uint32(p))
	newbuf.Write(packetID[:])
	newbuf.Write(buf)
	return newbuf.Bytes()
}
