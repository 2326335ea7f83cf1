package datachannel

//
// Code to perform encryption, decryption and key derivation.
//

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"log"
	"strings"

	"github.com/vpncore/protoengine/internal/bytesx"
	"golang.org/x/crypto/chacha20poly1305"
) //#nosec G501,G505
//  We know that sha1 is insecure, but we do not control the openvpn protocol.

type (
	// cipherMode describes a cipher mode (e.g., GCM).
	cipherMode string

	// cipherName is a cipher name (e.g., AES).
	cipherName string
)

const (
	// cipherModeCBC is the CBC cipher mode.
	cipherModeCBC = cipherMode("cbc")

	// cipherModeGCM is the GCM cipher mode.
	cipherModeGCM = cipherMode("gcm")

	// cipherModeChachaPoly is the ChaCha20-Poly1305 AEAD mode.
	cipherModeChachaPoly = cipherMode("chacha20poly1305")

	// cipherNameAES is an AES-based cipher.
	cipherNameAES = cipherName("aes")

	// cipherNameChacha20Poly1305 is the ChaCha20-Poly1305 AEAD cipher.
	cipherNameChacha20Poly1305 = cipherName("chacha20poly1305")
)

// encrypteData holds the different parts needed to decrypt an encrypted data
// packet.
type encryptedData struct {
	iv         []byte
	ciphertext []byte
	aead       []byte
}

// plaintextData holds the different parts needed to encrypt a plaintext
// payload (after padding).
type plaintextData struct {
	iv        []byte
	plaintext []byte
	aead      []byte
}

// dataCipher encrypts and decrypts OpenVPN data.
type dataCipher interface {
	// keySizeBytes returns the key size (in bytes).
	keySizeBytes() int

	// isAEAD returns whether this cipher has AEAD properties.
	isAEAD() bool

	// blockSize returns the expected block size.
	blockSize() uint8

	// encrypt encripts a plaintext.
	//
	// Arguments:
	//
	// - key is the key, whose size must be consistent with the cipher;
	//
	// - plaintextData is the data to be encrypted;
	//
	// Returns the ciphertext on success and an error on failure.
	encrypt([]byte, *plaintextData) ([]byte, error)

	// decrypt is the opposite operation of encrypt. It takes in input the
	// ciphertext and returns the plaintext of an error.
	decrypt([]byte, *encryptedData) ([]byte, error)

	// mode returns the cipherMode
	cipherMode() cipherMode
}

// dataCipherAES implements dataCipher for AES.
type dataCipherAES struct {
	// ksb is the key size in bytes
	ksb int

	// mode is the cipher mode
	mode cipherMode
}

var _ dataCipher = &dataCipherAES{} // Ensure we implement dataCipher

// keySizeBytes implements dataCipher.keySizeBytes
func (a *dataCipherAES) keySizeBytes() int {
	return a.ksb
}

// isAEAD implements dataCipher.isAEAD
func (a *dataCipherAES) isAEAD() bool {
	return a.mode != cipherModeCBC
}

// blockSize implements dataCipher.BlockSize
func (a *dataCipherAES) blockSize() uint8 {
	switch a.mode {
	case cipherModeCBC, cipherModeGCM:
		return 16
	default:
		return 0
	}
}

// decrypt implements dataCipher.decrypt.
// Since key comes from a prf derivation, we only take as many bytes as we need to match
// our key size.
func (a *dataCipherAES) decrypt(key []byte, data *encryptedData) ([]byte, error) {
	if len(key) < a.keySizeBytes() {
		return nil, errInvalidKeySize
	}

	// they key material might be longer
	k := key[:a.keySizeBytes()]
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	switch a.mode {
	case cipherModeCBC:
		if len(data.iv) != block.BlockSize() {
			return nil, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotDecrypt, len(data.iv))
		}
		mode := cipher.NewCBCDecrypter(block, data.iv)
		plaintext := make([]byte, len(data.ciphertext))
		mode.CryptBlocks(plaintext, data.ciphertext)
		plaintext, err := bytesx.BytesUnpadPKCS7(plaintext, block.BlockSize())
		if err != nil {
			return nil, err
		}
		padLen := len(data.ciphertext) - len(plaintext)
		if padLen > block.BlockSize() || padLen > len(plaintext) {
			return nil, errors.New("unpadding error")
		}
		return plaintext, nil

	case cipherModeGCM:
		// standard nonce size is 12. more is surely ok, but let's stick to it.
		// https://github.com/golang/go/blob/master/src/crypto/aes/aes_gcm.go#L37
		if len(data.iv) != 12 {
			return nil, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotDecrypt, len(data.iv))
		}
		aesGCM, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}

		plaintext, err := aesGCM.Open(nil, data.iv, data.ciphertext, data.aead)
		if err != nil {
			log.Println("gdm decryption failed:", err.Error())
			/*
				log.Println("dump begins----")
				log.Println("len:", len(data.ciphertext))
				log.Println("iv:", data.iv)
				log.Printf("%v\n", data.ciphertext)
				log.Printf("%x\n", data.ciphertext)
				log.Printf("aead: %x\n", data.aead)
				log.Println("dump ends------")
			*/
			return nil, err
		}
		return plaintext, nil

	default:
		return nil, errUnsupportedMode
	}
}

func (a *dataCipherAES) cipherMode() cipherMode {
	return a.mode
}

// encrypt implements dataCipher.encrypt
// Since key comes from a prf derivation, we only take as many bytes as we need to match
// our key size.
func (a *dataCipherAES) encrypt(key []byte, data *plaintextData) ([]byte, error) {
	if len(key) < a.keySizeBytes() {
		return nil, errInvalidKeySize
	}
	k := key[:a.keySizeBytes()]
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	blockSize := block.BlockSize()
	switch a.mode {
	case cipherModeCBC:
		if len(data.iv) != blockSize {
			return []byte{}, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotEncrypt, len(data.iv))
		}
		if len(data.plaintext)%blockSize != 0 {
			return []byte{}, fmt.Errorf("%w: wrong padding", ErrCannotEncrypt)
		}
		mode := cipher.NewCBCEncrypter(block, data.iv)

		ciphertext := make([]byte, len(data.plaintext))
		mode.CryptBlocks(ciphertext, data.plaintext)
		return ciphertext, nil

	case cipherModeGCM:
		if len(data.iv) != 12 {
			return []byte{}, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotEncrypt, len(data.iv))
		}
		aesGCM, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		// In GCM mode, the IV consists of the 32-bit packet counter
		// followed by data from the HMAC key. The HMAC key can be used
		// as IV, since in GCM mode the HMAC key is not used for the
		// HMAC. The packet counter may not roll over within a single
		// TLS session. This results in a unique IV for each packet, as
		// required by GCM.
		ciphertext := aesGCM.Seal(nil, data.iv, data.plaintext, data.aead)
		return ciphertext, nil

	default:
		return nil, errUnsupportedMode
	}
}

// newDataCipherFromCipherSuite constructs a new dataCipher from the cipher suite string.
func newDataCipherFromCipherSuite(c string) (dataCipher, error) {
	switch c {
	case "AES-128-CBC":
		return newDataCipher(cipherNameAES, 128, cipherModeCBC)
	case "AES-192-CBC":
		return newDataCipher(cipherNameAES, 192, cipherModeCBC)
	case "AES-256-CBC":
		return newDataCipher(cipherNameAES, 256, cipherModeCBC)
	case "AES-128-GCM":
		return newDataCipher(cipherNameAES, 128, cipherModeGCM)
	case "AES-256-GCM":
		return newDataCipher(cipherNameAES, 256, cipherModeGCM)
	case "CHACHA20-POLY1305":
		return newDataCipher(cipherNameChacha20Poly1305, 256, cipherModeChachaPoly)
	default:
		return nil, errUnsupportedCipher
	}
}

// newDataCipher constructs a new dataCipher from the given name, bits, and mode.
func newDataCipher(name cipherName, bits int, mode cipherMode) (dataCipher, error) {
	if bits%8 != 0 || bits > 512 || bits < 64 {
		return nil, fmt.Errorf("%w: %d", errInvalidKeySize, bits)
	}
	switch name {
	case cipherNameChacha20Poly1305:
		if mode != cipherModeChachaPoly {
			return nil, fmt.Errorf("%w: %s", errUnsupportedMode, mode)
		}
		return &dataCipherChaCha20Poly1305{}, nil
	case cipherNameAES:
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedCipher, name)
	}
	switch mode {
	case cipherModeCBC, cipherModeGCM:
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedMode, mode)
	}
	dc := &dataCipherAES{
		ksb:  bits / 8,
		mode: mode,
	}
	return dc, nil
}

// dataCipherChaCha20Poly1305 implements dataCipher for ChaCha20-Poly1305,
// the AEAD cipher OpenVPN 2.5+ negotiates via NCP when available.
type dataCipherChaCha20Poly1305 struct{}

var _ dataCipher = &dataCipherChaCha20Poly1305{}

func (c *dataCipherChaCha20Poly1305) keySizeBytes() int { return chacha20poly1305.KeySize }

func (c *dataCipherChaCha20Poly1305) isAEAD() bool { return true }

// blockSize has no cryptographic meaning for a stream AEAD; we report the
// same 16-byte figure the teacher's AES path uses. It feeds
// doPadding/doCompress sizing logic, which is unreachable for AEAD ciphers,
// and newDataLimitMeter, where a 16-byte block keeps the meter inactive.
func (c *dataCipherChaCha20Poly1305) blockSize() uint8 { return 16 }

func (c *dataCipherChaCha20Poly1305) cipherMode() cipherMode { return cipherModeChachaPoly }

func (c *dataCipherChaCha20Poly1305) encrypt(key []byte, data *plaintextData) ([]byte, error) {
	if len(key) < c.keySizeBytes() {
		return nil, errInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key[:c.keySizeBytes()])
	if err != nil {
		return nil, err
	}
	if len(data.iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotEncrypt, len(data.iv))
	}
	return aead.Seal(nil, data.iv, data.plaintext, data.aead), nil
}

func (c *dataCipherChaCha20Poly1305) decrypt(key []byte, data *encryptedData) ([]byte, error) {
	if len(key) < c.keySizeBytes() {
		return nil, errInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key[:c.keySizeBytes()])
	if err != nil {
		return nil, err
	}
	if len(data.iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: wrong size for iv: %v", ErrCannotDecrypt, len(data.iv))
	}
	plaintext, err := aead.Open(nil, data.iv, data.ciphertext, data.aead)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// newHMACFactory accepts a label coming from an OpenVPN auth label, and returns two
// values: a function that will return a Hash implementation, and a boolean
// indicating if the operation was successful.
func newHMACFactory(name string) (func() hash.Hash, bool) {
	switch strings.ToLower(name) {
	case "sha1":
		return sha1.New, true
	case "sha256":
		return sha256.New, true
	case "sha512":
		return sha512.New, true
	default:
		return nil, false
	}
}

// the TLS-PRF key expansion (prf/prf10/pHash) that used to live here has
// moved to internal/session, since it derives session-scoped key material
// rather than anything cipher-specific.
