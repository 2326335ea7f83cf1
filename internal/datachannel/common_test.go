package datachannel

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"

	"github.com/vpncore/protoengine/internal/model"
)

func makeTestingOptions(cipher, auth string) *model.OpenVPNOptions {
	return &model.OpenVPNOptions{
		Cipher: cipher,
		Auth:   auth,
	}
}

func makeTestingCryptoAEAD() *Crypto {
	dc, _ := newDataCipher(cipherNameAES, 128, cipherModeGCM)
	return &Crypto{
		cipher:          dc,
		cipherKeyLocal:  *(*keySlot)(bytes.Repeat([]byte{0x65}, 64)),
		cipherKeyRemote: *(*keySlot)(bytes.Repeat([]byte{0x66}, 64)),
		hmacKeyLocal:    *(*keySlot)(bytes.Repeat([]byte{0x67}, 64)),
		hmacKeyRemote:   *(*keySlot)(bytes.Repeat([]byte{0x68}, 64)),
		meter:           newDataLimitMeter(dc.blockSize()),
		keyed:           true,
	}
}

// makeTestingCryptoAEADReversed swaps local/remote key slots, mimicking
// the peer's view of the same negotiated key pair.
func makeTestingCryptoAEADReversed() *Crypto {
	dc, _ := newDataCipher(cipherNameAES, 128, cipherModeGCM)
	return &Crypto{
		cipher:          dc,
		cipherKeyRemote: *(*keySlot)(bytes.Repeat([]byte{0x65}, 64)),
		cipherKeyLocal:  *(*keySlot)(bytes.Repeat([]byte{0x66}, 64)),
		hmacKeyRemote:   *(*keySlot)(bytes.Repeat([]byte{0x67}, 64)),
		hmacKeyLocal:    *(*keySlot)(bytes.Repeat([]byte{0x68}, 64)),
		meter:           newDataLimitMeter(dc.blockSize()),
		keyed:           true,
	}
}

func makeTestingCryptoNonAEAD() *Crypto {
	dc, _ := newDataCipher(cipherNameAES, 128, cipherModeCBC)
	c := &Crypto{
		cipher:          dc,
		hashFn:          sha1.New,
		cipherKeyLocal:  *(*keySlot)(bytes.Repeat([]byte{0x65}, 64)),
		cipherKeyRemote: *(*keySlot)(bytes.Repeat([]byte{0x66}, 64)),
		hmacKeyLocal:    *(*keySlot)(bytes.Repeat([]byte{0x67}, 64)),
		hmacKeyRemote:   *(*keySlot)(bytes.Repeat([]byte{0x68}, 64)),
		meter:           newDataLimitMeter(dc.blockSize()),
		keyed:           true,
	}
	c.hmacLocal = hmac.New(c.hashFn, c.hmacKeyLocal[:20])
	c.hmacRemote = hmac.New(c.hashFn, c.hmacKeyRemote[:20])
	return c
}

// makeTestingCryptoNonAEADReversed swaps local/remote key slots, mimicking
// the peer's view of the same negotiated key pair.
func makeTestingCryptoNonAEADReversed() *Crypto {
	dc, _ := newDataCipher(cipherNameAES, 128, cipherModeCBC)
	c := &Crypto{
		cipher:          dc,
		hashFn:          sha1.New,
		cipherKeyRemote: *(*keySlot)(bytes.Repeat([]byte{0x65}, 64)),
		cipherKeyLocal:  *(*keySlot)(bytes.Repeat([]byte{0x66}, 64)),
		hmacKeyRemote:   *(*keySlot)(bytes.Repeat([]byte{0x67}, 64)),
		hmacKeyLocal:    *(*keySlot)(bytes.Repeat([]byte{0x68}, 64)),
		meter:           newDataLimitMeter(dc.blockSize()),
		keyed:           true,
	}
	c.hmacLocal = hmac.New(c.hashFn, c.hmacKeyLocal[:20])
	c.hmacRemote = hmac.New(c.hashFn, c.hmacKeyRemote[:20])
	return c
}
