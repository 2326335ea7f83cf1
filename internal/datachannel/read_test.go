package datachannel

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/vpncore/protoengine/internal/model"
)

func Test_decodeAEAD(t *testing.T) {
	c := makeTestingCryptoAEAD()
	goodEncryptedPayload, _ := hex.DecodeString("00000000b3653a842f2b8a148de26375218fb01d31278ff328ff2fc65c4dbf9eb8e67766")
	goodDecodeIV, _ := hex.DecodeString("000000006868686868686868")
	goodDecodeCipherText, _ := hex.DecodeString("31278ff328ff2fc65c4dbf9eb8e67766b3653a842f2b8a148de26375218fb01d")
	goodDecodeAEAD, _ := hex.DecodeString("4800000000000000")

	tests := []struct {
		name    string
		buf     []byte
		want    *encryptedData
		wantErr error
	}{
		{"empty buffer should fail", []byte{}, nil, errTooShort},
		{"too short should fail", bytes.Repeat([]byte{0xff}, 19), nil, errTooShort},
		{
			"good decode should not fail",
			goodEncryptedPayload,
			&encryptedData{iv: goodDecodeIV, ciphertext: goodDecodeCipherText, aead: goodDecodeAEAD},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.decodeAEAD(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("decodeAEAD() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.want == nil {
				return
			}
			if !bytes.Equal(got.iv, tt.want.iv) || !bytes.Equal(got.ciphertext, tt.want.ciphertext) || !bytes.Equal(got.aead, tt.want.aead) {
				t.Errorf("decodeAEAD() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func Test_decodeNonAEAD(t *testing.T) {
	goodInput, _ := hex.DecodeString("fdf9b069b2e5a637fa7b5c9231166ea96307e4123031323334353637383930313233343581e4878c5eec602c2d2f5a95139c84af")
	iv, _ := hex.DecodeString("30313233343536373839303132333435")
	ciphertext, _ := hex.DecodeString("81e4878c5eec602c2d2f5a95139c84af")

	tests := []struct {
		name    string
		crypto  *Crypto
		buf     []byte
		want    *encryptedData
		wantErr error
	}{
		{
			name:    "empty buffer should fail",
			crypto:  makeTestingCryptoNonAEAD(),
			buf:     []byte{},
			wantErr: errCannotDecode,
		},
		{
			name:    "too short buffer should fail",
			crypto:  makeTestingCryptoNonAEAD(),
			buf:     bytes.Repeat([]byte{0xff}, 27),
			wantErr: errCannotDecode,
		},
		{
			name:   "good decode",
			crypto: makeTestingCryptoNonAEADReversed(),
			buf:    goodInput,
			want:   &encryptedData{iv: iv, ciphertext: ciphertext},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.crypto.decodeNonAEAD(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("decodeNonAEAD() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.want == nil {
				return
			}
			if !bytes.Equal(got.iv, tt.want.iv) {
				t.Errorf("decodeNonAEAD().iv = %x, want %x", got.iv, tt.want.iv)
			}
			if !bytes.Equal(got.ciphertext, tt.want.ciphertext) {
				t.Errorf("decodeNonAEAD().ciphertext = %x, want %x", got.ciphertext, tt.want.ciphertext)
			}
		})
	}
}

func Test_maybeDecompress(t *testing.T) {
	getCryptoForDecompressTestNonAEAD := func() *Crypto {
		c := makeTestingCryptoNonAEAD()
		c.SetRemotePacketID(model.PacketID(0x42))
		return c
	}

	tests := []struct {
		name    string
		b       []byte
		c       *Crypto
		opt     *model.OpenVPNOptions
		want    []byte
		wantErr error
	}{
		{
			name:    "nil crypto should fail",
			b:       []byte{},
			c:       nil,
			opt:     &model.OpenVPNOptions{},
			wantErr: errBadInput,
		},
		{
			name:    "nil options should fail",
			b:       []byte{},
			c:       makeTestingCryptoAEAD(),
			opt:     nil,
			wantErr: errBadInput,
		},
		{
			name: "aead cipher, no compression",
			b:    []byte{0xaa, 0xbb, 0xcc},
			c:    makeTestingCryptoAEAD(),
			opt:  &model.OpenVPNOptions{},
			want: []byte{0xaa, 0xbb, 0xcc},
		},
		{
			name: "aead cipher, no compr",
			b:    []byte{0xfa, 0xbb, 0xcc},
			c:    makeTestingCryptoAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "stub"},
			want: []byte{0xbb, 0xcc},
		},
		{
			name: "aead cipher, stub on options and stub on header",
			b:    []byte{0xfb, 0xbb, 0xcc, 0xdd},
			c:    makeTestingCryptoAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "stub"},
			want: []byte{0xdd, 0xbb, 0xcc},
		},
		{
			name:    "aead cipher, stub, unsupported compression",
			b:       []byte{0xff, 0xbb, 0xcc},
			c:       makeTestingCryptoAEAD(),
			opt:     &model.OpenVPNOptions{Compress: "stub"},
			wantErr: errBadCompression,
		},
		{
			name: "aead cipher, lzo-no",
			b:    []byte{0xfa, 0xbb, 0xcc},
			c:    makeTestingCryptoAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "lzo-no"},
			want: []byte{0xbb, 0xcc},
		},
		{
			name: "aead cipher, compress-no",
			b:    []byte{0x00, 0xbb, 0xcc},
			c:    makeTestingCryptoAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "no"},
			want: []byte{0x00, 0xbb, 0xcc},
		},
		{
			name: "non-aead cipher, stub",
			b:    []byte{0x00, 0x00, 0x00, 0x43, 0x00, 0xbb, 0xcc},
			c:    getCryptoForDecompressTestNonAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "stub"},
			want: []byte{0xbb, 0xcc},
		},
		{
			name:    "non-aead cipher, stub, unsupported compression byte should fail",
			b:       []byte{0x00, 0x00, 0x00, 0x43, 0x0ff, 0xbb, 0xcc},
			c:       getCryptoForDecompressTestNonAEAD(),
			opt:     &model.OpenVPNOptions{Compress: "stub"},
			wantErr: errBadCompression,
		},
		{
			name: "non-aead cipher, compress-no should not fail",
			b:    []byte{0x00, 0x00, 0x00, 0x43, 0x00, 0xbb, 0xcc},
			c:    getCryptoForDecompressTestNonAEAD(),
			opt:  &model.OpenVPNOptions{Compress: "no"},
			want: []byte{0x00, 0xbb, 0xcc},
		},
		{
			name:    "non-aead cipher, replay detected (equal remote packetID)",
			b:       []byte{0x00, 0x00, 0x00, 0x42, 0x00, 0xbb, 0xcc},
			c:       getCryptoForDecompressTestNonAEAD(),
			opt:     &model.OpenVPNOptions{Compress: "stub"},
			wantErr: errReplayAttack,
		},
		{
			name:    "non-aead cipher, replay detected (lesser remote packetID)",
			b:       []byte{0x00, 0x00, 0x00, 0x41, 0x00, 0xbb, 0xcc},
			c:       getCryptoForDecompressTestNonAEAD(),
			opt:     &model.OpenVPNOptions{Compress: "stub"},
			wantErr: errReplayAttack,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := maybeDecompress(tt.b, tt.c, tt.opt)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("maybeDecompress() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr == nil && !bytes.Equal(got, tt.want) {
				t.Errorf("maybeDecompress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_isKeepaliveMessage(t *testing.T) {
	if !isKeepaliveMessage(keepaliveMessage) {
		t.Errorf("expected the canonical keepalive message to be recognized")
	}
	if isKeepaliveMessage([]byte("not a keepalive")) {
		t.Errorf("did not expect arbitrary payload to be recognized as keepalive")
	}
}

func Test_isExplicitExitNotifyMessage(t *testing.T) {
	if !isExplicitExitNotifyMessage(explicitExitNotifyMessage) {
		t.Errorf("expected the canonical exit-notify message to be recognized")
	}
	if isExplicitExitNotifyMessage([]byte("not an exit notify")) {
		t.Errorf("did not expect arbitrary payload to be recognized as exit-notify")
	}
}

func Test_binaryPacketIDRoundtrip(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 0x43)
	if model.PacketID(binary.BigEndian.Uint32(buf)) != model.PacketID(0x43) {
		t.Errorf("packet id roundtrip failed")
	}
}
