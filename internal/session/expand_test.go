package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrf(t *testing.T) {
	secret := []byte("secret")
	label := []byte("master key")
	cSeed := []byte("aaa")
	sSeed := []byte("bbb")
	want := []byte{
		0x67, 0x18, 0x7c, 0x52, 0xac, 0xd2, 0x4d, 0x95,
		0x9a, 0x55, 0xd3, 0x1c, 0xdb, 0x97, 0x80, 0x11,
	}
	got := prf(secret, label, cSeed, sSeed, nil, nil, 16)
	if !bytes.Equal(got, want) {
		t.Errorf("prf() = %x, want %x", got, want)
	}
}

func Test_splitPreMasterSecret(t *testing.T) {
	secret := bytes.Repeat([]byte{0x01}, 48)
	s1, s2 := splitPreMasterSecret(secret)
	if len(s1) != 24 || len(s2) != 24 {
		t.Fatalf("splitPreMasterSecret() lengths = %d, %d, want 24, 24", len(s1), len(s2))
	}
}

func makeTestDataChannelKey(t *testing.T) *DataChannelKey {
	t.Helper()
	dck := &DataChannelKey{}
	local := &KeySource{}
	remote := &KeySource{}
	for i := range local.R1 {
		local.R1[i] = byte(i)
		local.R2[i] = byte(i + 1)
	}
	for i := range local.PreMaster {
		local.PreMaster[i] = byte(i + 2)
	}
	for i := range remote.R1 {
		remote.R1[i] = byte(255 - i)
		remote.R2[i] = byte(254 - i)
	}
	for i := range remote.PreMaster {
		remote.PreMaster[i] = byte(253 - i)
	}
	if err := dck.AddLocalKey(local); err != nil {
		t.Fatalf("AddLocalKey() error = %v", err)
	}
	if err := dck.AddRemoteKey(remote); err != nil {
		t.Fatalf("AddRemoteKey() error = %v", err)
	}
	return dck
}

func Test_Expand_notReady(t *testing.T) {
	dck := &DataChannelKey{}
	_, err := Expand(dck, [8]byte{}, [8]byte{}, DirectionNormal)
	if !errors.Is(err, errKeyNotReady) {
		t.Errorf("Expand() error = %v, wantErr %v", err, errKeyNotReady)
	}
}

func Test_Expand_directionSwapsBlocks(t *testing.T) {
	dck := makeTestDataChannelKey(t)
	localSID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	remoteSID := [8]byte{8, 7, 6, 5, 4, 3, 2, 1}

	normal, err := Expand(dck, localSID, remoteSID, DirectionNormal)
	if err != nil {
		t.Fatalf("Expand(Normal) error = %v", err)
	}
	// the peer's view of the same handshake: KeySources and session ids
	// swapped, expanded with DirectionInverse.
	mirrored := &DataChannelKey{}
	if err := mirrored.AddLocalKey(dck.Remote()); err != nil {
		t.Fatalf("AddLocalKey() error = %v", err)
	}
	if err := mirrored.AddRemoteKey(dck.Local()); err != nil {
		t.Fatalf("AddRemoteKey() error = %v", err)
	}
	inverse, err := Expand(mirrored, remoteSID, localSID, DirectionInverse)
	if err != nil {
		t.Fatalf("Expand(Inverse) error = %v", err)
	}

	if !bytes.Equal(normal.CipherLocal[:], inverse.CipherRemote[:]) {
		t.Errorf("normal.CipherLocal != inverse.CipherRemote")
	}
	if !bytes.Equal(normal.HMACLocal[:], inverse.HMACRemote[:]) {
		t.Errorf("normal.HMACLocal != inverse.HMACRemote")
	}
	if !bytes.Equal(normal.CipherRemote[:], inverse.CipherLocal[:]) {
		t.Errorf("normal.CipherRemote != inverse.CipherLocal")
	}
	if !bytes.Equal(normal.HMACRemote[:], inverse.HMACLocal[:]) {
		t.Errorf("normal.HMACRemote != inverse.HMACLocal")
	}

	// the four 64-byte blocks must be pairwise distinct: a degenerate PRF
	// that produced identical blocks would defeat the direction swap.
	if bytes.Equal(normal.CipherLocal[:], normal.HMACLocal[:]) {
		t.Errorf("CipherLocal and HMACLocal blocks must not collide")
	}
}

func Test_Expand_serverSidePreMasterRecoveredFromRemote(t *testing.T) {
	// The server's reply never carries a premaster (EncodeAuthReply sends
	// only random1||random2), so the premaster that matters is the
	// client's, which the server holds in its remote KeySource. Expand
	// must recover it and derive the same master secret as the client's
	// own view of the handshake, just with the blocks swapped via
	// DirectionInverse.
	clientSide := &DataChannelKey{}
	serverSide := &DataChannelKey{}

	clientLocal := &KeySource{}
	serverLocal := &KeySource{} // PreMaster left zero, as EncodeAuthReply produces
	for i := range clientLocal.R1 {
		clientLocal.R1[i] = byte(i)
		clientLocal.R2[i] = byte(i + 1)
		clientLocal.PreMaster[i%len(clientLocal.PreMaster)] = byte(i + 2)
	}
	for i := range serverLocal.R1 {
		serverLocal.R1[i] = byte(255 - i)
		serverLocal.R2[i] = byte(254 - i)
	}

	if err := clientSide.AddLocalKey(clientLocal); err != nil {
		t.Fatalf("AddLocalKey() error = %v", err)
	}
	if err := clientSide.AddRemoteKey(serverLocal); err != nil {
		t.Fatalf("AddRemoteKey() error = %v", err)
	}
	if err := serverSide.AddLocalKey(serverLocal); err != nil {
		t.Fatalf("AddLocalKey() error = %v", err)
	}
	if err := serverSide.AddRemoteKey(clientLocal); err != nil {
		t.Fatalf("AddRemoteKey() error = %v", err)
	}

	clientSID := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	serverSID := [8]byte{8, 7, 6, 5, 4, 3, 2, 1}

	fromClient, err := Expand(clientSide, clientSID, serverSID, DirectionNormal)
	if err != nil {
		t.Fatalf("Expand(client) error = %v", err)
	}
	fromServer, err := Expand(serverSide, serverSID, clientSID, DirectionInverse)
	if err != nil {
		t.Fatalf("Expand(server) error = %v", err)
	}

	if !bytes.Equal(fromClient.CipherLocal[:], fromServer.CipherRemote[:]) {
		t.Errorf("client CipherLocal != server CipherRemote")
	}
	if !bytes.Equal(fromClient.HMACLocal[:], fromServer.HMACRemote[:]) {
		t.Errorf("client HMACLocal != server HMACRemote")
	}
	if !bytes.Equal(fromClient.CipherRemote[:], fromServer.CipherLocal[:]) {
		t.Errorf("client CipherRemote != server CipherLocal")
	}
}

func Test_Expand_badDirection(t *testing.T) {
	dck := makeTestDataChannelKey(t)
	_, err := Expand(dck, [8]byte{}, [8]byte{}, Direction(99))
	if err == nil {
		t.Errorf("Expand() with bad direction should fail")
	}
}
