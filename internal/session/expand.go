package session

//
// TLS-PRF key expansion (OpenVPN key-method-2).
//

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
)

// Direction selects which half of the expanded key-expansion material is
// used for the local (encrypt) side versus the remote (decrypt) side. The
// control-channel initiator (the client) uses DirectionNormal; the
// responder (the server) uses DirectionInverse, since the client's encrypt
// key is the server's decrypt key and vice versa.
type Direction int

const (
	DirectionNormal Direction = iota
	DirectionInverse
)

// KeyMaterial holds the four 64-byte slots produced by expanding a
// [DataChannelKey], ready to be handed to a data-channel crypto context.
type KeyMaterial struct {
	CipherLocal  [64]byte
	HMACLocal    [64]byte
	CipherRemote [64]byte
	HMACRemote   [64]byte
}

var (
	labelMasterSecret = []byte("OpenVPN master secret")
	labelKeyExpansion = []byte("OpenVPN key expansion")

	// errKeyNotReady is returned when Expand is called on a key that has
	// not received both the local and the remote KeySource yet.
	errKeyNotReady = errors.New("data-channel key not ready")
)

// Expand derives the data-channel key material for dck following
// OpenVPN's key-method-2 procedure: a master secret is derived from the
// pre-master and R1 randomness of both sides, then expanded into four
// 64-byte blocks using R2 randomness and both control-channel session ids.
// localSID and remoteSID are this side's and the peer's 8-byte session
// ids, mixed in as additional PRF seed material.
func Expand(dck *DataChannelKey, localSID, remoteSID [8]byte, dir Direction) (*KeyMaterial, error) {
	if !dck.Ready() {
		return nil, errKeyNotReady
	}
	local := dck.Local()
	remote := dck.Remote()
	if local == nil || remote == nil {
		return nil, errKeyNotReady
	}

	// The PRF seeds are ordered client-then-server and the master secret
	// comes from the client's premaster. DirectionNormal is the client's
	// view (local holds the client's KeySource); DirectionInverse is the
	// server's view, where the client's KeySource is remote.
	client, server := local, remote
	clientSID, serverSID := localSID, remoteSID
	if dir == DirectionInverse {
		client, server = remote, local
		clientSID, serverSID = remoteSID, localSID
	}

	master := prf(
		client.PreMaster[:], labelMasterSecret,
		client.R1[:], server.R1[:],
		nil, nil,
		48,
	)

	expansion := prf(
		master, labelKeyExpansion,
		client.R2[:], server.R2[:],
		clientSID[:], serverSID[:],
		256,
	)

	var blocks [4][64]byte
	for i := 0; i < 4; i++ {
		copy(blocks[i][:], expansion[i*64:(i+1)*64])
	}

	km := &KeyMaterial{}
	switch dir {
	case DirectionNormal:
		km.CipherLocal, km.HMACLocal = blocks[0], blocks[1]
		km.CipherRemote, km.HMACRemote = blocks[2], blocks[3]
	case DirectionInverse:
		km.CipherLocal, km.HMACLocal = blocks[2], blocks[3]
		km.CipherRemote, km.HMACRemote = blocks[0], blocks[1]
	default:
		return nil, fmt.Errorf("session: bad key direction: %v", dir)
	}
	return km, nil
}

// prf derives master and key-expansion material from a secret and seed
// material, following OpenVPN's use of the TLS 1.0 PRF.
func prf(secret, label, clientSeed, serverSeed, clientSid, serverSid []byte, olen int) []byte {
	seed := make([]byte, 0, len(clientSeed)+len(serverSeed)+len(clientSid)+len(serverSid))
	seed = append(seed, clientSeed...)
	seed = append(seed, serverSeed...)
	if len(clientSid) != 0 {
		seed = append(seed, clientSid...)
	}
	if len(serverSid) != 0 {
		seed = append(seed, serverSid...)
	}
	result := make([]byte, olen)
	return prf10(result, secret, label, seed)
}

// Code below is taken from crypto/tls/prf.go
// Copyright 2009 The Go Authors. All rights reserved.
// SPDX-License-Identifier: BSD-3-Clause
// prf10 implements the TLS 1.0 pseudo-random function, as defined in RFC 2246, Section 5.
func prf10(result, secret, label, seed []byte) []byte {
	hashSHA1 := sha1.New
	hashMD5 := md5.New

	labelAndSeed := make([]byte, len(label)+len(seed))
	copy(labelAndSeed, label)
	copy(labelAndSeed[len(label):], seed)

	s1, s2 := splitPreMasterSecret(secret)
	pHash(result, s1, labelAndSeed, hashMD5)
	result2 := make([]byte, len(result))
	pHash(result2, s2, labelAndSeed, hashSHA1)
	for i, b := range result2 {
		result[i] ^= b
	}
	return result
}

// SPDX-License-Identifier: BSD-3-Clause
// Split a premaster secret in two as specified in RFC 4346, Section 5.
func splitPreMasterSecret(secret []byte) (s1, s2 []byte) {
	s1 = secret[0 : (len(secret)+1)/2]
	s2 = secret[len(secret)/2:]
	return
}

// SPDX-License-Identifier: BSD-3-Clause
// pHash implements the P_hash function, as defined in RFC 4346, Section 5.
func pHash(result, secret, seed []byte, hash func() hash.Hash) {
	h := hmac.New(hash, secret)
	h.Write(seed)
	a := h.Sum(nil)
	j := 0
	for j < len(result) {
		h.Reset()
		h.Write(a)
		h.Write(seed)
		b := h.Sum(nil)
		copy(result[j:], b)
		j += len(b)
		h.Reset()
		h.Write(a)
		a = h.Sum(nil)
	}
}
