package protocontext

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/vpncore/protoengine/internal/controlchannel"
	"github.com/vpncore/protoengine/internal/keycontext"
	"github.com/vpncore/protoengine/internal/model"
)

// generateSelfSigned mirrors the helper keycontext and tlsbridge use in
// their own tests: a throwaway CA/leaf pair good enough to drive a real
// TLS handshake without touching the filesystem.
func generateSelfSigned(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "protocontext-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return
}

func testOptions(t *testing.T) *model.OpenVPNOptions {
	t.Helper()
	certPEM, keyPEM := generateSelfSigned(t)
	return &model.OpenVPNOptions{
		Cert:   certPEM,
		Key:    keyPEM,
		CA:     certPEM,
		Cipher: "AES-128-GCM",
		Auth:   "SHA256",
		Proto:  model.ProtoUDP,
	}
}

// outbox collects everything a ProtoContext hands its SendControl
// callback, standing in for the network the way tlsbridge's pumpOnce
// stands in for the reliable transport between two KeyContexts.
type outbox struct {
	pkts [][]byte
}

func (o *outbox) send(b []byte) {
	o.pkts = append(o.pkts, append([]byte(nil), b...))
}

func (o *outbox) drain() [][]byte {
	out := o.pkts
	o.pkts = nil
	return out
}

// newClientServerPair builds a client/server ProtoContext pair sharing
// one cert/CA (and, if tlsAuth is non-empty, one tls-auth static key).
// Tests that need the handshake to actually reach ACTIVE belong in
// tlsbridge/keycontext instead (see keycontext's
// Test_enterActive_client_and_server_converge): driving uTLS's
// OpenVPN-client fingerprint handshake to completion end-to-end needs
// the test-only plain-tls.Client override those packages keep private,
// so protocontext's own tests stick to exercising routing and
// bookkeeping that don't require ACTIVE.
func newClientServerPair(t *testing.T, tlsAuth []byte) (client, server *ProtoContext, clientOut, serverOut *outbox) {
	t.Helper()
	opt := testOptions(t)
	opt.TLSAuth = tlsAuth
	// Both sides share one OpenVPNOptions value in these tests, so
	// KeyDirectionBidirectional is the only setting that makes sense:
	// real client/server configs instead pick opposite fixed halves
	// (--key-direction 1 / 0) of the same static key file.
	opt.KeyDirection = model.KeyDirectionBidirectional

	var clientCC, serverCC *controlchannel.Channel
	if len(tlsAuth) > 0 {
		var err error
		clientCC, err = controlchannel.NewChannelFromOptions(opt, nil)
		if err != nil {
			t.Fatalf("NewChannelFromOptions(client): %v", err)
		}
		serverCC, err = controlchannel.NewChannelFromOptions(opt, nil)
		if err != nil {
			t.Fatalf("NewChannelFromOptions(server): %v", err)
		}
	}

	clientOut, serverOut = &outbox{}, &outbox{}
	now := time.Now()

	var err error
	client, err = New(Config{
		Options:        opt,
		Role:           keycontext.RoleClient,
		ControlChannel: clientCC,
		Logger:         model.NewTestLogger(),
		SendControl:    clientOut.send,
	}, now)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	server, err = New(Config{
		Options:        opt,
		Role:           keycontext.RoleServer,
		ControlChannel: serverCC,
		Logger:         model.NewTestLogger(),
		SendControl:    serverOut.send,
	}, now)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	return client, server, clientOut, serverOut
}

func Test_handshake_resetExchangeProducesOutgoingTraffic(t *testing.T) {
	// Exercises the reset exchange and reliable-window draining across
	// both sides without driving the TLS handshake itself to
	// completion (see newClientServerPair's doc comment).
	client, server, clientOut, serverOut := newClientServerPair(t, nil)
	now := time.Now()

	if err := client.Housekeeping(now); err != nil {
		t.Fatalf("client.Housekeeping: %v", err)
	}
	clientPkts := clientOut.drain()
	if len(clientPkts) == 0 {
		t.Fatalf("client should have queued its opening hard-reset by the first Housekeeping call")
	}

	for _, pkt := range clientPkts {
		if err := server.ControlNetRecv(pkt); err != nil {
			t.Fatalf("server.ControlNetRecv: %v", err)
		}
	}
	if len(serverOut.drain()) == 0 {
		t.Errorf("server should have replied to the client's hard-reset with its own packet(s)")
	}
}

func Test_handshake_withTLSAuth_resetExchangeSucceeds(t *testing.T) {
	staticKey := make([]byte, controlchannel.StaticKeySize)
	if _, err := rand.Read(staticKey); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	client, server, clientOut, _ := newClientServerPair(t, staticKey)
	now := time.Now()

	if err := client.Housekeeping(now); err != nil {
		t.Fatalf("client.Housekeeping: %v", err)
	}
	for _, pkt := range clientOut.drain() {
		if err := server.ControlNetRecv(pkt); err != nil {
			t.Fatalf("server.ControlNetRecv (tls-auth wrapped): %v", err)
		}
	}
	if inv, reason := server.Invalidated(); inv {
		t.Errorf("server should not be invalidated after a validly tls-auth-wrapped reset, got %v", reason)
	}
	if inv, _ := client.Invalidated(); inv {
		t.Errorf("client should not be invalidated")
	}
}

func Test_ControlNetRecv_badHMACLeavesStateUntouched(t *testing.T) {
	staticKey := make([]byte, controlchannel.StaticKeySize)
	if _, err := rand.Read(staticKey); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	client, server, _, _ := newClientServerPair(t, staticKey)

	garbage := make([]byte, 64)
	if _, err := rand.Read(garbage); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	err := server.ControlNetRecv(garbage)
	if err == nil {
		t.Fatalf("ControlNetRecv with a bad tls-auth HMAC should fail")
	}
	if inv, _ := server.Invalidated(); inv {
		t.Errorf("a tls-auth failure must not invalidate the session (spec invariant)")
	}
	if inv, _ := client.Invalidated(); inv {
		t.Errorf("a tls-auth failure on the server must not affect the client")
	}
}

func Test_DataDecrypt_unknownKeyIDRejected(t *testing.T) {
	client, _, _, _ := newClientServerPair(t, nil)

	pkt := &model.Packet{Opcode: model.P_DATA_V2, KeyID: 5, Payload: []byte("whatever")}
	wire, err := pkt.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	// Bytes() for P_DATA_V2 writes only the payload; DataDecrypt expects
	// a full op32 header in front of it, the same shape
	// [model.ParsePacket] expects elsewhere.
	header := []byte{(byte(model.P_DATA_V2) << 3) | 5, 0, 0, 0}
	full := append(header, wire...)

	if _, err := client.DataDecrypt(full); err != ErrUnknownKeyID {
		t.Errorf("DataDecrypt with an unrecognized key id = %v, want ErrUnknownKeyID", err)
	}
}

func Test_ControlNetRecv_softResetFromPeerCreatesSecondary(t *testing.T) {
	_, server, _, _ := newClientServerPair(t, nil)

	// The server's upcoming_key_id starts at 1; a soft reset naming it
	// should seed a non-initiator secondary (spec §8 scenario 6), after
	// which a second packet for the same key id no longer looks unknown.
	reset := model.NewPacket(model.P_CONTROL_SOFT_RESET_V1, 1, nil)
	reset.LocalSessionID = model.SessionID{9, 9, 9, 9, 9, 9, 9, 9}
	reset.ID = 0
	wire, err := reset.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if err := server.ControlNetRecv(wire); err != nil {
		t.Fatalf("ControlNetRecv(soft reset) = %v, want nil", err)
	}

	follow := model.NewPacket(model.P_CONTROL_V1, 1, []byte("x"))
	follow.LocalSessionID = reset.LocalSessionID
	follow.ID = 1
	wire2, err := follow.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if err := server.ControlNetRecv(wire2); err != nil {
		t.Fatalf("ControlNetRecv(follow-up on key id 1) = %v, want nil; secondary should already exist", err)
	}
}

func Test_Housekeeping_keepaliveTimeoutDisconnects(t *testing.T) {
	opt := testOptions(t)
	opt.PingSeconds = 10
	opt.PingRestartSeconds = 30

	now := time.Now()
	out := &outbox{}
	pc, err := New(Config{
		Options:     opt,
		Role:        keycontext.RoleClient,
		Logger:      model.NewTestLogger(),
		SendControl: out.send,
	}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := pc.Housekeeping(now); err != nil {
		t.Fatalf("Housekeeping: %v", err)
	}
	if inv, _ := pc.Invalidated(); inv {
		t.Fatalf("should not be invalidated before ping_restart has elapsed")
	}

	later := now.Add(31 * time.Second)
	if err := pc.Housekeeping(later); err != nil {
		t.Fatalf("Housekeeping: %v", err)
	}
	inv, reason := pc.Invalidated()
	if !inv {
		t.Fatalf("should be invalidated once the keepalive timeout has elapsed")
	}
	if reason.Code != model.ErrKeepaliveTimeout {
		t.Errorf("invalidation reason = %v, want ErrKeepaliveTimeout", reason.Code)
	}
}

func Test_Housekeeping_serverDoublesPingRestart(t *testing.T) {
	opt := testOptions(t)
	opt.PingSeconds = 10
	opt.PingRestartSeconds = 30

	now := time.Now()
	out := &outbox{}
	pc, err := New(Config{
		Options:     opt,
		Role:        keycontext.RoleServer,
		Logger:      model.NewTestLogger(),
		SendControl: out.send,
	}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A server doubles ping_restart to 60s (spec §6); 31s in should
	// still be alive even though a client-role context would not be.
	if err := pc.Housekeeping(now.Add(31 * time.Second)); err != nil {
		t.Fatalf("Housekeeping: %v", err)
	}
	if inv, _ := pc.Invalidated(); inv {
		t.Fatalf("server should tolerate 31s of silence against a 60s timeout")
	}
}

func Test_DataEncrypt_beforeActiveFails(t *testing.T) {
	client, _, _, _ := newClientServerPair(t, nil)
	if _, err := client.DataEncrypt([]byte("too early")); err == nil {
		t.Errorf("DataEncrypt before ACTIVE should fail")
	}
}

func Test_ExplicitExitNotify_tcpIsNoOp(t *testing.T) {
	opt := testOptions(t)
	opt.Proto = model.ProtoTCP
	now := time.Now()
	out := &outbox{}
	pc, err := New(Config{
		Options:     opt,
		Role:        keycontext.RoleClient,
		Logger:      model.NewTestLogger(),
		SendControl: out.send,
	}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := pc.ExplicitExitNotify(); err != nil {
		t.Errorf("ExplicitExitNotify over TCP = %v, want nil no-op", err)
	}
	if len(out.pkts) != 0 {
		t.Errorf("ExplicitExitNotify over TCP should not send anything")
	}
}
