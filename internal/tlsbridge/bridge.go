package tlsbridge

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	tls "github.com/refraction-networking/utls"

	"github.com/vpncore/protoengine/internal/model"
)

// Role distinguishes which side of the TLS handshake a Bridge plays.
// OpenVPN's key-method 2 always puts the VPN client in the TLS client
// role and the VPN server in the TLS server role, matching spec
// §4.2's C_*/S_* state chains.
type Role int

const (
	RoleClient = Role(iota)
	RoleServer
)

// ErrHandshakeNotDone is returned by SendApp/RecvApp before the TLS
// handshake has completed.
var ErrHandshakeNotDone = errors.New("tlsbridge: handshake not complete")

// ErrBridgeClosed is returned by any method called after Close.
var ErrBridgeClosed = errors.New("tlsbridge: bridge is closed")

// Bridge drives one TLS handshake and, once established, one
// cleartext application byte stream (the auth-payload control
// messages of spec §4.4) over the OpenVPN control channel. Every
// public method is non-blocking; the one goroutine Start spawns does
// the actual handshake and any subsequent blocking Read — the
// concurrency crypto/tls and uTLS require stays entirely inside
// Bridge and never leaks into the synchronous KeyContext/ProtoContext
// calling convention (spec §5).
type Bridge struct {
	role      Role
	tlsConfig *tls.Config
	conn      *bio

	mu            sync.Mutex
	started       bool
	closed        bool
	handshakeDone bool
	handshakeErr  error
	tlsConn       net.Conn
	appIn         bytes.Buffer
	appInErr      error
}

// NewBridge builds a [Bridge] for role, loading certificate/CA
// material from o.
func NewBridge(o *model.OpenVPNOptions, role Role) (*Bridge, error) {
	cfg, err := newCertConfigFromOptions(o)
	if err != nil {
		return nil, err
	}
	tlsConf, err := newTLSConfig(role, cfg)
	if err != nil {
		return nil, err
	}
	return &Bridge{role: role, tlsConfig: tlsConf, conn: newBio()}, nil
}

// Start kicks off the handshake goroutine. Idempotent; the caller
// (KeyContext, on entering C_WAIT_AUTH/S_WAIT_AUTH) calls it once per
// key negotiation.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.run()
}

func (b *Bridge) run() {
	var (
		conn net.Conn
		err  error
	)
	if b.role == RoleClient {
		conn, err = clientHandshaker(b.conn, b.tlsConfig)
	} else {
		conn, err = serverHandshake(b.conn, b.tlsConfig)
	}

	b.mu.Lock()
	if err != nil {
		b.handshakeErr = err
		b.handshakeDone = true
		b.mu.Unlock()
		return
	}
	b.tlsConn = conn
	b.handshakeDone = true
	b.mu.Unlock()

	b.readPump(conn)
}

// readPump continuously copies decrypted application bytes into appIn
// until the connection errors out or is closed; this is the one place
// a genuinely blocking net.Conn.Read happens, off the caller's path.
func (b *Bridge) readPump(conn net.Conn) {
	buf := make([]byte, 1<<16)
	for {
		n, err := conn.Read(buf)
		b.mu.Lock()
		if n > 0 {
			b.appIn.Write(buf[:n])
		}
		if err != nil {
			if b.appInErr == nil {
				b.appInErr = err
			}
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

// FeedIncoming hands wire bytes received on the control channel (after
// tls-auth verification and reassembly) to the TLS handshake/record
// layer. Never blocks.
func (b *Bridge) FeedIncoming(data []byte) {
	b.conn.FeedIncoming(data)
}

// DrainOutgoing returns any TLS bytes queued for transmission on the
// control channel since the last call, or nil. Never blocks.
func (b *Bridge) DrainOutgoing() []byte {
	return b.conn.DrainOutgoing()
}

// HandshakeDone reports whether the handshake has finished, successfully
// or not.
func (b *Bridge) HandshakeDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handshakeDone
}

// HandshakeErr returns the handshake's outcome once HandshakeDone is
// true; nil on success, and nil before completion too (callers must
// check HandshakeDone first).
func (b *Bridge) HandshakeErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handshakeErr
}

// SendApp writes an application-layer (auth-payload) message over the
// established TLS connection. Returns [ErrHandshakeNotDone] if the
// handshake hasn't completed successfully yet.
func (b *Bridge) SendApp(data []byte) error {
	b.mu.Lock()
	conn, done, hErr, closed := b.tlsConn, b.handshakeDone, b.handshakeErr, b.closed
	b.mu.Unlock()

	if closed {
		return ErrBridgeClosed
	}
	if !done || conn == nil {
		return ErrHandshakeNotDone
	}
	if hErr != nil {
		return hErr
	}
	_, err := conn.Write(data)
	return err
}

// RecvApp returns and clears any decrypted application bytes received
// since the last call, or nil if none are available yet. Never blocks.
func (b *Bridge) RecvApp() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appIn.Len() == 0 {
		return nil, b.appInErr
	}
	data := make([]byte, b.appIn.Len())
	copy(data, b.appIn.Bytes())
	b.appIn.Reset()
	return data, nil
}

// Close tears the bridge down; FeedIncoming/DrainOutgoing/SendApp
// become no-ops or errors afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.tlsConn
	b.mu.Unlock()

	b.conn.Close()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// String implements fmt.Stringer for diagnostic logging.
func (b *Bridge) String() string {
	role := "client"
	if b.role == RoleServer {
		role = "server"
	}
	return fmt.Sprintf("tlsbridge(%s)", role)
}
