package tlsbridge

//
// Certificate/CA loading and tls.Config construction for OpenVPN's
// key-method 2 mutual-TLS control channel. Adapted from the teacher's
// vpn/tls.go (the only generation of minivpn that actually builds a
// working tls.Config), generalized to serve either endpoint role.
//

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	tls "github.com/refraction-networking/utls"

	"github.com/vpncore/protoengine/internal/model"
)

var (
	// ErrBadCA indicates the CA certificate material could not be parsed.
	ErrBadCA = errors.New("tlsbridge: bad ca configuration")

	// ErrBadKeypair indicates the client/server certificate or key could
	// not be parsed.
	ErrBadKeypair = errors.New("tlsbridge: bad keypair configuration")

	// ErrCannotVerifyCertChain indicates peer certificate verification
	// against the configured CA failed.
	ErrCannotVerifyCertChain = errors.New("tlsbridge: cannot verify certificate chain")

	// ErrBadTLSHandshake indicates the uTLS/TLS handshake itself failed.
	ErrBadTLSHandshake = errors.New("tlsbridge: tls handshake failed")
)

// certConfig holds the parsed certificate and CA an OpenVPN endpoint
// authenticates with.
type certConfig struct {
	cert tls.Certificate
	ca   *x509.CertPool
}

// newCertConfigFromOptions builds a [certConfig] from either the
// inline byte-array fields or the on-disk paths an [model.OpenVPNOptions]
// carries, mirroring [model.OpenVPNOptions.ShouldLoadCertsFromPath].
func newCertConfigFromOptions(o *model.OpenVPNOptions) (*certConfig, error) {
	if o.ShouldLoadCertsFromPath() {
		return loadCertAndCAFromPath(o.CertPath, o.KeyPath, o.CAPath)
	}
	return loadCertAndCAFromBytes(o.Cert, o.Key, o.CA)
}

func loadCertAndCAFromPath(certPath, keyPath, caPath string) (*certConfig, error) {
	caData, err := readFileFn(caPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCA, err)
	}
	ca := x509.NewCertPool()
	if !ca.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("%w: cannot parse ca cert", ErrBadCA)
	}
	cfg := &certConfig{ca: ca}
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadKeypair, err)
		}
		cfg.cert = cert
	}
	return cfg, nil
}

func loadCertAndCAFromBytes(certPEM, keyPEM, caPEM []byte) (*certConfig, error) {
	ca := x509.NewCertPool()
	if !ca.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: cannot parse ca cert", ErrBadCA)
	}
	cfg := &certConfig{ca: ca}
	if len(certPEM) != 0 && len(keyPEM) != 0 {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadKeypair, err)
		}
		cfg.cert = cert
	}
	return cfg, nil
}

// readFileFn reads a file's contents; a package variable so tests can
// stub it out without touching the filesystem.
var readFileFn = defaultReadFile

// authorityPinner is any object from which a certpool containing a
// pinned CA can be obtained.
type authorityPinner interface {
	authority() *x509.CertPool
}

func (c *certConfig) authority() *x509.CertPool {
	return c.ca
}

var _ authorityPinner = &certConfig{}

// customVerifyFactory returns a VerifyPeerCertificate callback that
// checks the leaf certificate against pinner's CA pool while skipping
// DNS-name verification, since an OpenVPN gateway's certificate rarely
// names the address a client dials.
func customVerifyFactory(pinner authorityPinner) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: nothing to verify", ErrCannotVerifyCertChain)
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil || leaf == nil {
			return fmt.Errorf("%w: nothing to verify", ErrCannotVerifyCertChain)
		}
		opts := x509.VerifyOptions{Roots: pinner.authority()}
		if _, err := leaf.Verify(opts); err != nil {
			return fmt.Errorf("%w: %s", ErrCannotVerifyCertChain, err)
		}
		return nil
	}
}

// newTLSConfig returns a *tls.Config for role, performing mutual
// authentication against cfg's certificate and CA. DNSName/ServerName
// checks are disabled in favor of customVerifyFactory's CA-only check,
// since the VPN gateway's name is rarely known ahead of time.
func newTLSConfig(role Role, cfg *certConfig) (*tls.Config, error) {
	tlsConf := &tls.Config{
		Certificates:                []tls.Certificate{cfg.cert},
		InsecureSkipVerify:          true, //#nosec G402 -- verified by VerifyPeerCertificate instead
		VerifyPeerCertificate:       customVerifyFactory(cfg),
		DynamicRecordSizingDisabled: true,
		MinVersion:                  tls.VersionTLS12,
		MaxVersion:                  tls.VersionTLS13,
		ClientAuth:                  tls.RequireAnyClientCert,
	}
	if role == RoleServer {
		tlsConf.ClientCAs = cfg.ca
	}
	return tlsConf, nil
}

// vpnClientHelloHex is a capture of a real OpenVPN client's ClientHello
// (openvpn=2.5.5, openssl=3.0.2), used to fingerprint a uTLS spec that
// makes our handshake blend in with a stock OpenVPN client instead of
// standing out as a bespoke Go TLS stack.
var vpnClientHelloHex = `1603010114010001100303534e0a0f2687b240f7c7dfbb51c4aac33639f28173aa5d7bcebb159695ab0855208b835bf240a83df66885d6747b5bbf1b631e8c34ae469c629d7eb76e247128eb0032130213031301c02cc030009fcca9cca8ccaac02bc02f009ec024c028006bc023c0270067c00ac0140039c009c013003300ff01000095000b000403000102000a00160014001d0017001e00190018010001010102010301040016000000170000000d002a0028040305030603080708080809080a080b080408050806040105010601030303010302040205020602002b0009080304030303020301002d00020101003300260024001d0020a10bc24becb583293c317220e6725205d3a177a4a974090f6ffcf13a43da7035`

// clientHandshaker performs a parroted uTLS handshake, used for the
// client role. Exposed as a variable so tests can swap in a plain
// tls.Client handshake without a real OpenVPN-shaped ClientHello.
var clientHandshaker = parrotClientHandshake

func parrotClientHandshake(conn net.Conn, config *tls.Config) (net.Conn, error) {
	client := tls.UClient(conn, config, tls.HelloCustom)
	fingerprinter := &tls.Fingerprinter{AllowBluntMimicry: true}
	rawHello, err := decodeHexFn(vpnClientHelloHex)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode fingerprint: %s", ErrBadTLSHandshake, err)
	}
	spec, err := fingerprinter.FingerprintClientHello(rawHello)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot fingerprint: %s", ErrBadTLSHandshake, err)
	}
	if err := client.ApplyPreset(spec); err != nil {
		return nil, fmt.Errorf("%w: cannot apply spec: %s", ErrBadTLSHandshake, err)
	}
	if err := client.Handshake(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTLSHandshake, err)
	}
	return client, nil
}

func serverHandshake(conn net.Conn, config *tls.Config) (net.Conn, error) {
	server := tls.Server(conn, config)
	if err := server.Handshake(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTLSHandshake, err)
	}
	return server, nil
}

// defaultClientHandshake performs a plain, unparroted uTLS client
// handshake. The teacher keeps the equivalent (vpn/tls.go's
// defaultTLSFactory) around "to compare the fingerprints with a golang
// TLS handshake"; here it additionally gives tests a way to exercise
// [Bridge] without depending on a captured ClientHello fingerprint.
func defaultClientHandshake(conn net.Conn, config *tls.Config) (net.Conn, error) {
	client := tls.Client(conn, config)
	if err := client.Handshake(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTLSHandshake, err)
	}
	return client, nil
}
