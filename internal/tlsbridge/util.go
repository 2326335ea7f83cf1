package tlsbridge

import (
	"encoding/hex"
	"os"
)

// decodeHexFn and defaultReadFile are package variables, following the
// teacher's monkeypatching convention (vpn/tls.go's initTLSFn/
// tlsHandshakeFn/tlsFactoryFn), so tests can substitute them without
// touching the filesystem or real hex data.
var decodeHexFn = hex.DecodeString

func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
