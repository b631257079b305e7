package josex

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ConcatFromDER converts a DER-encoded ECDSA signature (SEQUENCE of two
// INTEGERs) into the fixed-width R||S concatenation JOSE requires.
// size is the byte length of each coordinate (32 for 256-bit curves).
//
// Connectors return ECDSA signatures DER-encoded; RSA signatures pass
// through untouched, so callers only invoke this for ECC cards.
func ConcatFromDER(der []byte, size int) ([]byte, error) {
	var (
		inner cryptobyte.String
		r, s  = new(big.Int), new(big.Int)
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, fmt.Errorf("invalid DER ecdsa signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, fmt.Errorf("ecdsa signature components must be positive")
	}
	if r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, fmt.Errorf("ecdsa signature component exceeds %d bytes", size)
	}

	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
