package josex

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Curve names as they appear in the IdP's published JWK.
const (
	CrvBP256 = "BP-256"
	CrvP256  = "P-256"
)

const (
	jweAlg     = "ECDH-ES"
	jweEnc     = "A256GCM"
	gcmIVSize  = 12
	gcmTagSize = 16
	cekSize    = 32
)

// EncryptionKey is the IdP's public key encryption JWK
// (uri_puk_idp_enc document).
type EncryptionKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// epk is the ephemeral public key embedded in the JWE header.
type epk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jweHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Cty string `json:"cty"`
	Exp int64  `json:"exp"`
	Kid string `json:"kid"`
	Epk epk    `json:"epk"`
}

// CreateJWE wraps a signed challenge into the four-segment compact JWE
// the central IdP expects: protected..iv.ciphertext.tag. ECDH-ES derives
// the content key directly, so the encrypted-key segment between the
// protected header and the IV stays empty.
//
// A compact JWS input (anything starting with "ey") is wrapped as
// {"njwt": jws} first; raw signatures are encrypted as-is.
func CreateJWE(signed string, key EncryptionKey, exp int64) (string, error) {
	if key.Kty != "EC" {
		return "", fmt.Errorf("unsupported jwk key type %q", key.Kty)
	}

	plaintext := []byte(signed)
	if strings.HasPrefix(signed, "ey") {
		wrapped, err := json.Marshal(map[string]string{"njwt": signed})
		if err != nil {
			return "", fmt.Errorf("wrap njwt payload: %w", err)
		}
		plaintext = wrapped
	}

	shared, ephX, ephY, err := agreeKey(key)
	if err != nil {
		return "", err
	}

	cek := concatKDF(shared, jweEnc, cekSize)

	header := jweHeader{
		Alg: jweAlg,
		Enc: jweEnc,
		Cty: "NJWT",
		Exp: exp,
		Kid: key.Kid,
		Epk: epk{Kty: "EC", Crv: key.Crv, X: ephX, Y: ephY},
	}
	protected, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return "", fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// The protected header doubles as AAD, per RFC 7516 §5.1.
	sealed := aead.Seal(nil, iv, plaintext, []byte(protected))
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return protected + ".." + b64url(iv) + "." + b64url(ciphertext) + "." + b64url(tag), nil
}

// agreeKey runs ECDH against the IdP key with a fresh ephemeral key and
// returns the shared secret plus the ephemeral public coordinates
// (base64url, fixed width).
func agreeKey(key EncryptionKey) (shared []byte, ephX, ephY string, err error) {
	px, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode jwk x: %w", err)
	}
	py, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode jwk y: %w", err)
	}

	switch key.Crv {
	case CrvBP256:
		d, ex, ey, err := bpGenerateEphemeral()
		if err != nil {
			return nil, "", "", err
		}
		z, err := bpSharedX(d, new(big.Int).SetBytes(px), new(big.Int).SetBytes(py))
		if err != nil {
			return nil, "", "", err
		}
		buf := make([]byte, bp256Size)
		shared = z.FillBytes(buf)

		xb, yb := make([]byte, bp256Size), make([]byte, bp256Size)
		return shared, b64url(ex.FillBytes(xb)), b64url(ey.FillBytes(yb)), nil

	case CrvP256:
		curve := ecdh.P256()
		priv, err := curve.GenerateKey(rand.Reader)
		if err != nil {
			return nil, "", "", fmt.Errorf("generate p-256 ephemeral: %w", err)
		}
		// uncompressed SEC1 point: 0x04 || X || Y
		peerRaw := make([]byte, 1+2*32)
		peerRaw[0] = 4
		copy(peerRaw[1+32-len(px):1+32], px)
		copy(peerRaw[1+64-len(py):], py)
		peer, err := curve.NewPublicKey(peerRaw)
		if err != nil {
			return nil, "", "", fmt.Errorf("parse p-256 jwk point: %w", err)
		}
		shared, err = priv.ECDH(peer)
		if err != nil {
			return nil, "", "", fmt.Errorf("p-256 ecdh: %w", err)
		}
		pub := priv.PublicKey().Bytes() // 0x04 || X || Y
		return shared, b64url(pub[1:33]), b64url(pub[33:]), nil

	default:
		return nil, "", "", fmt.Errorf("unsupported jwk curve %q", key.Crv)
	}
}

// concatKDF is the single-round NIST SP 800-56A concatenation KDF used
// by ECDH-ES: for direct key agreement the AlgorithmID is the "enc"
// value and both PartyInfo fields are empty.
func concatKDF(z []byte, algID string, size int) []byte {
	buf := make([]byte, 0, 4+4+len(algID)+4+4+4+len(z))
	buf = binary.BigEndian.AppendUint32(buf, 1) // round counter
	buf = append(buf, z...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(algID)))
	buf = append(buf, algID...)
	buf = binary.BigEndian.AppendUint32(buf, 0)                // apu
	buf = binary.BigEndian.AppendUint32(buf, 0)                // apv
	buf = binary.BigEndian.AppendUint32(buf, uint32(size)*8)   // keydatalen in bits
	sum := sha256.Sum256(buf)
	return sum[:size]
}
