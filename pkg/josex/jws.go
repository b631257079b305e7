package josex

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
)

// Variant selects the JWS envelope shape for the IdP protocol that
// initiated the flow.
type Variant int

const (
	// VariantOGR is the relying-party Keycloak plugin protocol.
	VariantOGR Variant = iota
	// VariantCentralIdp is the central IdP-Dienst protocol.
	VariantCentralIdp
)

func (v Variant) String() string {
	switch v {
	case VariantOGR:
		return "ogr"
	case VariantCentralIdp:
		return "central-idp"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// JWS algorithm identifiers used by the two protocol variants.
const (
	// AlgRS256 is RSASSA-PKCS1-v1_5 with SHA-256 (OGR variant).
	AlgRS256 = "RS256"
	// AlgPS256 is RSASSA-PSS with SHA-256 (central IdP, RSA cards).
	AlgPS256 = "PS256"
	// AlgBP256R1 is ECDSA over brainpoolP256r1 with SHA-256 (central IdP, ECC cards).
	AlgBP256R1 = "BP256R1"
)

// Envelope is an unsigned compact JWS: both segments already
// base64url-encoded, ready to receive the card signature.
type Envelope struct {
	Header  string
	Payload string
}

type ogrHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

type ogrPayload struct {
	Challenge string `json:"challenge"`
	Sid       string `json:"sid"`
}

type cidpHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
	Typ string   `json:"typ"`
	Cty string   `json:"cty"`
}

type cidpPayload struct {
	Njwt string `json:"njwt"`
}

// BuildEnvelope returns the unsigned JWS envelope for the given protocol
// variant. cert is the card's C.AUT certificate (base64 DER) carried in
// x5c; ecc selects the ECDSA algorithm identifier for the central IdP
// variant. sid is only used by the OGR variant.
func BuildEnvelope(variant Variant, challenge, sid, cert string, ecc bool) (Envelope, error) {
	var header, payload any
	switch variant {
	case VariantOGR:
		header = ogrHeader{Alg: AlgRS256, X5c: []string{cert}}
		payload = ogrPayload{Challenge: challenge, Sid: sid}
	case VariantCentralIdp:
		alg := AlgPS256
		if ecc {
			alg = AlgBP256R1
		}
		header = cidpHeader{Alg: alg, X5c: []string{cert}, Typ: "JWT", Cty: "NJWT"}
		payload = cidpPayload{Njwt: challenge}
	default:
		return Envelope{}, fmt.Errorf("unknown jws variant %d", variant)
	}

	h, err := encodeSegment(header)
	if err != nil {
		return Envelope{}, err
	}
	p, err := encodeSegment(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: h, Payload: p}, nil
}

// SigningInput returns "header.payload", the exact byte string the JWS
// signature covers.
func (e Envelope) SigningInput() string {
	return e.Header + "." + e.Payload
}

// HashedSigningInput returns the SHA-256 digest of the signing input in
// standard base64; this is the Base64Data value the connector's
// ExternalAuthenticate operation signs.
func (e Envelope) HashedSigningInput() string {
	sum := sha256.Sum256([]byte(e.SigningInput()))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// AssembleCompact attaches a raw signature to the envelope. sig is the
// signature exactly as the card produced it (PKCS#1/PSS block or raw
// R||S concatenation).
func (e Envelope) AssembleCompact(sig []byte) string {
	return e.SigningInput() + "." + b64url(sig)
}

var compactJWSRe = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// ValidCompactJWS reports whether s looks like a three-segment compact
// serialization. Shape check only; no signature verification.
func ValidCompactJWS(s string) bool {
	return compactJWSRe.MatchString(s)
}
