package josex

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

func decodeJSON(t *testing.T, seg string, v any) {
	t.Helper()
	b, err := base64.RawURLEncoding.DecodeString(seg)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	t.Run("ogr", func(t *testing.T) {
		env, err := BuildEnvelope(VariantOGR, "chal-token", "sid-1", "Q0VSVA==", false)
		require.NoError(t, err)

		var header map[string]any
		decodeJSON(t, env.Header, &header)
		require.Equal(t, AlgRS256, header["alg"])
		require.Equal(t, []any{"Q0VSVA=="}, header["x5c"])

		var payload map[string]string
		decodeJSON(t, env.Payload, &payload)
		require.Equal(t, "chal-token", payload["challenge"])
		require.Equal(t, "sid-1", payload["sid"])
	})

	t.Run("central idp rsa", func(t *testing.T) {
		env, err := BuildEnvelope(VariantCentralIdp, "chal-token", "", "Q0VSVA==", false)
		require.NoError(t, err)

		var header map[string]any
		decodeJSON(t, env.Header, &header)
		require.Equal(t, AlgPS256, header["alg"])
		require.Equal(t, "JWT", header["typ"])
		require.Equal(t, "NJWT", header["cty"])

		var payload map[string]string
		decodeJSON(t, env.Payload, &payload)
		require.Equal(t, "chal-token", payload["njwt"])
	})

	t.Run("central idp ecc", func(t *testing.T) {
		env, err := BuildEnvelope(VariantCentralIdp, "chal-token", "", "Q0VSVA==", true)
		require.NoError(t, err)

		var header map[string]any
		decodeJSON(t, env.Header, &header)
		require.Equal(t, AlgBP256R1, header["alg"])
	})

	t.Run("unknown variant", func(t *testing.T) {
		_, err := BuildEnvelope(Variant(42), "c", "", "", false)
		require.Error(t, err)
	})
}

func TestHashedSigningInput(t *testing.T) {
	t.Parallel()

	env, err := BuildEnvelope(VariantCentralIdp, "c", "", "x", false)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(env.Header + "." + env.Payload))
	require.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), env.HashedSigningInput())
}

func TestAssembleCompact(t *testing.T) {
	t.Parallel()

	env, err := BuildEnvelope(VariantOGR, "c", "s", "x", false)
	require.NoError(t, err)

	jws := env.AssembleCompact([]byte{0xde, 0xad, 0xbe, 0xef})
	require.True(t, ValidCompactJWS(jws))

	parts := strings.Split(jws, ".")
	require.Len(t, parts, 3)
	require.Equal(t, env.Header, parts[0])
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sig)

	require.False(t, ValidCompactJWS("a.b"))
	require.False(t, ValidCompactJWS("a.b.c.d"))
	require.False(t, ValidCompactJWS("a.+.c"))
}

func derSignature(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddASN1BigInt(r)
		seq.AddASN1BigInt(s)
	})
	der, err := b.Bytes()
	require.NoError(t, err)
	return der
}

func TestConcatFromDER(t *testing.T) {
	t.Parallel()

	t.Run("pads short components", func(t *testing.T) {
		out, err := ConcatFromDER(derSignature(t, big.NewInt(1), big.NewInt(2)), 32)
		require.NoError(t, err)
		require.Len(t, out, 64)
		require.Equal(t, byte(1), out[31])
		require.Equal(t, byte(2), out[63])
	})

	t.Run("full width round trip", func(t *testing.T) {
		r := new(big.Int).Lsh(big.NewInt(1), 255)
		s := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		out, err := ConcatFromDER(derSignature(t, r, s), 32)
		require.NoError(t, err)
		require.Equal(t, r.Bytes(), out[:32])
		require.Equal(t, s.Bytes(), out[32:])
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ConcatFromDER([]byte{0x30, 0x01, 0x00}, 32)
		require.Error(t, err)
	})

	t.Run("rejects oversized component", func(t *testing.T) {
		r := new(big.Int).Lsh(big.NewInt(1), 256)
		_, err := ConcatFromDER(derSignature(t, r, big.NewInt(1)), 32)
		require.Error(t, err)
	})
}

func TestBrainpoolCurve(t *testing.T) {
	t.Parallel()

	require.True(t, bpOnCurve(bp256.gx, bp256.gy), "generator must satisfy the curve equation")

	d, x, y, err := bpGenerateEphemeral()
	require.NoError(t, err)
	require.True(t, bpOnCurve(x, y), "ephemeral public point must be on the curve")

	// n·G is the identity, so (d mod n)·G == d·G
	dn := new(big.Int).Add(d, bp256.n)
	x2, y2 := bpScalarMult(bp256.gx, bp256.gy, dn)
	require.Equal(t, 0, x.Cmp(x2))
	require.Equal(t, 0, y.Cmp(y2))
}

func TestBrainpoolECDHAgreement(t *testing.T) {
	t.Parallel()

	da, xa, ya, err := bpGenerateEphemeral()
	require.NoError(t, err)
	db, xb, yb, err := bpGenerateEphemeral()
	require.NoError(t, err)

	z1, err := bpSharedX(da, xb, yb)
	require.NoError(t, err)
	z2, err := bpSharedX(db, xa, ya)
	require.NoError(t, err)
	require.Equal(t, 0, z1.Cmp(z2), "both sides must agree on the shared x")

	_, err = bpSharedX(da, big.NewInt(1), big.NewInt(1))
	require.Error(t, err, "off-curve peer point must be rejected")
}

// decryptJWE undoes CreateJWE given the recipient's shared secret, to
// prove the output is a well-formed ECDH-ES A256GCM compact JWE.
func decryptJWE(t *testing.T, token string, shared []byte) (jweHeader, []byte) {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 5)
	require.Empty(t, parts[1], "ECDH-ES has no encrypted key segment")

	var header jweHeader
	decodeJSON(t, parts[0], &header)

	cek := concatKDF(shared, header.Enc, cekSize)
	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	iv, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	require.NoError(t, err)
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	require.NoError(t, err)

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), []byte(parts[0]))
	require.NoError(t, err)
	return header, plaintext
}

func TestCreateJWEBrainpool(t *testing.T) {
	t.Parallel()

	// recipient key pair, standing in for the IdP
	d, x, y, err := bpGenerateEphemeral()
	require.NoError(t, err)
	xb, yb := make([]byte, bp256Size), make([]byte, bp256Size)
	key := EncryptionKey{
		Kid: "puk_idp_enc",
		Kty: "EC",
		Crv: CrvBP256,
		X:   b64url(x.FillBytes(xb)),
		Y:   b64url(y.FillBytes(yb)),
	}

	jws := "eyJhbGciOiJCUDI1NlIxIn0.eyJuand0IjoieCJ9.c2ln"
	token, err := CreateJWE(jws, key, 1700000000)
	require.NoError(t, err)

	var header jweHeader
	decodeJSON(t, strings.Split(token, ".")[0], &header)
	require.Equal(t, "ECDH-ES", header.Alg)
	require.Equal(t, "A256GCM", header.Enc)
	require.Equal(t, "NJWT", header.Cty)
	require.Equal(t, int64(1700000000), header.Exp)
	require.Equal(t, "puk_idp_enc", header.Kid)
	require.Equal(t, CrvBP256, header.Epk.Crv)

	ex, err := base64.RawURLEncoding.DecodeString(header.Epk.X)
	require.NoError(t, err)
	ey, err := base64.RawURLEncoding.DecodeString(header.Epk.Y)
	require.NoError(t, err)
	z, err := bpSharedX(d, new(big.Int).SetBytes(ex), new(big.Int).SetBytes(ey))
	require.NoError(t, err)
	buf := make([]byte, bp256Size)

	_, plaintext := decryptJWE(t, token, z.FillBytes(buf))
	var payload map[string]string
	require.NoError(t, json.Unmarshal(plaintext, &payload))
	require.Equal(t, jws, payload["njwt"], "a compact jws gets the njwt wrapper")
}

func TestCreateJWEP256(t *testing.T) {
	t.Parallel()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	pub := priv.PublicKey().Bytes()
	key := EncryptionKey{
		Kid: "puk_idp_enc",
		Kty: "EC",
		Crv: CrvP256,
		X:   b64url(pub[1:33]),
		Y:   b64url(pub[33:]),
	}

	token, err := CreateJWE("raw-signature", key, 1700000000)
	require.NoError(t, err)

	var header jweHeader
	decodeJSON(t, strings.Split(token, ".")[0], &header)

	ex, err := base64.RawURLEncoding.DecodeString(header.Epk.X)
	require.NoError(t, err)
	ey, err := base64.RawURLEncoding.DecodeString(header.Epk.Y)
	require.NoError(t, err)
	epkRaw := append(append([]byte{4}, ex...), ey...)
	epkPub, err := ecdh.P256().NewPublicKey(epkRaw)
	require.NoError(t, err)
	shared, err := priv.ECDH(epkPub)
	require.NoError(t, err)

	_, plaintext := decryptJWE(t, token, shared)
	require.Equal(t, "raw-signature", string(plaintext), "non-jws input stays unwrapped")
}

func TestCreateJWERejectsBadKeys(t *testing.T) {
	t.Parallel()

	_, err := CreateJWE("x", EncryptionKey{Kty: "RSA"}, 0)
	require.Error(t, err)

	_, err = CreateJWE("x", EncryptionKey{Kty: "EC", Crv: "P-384"}, 0)
	require.Error(t, err)
}
