package josex

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// brainpoolP256r1 domain parameters, RFC 5639 §3.4. The curve is outside
// crypto/elliptic (which hardcodes a = -3), so the point arithmetic is
// implemented here directly. Only ephemeral, single-use ECDH keys touch
// this code path.
var bp256 = struct {
	p, a, b, gx, gy, n *big.Int
}{
	p:  bpHex("A9FB57DBA1EEA9BC3E660A909D838D726E3BF623D52620282013481D1F6E5377"),
	a:  bpHex("7D5A0975FC2C3057EEF67530417AFFE7FB8055C126DC5C6CE94A4B44F330B5D9"),
	b:  bpHex("26DC5C6CE94A4B44F330B5D9BBD77CBF958416295CF7E1CE6BCCDC18FF8C07B6"),
	gx: bpHex("8BD2AEB9CB7E57CB2C4B482FFC81B7AFB9DE27E1E3BD23C23A4453BD9ACE3262"),
	gy: bpHex("547EF835C3DAC4FD97F8461A14611DC9C27745132DED8E545C1D54C72F046997"),
	n:  bpHex("A9FB57DBA1EEA9BC3E660A909D838D718C397AA3B561A6F7901E0E82974856A7"),
}

// bp256Size is the coordinate width in bytes.
const bp256Size = 32

func bpHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("josex: bad brainpool constant " + s)
	}
	return n
}

// bpOnCurve reports whether (x, y) satisfies y² = x³ + ax + b (mod p).
func bpOnCurve(x, y *big.Int) bool {
	if x.Sign() < 0 || x.Cmp(bp256.p) >= 0 || y.Sign() < 0 || y.Cmp(bp256.p) >= 0 {
		return false
	}
	lhs := new(big.Int).Mul(y, y)
	lhs.Mod(lhs, bp256.p)

	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	rhs.Add(rhs, new(big.Int).Mul(bp256.a, x))
	rhs.Add(rhs, bp256.b)
	rhs.Mod(rhs, bp256.p)

	return lhs.Cmp(rhs) == 0
}

// bpAdd adds two affine points; a nil point is the identity.
func bpAdd(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int) {
	if x1 == nil {
		return x2, y2
	}
	if x2 == nil {
		return x1, y1
	}

	var m *big.Int
	if x1.Cmp(x2) == 0 {
		if y1.Cmp(y2) != 0 || y1.Sign() == 0 {
			// P + (-P) = identity
			return nil, nil
		}
		// doubling: m = (3x² + a) / 2y
		num := new(big.Int).Mul(x1, x1)
		num.Mul(num, big.NewInt(3))
		num.Add(num, bp256.a)
		den := new(big.Int).Lsh(y1, 1)
		m = num.Mul(num, den.ModInverse(den, bp256.p))
	} else {
		// chord: m = (y1 - y2) / (x1 - x2)
		num := new(big.Int).Sub(y1, y2)
		den := new(big.Int).Sub(x1, x2)
		den.Mod(den, bp256.p)
		m = num.Mul(num, den.ModInverse(den, bp256.p))
	}
	m.Mod(m, bp256.p)

	x3 := new(big.Int).Mul(m, m)
	x3.Sub(x3, x1)
	x3.Sub(x3, x2)
	x3.Mod(x3, bp256.p)

	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, m)
	y3.Sub(y3, y1)
	y3.Mod(y3, bp256.p)

	return x3, y3
}

// bpScalarMult computes k·(x, y) by double-and-add.
func bpScalarMult(x, y, k *big.Int) (*big.Int, *big.Int) {
	var rx, ry *big.Int
	px, py := x, y
	for i := 0; i < k.BitLen(); i++ {
		if k.Bit(i) == 1 {
			rx, ry = bpAdd(rx, ry, px, py)
		}
		px, py = bpAdd(px, py, px, py)
	}
	return rx, ry
}

// bpGenerateEphemeral returns a fresh scalar in [1, n-1] and its public
// point.
func bpGenerateEphemeral() (d, x, y *big.Int, err error) {
	max := new(big.Int).Sub(bp256.n, big.NewInt(1))
	d, err = rand.Int(rand.Reader, max)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate ephemeral scalar: %w", err)
	}
	d.Add(d, big.NewInt(1))
	x, y = bpScalarMult(bp256.gx, bp256.gy, d)
	return d, x, y, nil
}

// bpSharedX computes the x coordinate of d·(px, py), the raw ECDH shared
// secret.
func bpSharedX(d, px, py *big.Int) (*big.Int, error) {
	if !bpOnCurve(px, py) {
		return nil, fmt.Errorf("peer point not on brainpoolP256r1")
	}
	x, _ := bpScalarMult(px, py, d)
	if x == nil {
		return nil, fmt.Errorf("ecdh produced point at infinity")
	}
	return x, nil
}
