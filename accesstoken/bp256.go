package accesstoken

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"github.com/ebfe/brainpool"
	"github.com/golang-jwt/jwt/v5"
)

// AlgBP256R1 is the algorithm name the IDP uses in the JOSE header.
const AlgBP256R1 = "BP256R1"

// signatureSize is the raw signature length: 32 bytes r, 32 bytes s.
const signatureSize = 64

// SigningMethodBP256 implements jwt.SigningMethod for ECDSA over
// brainpoolP256r1 with SHA-256 and the raw r‖s signature encoding.
type SigningMethodBP256 struct{}

// MethodBP256 is the registered instance.
var MethodBP256 = &SigningMethodBP256{}

func init() {
	jwt.RegisterSigningMethod(AlgBP256R1, func() jwt.SigningMethod { return MethodBP256 })
}

// Alg implements jwt.SigningMethod.
func (m *SigningMethodBP256) Alg() string { return AlgBP256R1 }

// Verify implements jwt.SigningMethod. The key must be an
// *ecdsa.PublicKey on the Brainpool P-256 curve.
func (m *SigningMethodBP256) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if pub.Curve != brainpool.P256r1() || pub.Params().BitSize != 256 {
		return jwt.ErrInvalidKey
	}
	if len(sig) != signatureSize {
		return jwt.ErrSignatureInvalid
	}
	r := new(big.Int).SetBytes(sig[:signatureSize/2])
	s := new(big.Int).SetBytes(sig[signatureSize/2:])
	digest := sha256.Sum256([]byte(signingString))
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Sign implements jwt.SigningMethod; used by tests and the mock IDP.
func (m *SigningMethodBP256) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	if priv.Curve != brainpool.P256r1() {
		return nil, jwt.ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(signingString))
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, signatureSize)
	r.FillBytes(sig[:signatureSize/2])
	s.FillBytes(sig[signatureSize/2:])
	return sig, nil
}
