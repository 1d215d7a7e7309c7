package accesstoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"encoding/pem"
	"testing"

	"github.com/ebfe/brainpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalSPKI(t *testing.T, pub *ecdsa.PublicKey) []byte {
	t.Helper()
	params, err := asn1.Marshal(oidBrainpoolP256r1)
	require.NoError(t, err)
	point := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  oidECPublicKey,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	})
	require.NoError(t, err)
	return der
}

func TestParsePublicKeyFromSPKI(t *testing.T) {
	key, err := ecdsa.GenerateKey(brainpool.P256r1(), rand.Reader)
	require.NoError(t, err)
	der := marshalSPKI(t, &key.PublicKey)

	parsed, err := ParsePublicKey(der)
	require.NoError(t, err)
	assert.Zero(t, parsed.X.Cmp(key.PublicKey.X))
	assert.Zero(t, parsed.Y.Cmp(key.PublicKey.Y))

	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	fromPEM, err := ParsePublicKey(pemData)
	require.NoError(t, err)
	assert.Zero(t, fromPEM.X.Cmp(key.PublicKey.X))
}

func TestParsePublicKeyRejectsNIST(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	params, err := asn1.Marshal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7})
	require.NoError(t, err)
	point := elliptic.Marshal(key.PublicKey.Curve, key.PublicKey.X, key.PublicKey.Y)
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  oidECPublicKey,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	})
	require.NoError(t, err)
	_, err = ParsePublicKey(der)
	assert.Error(t, err, "NIST curve must be rejected")
}

func TestParsePublicKeyGarbage(t *testing.T) {
	_, err := ParsePublicKey([]byte("garbage"))
	assert.Error(t, err)
}
