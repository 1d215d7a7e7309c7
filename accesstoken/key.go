package accesstoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/ebfe/brainpool"
)

// The IDP certificate uses brainpoolP256r1, which the standard x509
// parser rejects as an unsupported curve; the SPKI is therefore pulled
// out of the DER by hand.

var (
	oidECPublicKey     = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidBrainpoolP256r1 = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 7}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

type certificate struct {
	TBS                asn1.RawValue
	SignatureAlgorithm asn1.RawValue
	SignatureValue     asn1.BitString
}

// ParsePublicKey extracts the Brainpool P-256 public key from PEM or
// DER input: a PUBLIC KEY block, a CERTIFICATE block, or raw DER of
// either.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	rest := data
	for {
		block, remainder := pem.Decode(rest)
		if block == nil {
			break
		}
		rest = remainder
		switch block.Type {
		case "PUBLIC KEY":
			return publicKeyFromSPKI(block.Bytes)
		case "CERTIFICATE":
			return publicKeyFromCertificate(block.Bytes)
		}
	}
	// raw DER: try SPKI first, then certificate
	if key, err := publicKeyFromSPKI(data); err == nil {
		return key, nil
	}
	return publicKeyFromCertificate(data)
}

func publicKeyFromSPKI(der []byte) (*ecdsa.PublicKey, error) {
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("accesstoken: malformed SubjectPublicKeyInfo: %w", err)
	}
	return publicKeyOf(spki)
}

func publicKeyFromCertificate(der []byte) (*ecdsa.PublicKey, error) {
	var cert certificate
	if _, err := asn1.Unmarshal(der, &cert); err != nil {
		return nil, fmt.Errorf("accesstoken: malformed certificate: %w", err)
	}
	// walk the TBSCertificate: optional [0] version, serial, signature
	// algorithm, issuer, validity, subject, then the SPKI
	rest := cert.TBS.Bytes
	var field asn1.RawValue
	var err error
	if rest, err = asn1.Unmarshal(rest, &field); err != nil {
		return nil, fmt.Errorf("accesstoken: malformed TBSCertificate: %w", err)
	}
	if field.Class == asn1.ClassContextSpecific && field.Tag == 0 {
		// explicit version; the serial follows
		if rest, err = asn1.Unmarshal(rest, &field); err != nil {
			return nil, fmt.Errorf("accesstoken: malformed TBSCertificate: %w", err)
		}
	}
	// field now holds the serial; skip signature, issuer, validity,
	// subject
	for i := 0; i < 4; i++ {
		if rest, err = asn1.Unmarshal(rest, &field); err != nil {
			return nil, fmt.Errorf("accesstoken: malformed TBSCertificate: %w", err)
		}
	}
	if _, err = asn1.Unmarshal(rest, &field); err != nil {
		return nil, fmt.Errorf("accesstoken: missing SubjectPublicKeyInfo: %w", err)
	}
	return publicKeyFromSPKI(field.FullBytes)
}

func publicKeyOf(spki subjectPublicKeyInfo) (*ecdsa.PublicKey, error) {
	if !spki.Algorithm.Algorithm.Equal(oidECPublicKey) {
		return nil, fmt.Errorf("accesstoken: not an EC public key: %v", spki.Algorithm.Algorithm)
	}
	var curveOID asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(spki.Algorithm.Parameters.FullBytes, &curveOID); err != nil {
		return nil, fmt.Errorf("accesstoken: missing curve parameters: %w", err)
	}
	if !curveOID.Equal(oidBrainpoolP256r1) {
		return nil, fmt.Errorf("accesstoken: unsupported curve: %v", curveOID)
	}
	curve := brainpool.P256r1()
	x, y := unmarshalPoint(curve, spki.PublicKey.RightAlign())
	if x == nil {
		return nil, fmt.Errorf("accesstoken: invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// unmarshalPoint decodes an uncompressed SEC1 point on the curve.
func unmarshalPoint(curve elliptic.Curve, data []byte) (*big.Int, *big.Int) {
	byteLen := (curve.Params().BitSize + 7) / 8
	if len(data) != 1+2*byteLen || data[0] != 4 {
		return nil, nil
	}
	x := new(big.Int).SetBytes(data[1 : 1+byteLen])
	y := new(big.Int).SetBytes(data[1+byteLen:])
	if !curve.IsOnCurve(x, y) {
		return nil, nil
	}
	return x, y
}
