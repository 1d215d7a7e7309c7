package cades

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// ESS SigningCertificate / SigningCertificateV2 attributes per
// RFC 2634 / RFC 5035. They bind the signature to a digest of the
// signer certificate.

// essIssuerSerial is the IssuerSerial of a CertificateID: the issuer as
// GeneralNames (a directoryName entry) plus the certificate serial.
type essIssuerSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

type essCertID struct {
	CertHash     []byte
	IssuerSerial essIssuerSerial `asn1:"optional"`
}

type essSigningCertificate struct {
	Certs    []essCertID
	Policies asn1.RawValue `asn1:"optional"`
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  essIssuerSerial `asn1:"optional"`
}

type essSigningCertificateV2 struct {
	Certs    []essCertIDv2
	Policies asn1.RawValue `asn1:"optional"`
}

// newIssuerSerial wraps the certificate's issuer DN as a
// GeneralName(directoryName) together with its serial.
func newIssuerSerial(cert *x509.Certificate) (essIssuerSerial, error) {
	// GeneralNames ::= SEQUENCE OF GeneralName; directoryName is the
	// context tag 4, explicit around the DN.
	dirName, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: cert.RawIssuer})
	if err != nil {
		return essIssuerSerial{}, err
	}
	names := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: dirName}
	return essIssuerSerial{Issuer: names, Serial: cert.SerialNumber}, nil
}

// buildSigningCertificateV1 creates the SHA-1 based attribute DER.
func buildSigningCertificateV1(cert *x509.Certificate) ([]byte, error) {
	issuerSerial, err := newIssuerSerial(cert)
	if err != nil {
		return nil, err
	}
	digest := hashOf(crypto.SHA1, cert.Raw)
	attr := essSigningCertificate{
		Certs: []essCertID{{CertHash: digest, IssuerSerial: issuerSerial}},
	}
	return asn1.Marshal(attr)
}

// buildSigningCertificateV2 creates the attribute DER under the given
// digest algorithm; the SHA-256 default omits the algorithm field.
func buildSigningCertificateV2(cert *x509.Certificate, hash crypto.Hash) ([]byte, error) {
	issuerSerial, err := newIssuerSerial(cert)
	if err != nil {
		return nil, err
	}
	id := essCertIDv2{
		CertHash:     hashOf(hash, cert.Raw),
		IssuerSerial: issuerSerial,
	}
	if hash != crypto.SHA256 {
		oid, err := digestOIDOf(hash)
		if err != nil {
			return nil, err
		}
		id.HashAlgorithm = pkix.AlgorithmIdentifier{Algorithm: oid}
	}
	attr := essSigningCertificateV2{Certs: []essCertIDv2{id}}
	return asn1.Marshal(attr)
}

// verifySigningCertificateAttribute recomputes the signer-certificate
// digest for every CertificateID and passes when any entry matches.
func verifySigningCertificateAttribute(si *signerInfo, signerCert *x509.Certificate) error {
	v1 := si.findAttribute(oidAttributeSigningCert)
	v2 := si.findAttribute(oidAttributeSigningCertV2)
	if v1 == nil && v2 == nil {
		return verifyErr(ErrMissingAttribute, "No signing certificate attribute in signed data.")
	}
	if v1 != nil {
		der, err := attributeValue(v1)
		if err != nil {
			return verifyErrf(ErrParse, "malformed SigningCertificate attribute: %v", err)
		}
		var attr essSigningCertificate
		if _, err := asn1.Unmarshal(der, &attr); err != nil {
			return verifyErrf(ErrParse, "malformed SigningCertificate attribute: %v", err)
		}
		if len(attr.Certs) == 0 {
			return verifyErr(ErrCertHashMismatch, "At least one certificate is expected in the signed data.")
		}
		if !anyHashMatchesV1(attr.Certs, signerCert) {
			return verifyErr(ErrCertHashMismatch, "The CMS signing certificate hash comparing with signed attributes failed.")
		}
	}
	if v2 != nil {
		der, err := attributeValue(v2)
		if err != nil {
			return verifyErrf(ErrParse, "malformed SigningCertificateV2 attribute: %v", err)
		}
		var attr essSigningCertificateV2
		if _, err := asn1.Unmarshal(der, &attr); err != nil {
			return verifyErrf(ErrParse, "malformed SigningCertificateV2 attribute: %v", err)
		}
		if len(attr.Certs) == 0 {
			return verifyErr(ErrCertHashMismatch, "At least one certificate is expected in the signed data.")
		}
		if !anyHashMatchesV2(attr.Certs, signerCert) {
			return verifyErr(ErrCertHashMismatch, "The CMS signing certificate hash comparing with signed attributes failed.")
		}
	}
	return nil
}

func anyHashMatchesV1(ids []essCertID, cert *x509.Certificate) bool {
	expected := hashOf(crypto.SHA1, cert.Raw)
	for _, id := range ids {
		if bytes.Equal(id.CertHash, expected) {
			return true
		}
	}
	return false
}

func anyHashMatchesV2(ids []essCertIDv2, cert *x509.Certificate) bool {
	for _, id := range ids {
		hash := crypto.SHA256
		if id.HashAlgorithm.Algorithm != nil {
			h, err := hashByOID(id.HashAlgorithm.Algorithm)
			if err != nil {
				continue
			}
			hash = h
		}
		if bytes.Equal(id.CertHash, hashOf(hash, cert.Raw)) {
			return true
		}
	}
	return false
}

func hashOf(hash crypto.Hash, data []byte) []byte {
	h := hash.New()
	h.Write(data)
	return h.Sum(nil)
}

func digestOIDOf(hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch hash {
	case crypto.SHA1:
		return oidDigestSHA1, nil
	case crypto.SHA256:
		return oidDigestSHA256, nil
	case crypto.SHA384:
		return oidDigestSHA384, nil
	case crypto.SHA512:
		return oidDigestSHA512, nil
	}
	return nil, verifyErrf(ErrParse, "unsupported digest algorithm %v", hash)
}

func hashByOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(oidDigestSHA1):
		return crypto.SHA1, nil
	case oid.Equal(oidDigestSHA256):
		return crypto.SHA256, nil
	case oid.Equal(oidDigestSHA384):
		return crypto.SHA384, nil
	case oid.Equal(oidDigestSHA512):
		return crypto.SHA512, nil
	}
	return 0, verifyErrf(ErrParse, "unsupported digest algorithm %v", oid)
}
