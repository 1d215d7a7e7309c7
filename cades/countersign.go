package cades

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
)

// Counter-signature handling for receipts: the inner CAdES-BES
// container is verified as usual; the countersignature attribute on the
// first SignerInfo is then verified against a separately supplied
// Fachdienst certificate.

// VerifyCounterSignature verifies the unsigned counterSignature
// attribute of the first signer. The counter-signed value is the inner
// signature (EncryptedDigest) per RFC 5652 section 11.4.
func (d *SignedDocument) VerifyCounterSignature(fachdienstCert *x509.Certificate) error {
	if len(d.content.SignerInfos) == 0 {
		return verifyErr(ErrParse, "No signer infos provided.")
	}
	inner := &d.content.SignerInfos[0]
	var counterDER []byte
	for i := range inner.UnauthenticatedAttributes {
		if inner.UnauthenticatedAttributes[i].Type.Equal(oidAttributeCounterSig) {
			der, err := attributeValue(&inner.UnauthenticatedAttributes[i].Value)
			if err != nil {
				return verifyErrf(ErrParse, "malformed counterSignature attribute: %v", err)
			}
			counterDER = der
			break
		}
	}
	if counterDER == nil {
		return verifyErr(ErrMissingAttribute, "No counter signature in signed info.")
	}
	var counter signerInfo
	if _, err := asn1.Unmarshal(counterDER, &counter); err != nil {
		return verifyErrf(ErrParse, "malformed counterSignature SignerInfo: %v", err)
	}
	hash, err := hashByOID(counter.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	// the message digest of a countersignature covers the inner
	// signature value
	digestAttr := counter.findAttribute(oidAttributeMessageDigest)
	if digestAttr == nil {
		return verifyErr(ErrMissingAttribute, "No message digest in signed info.")
	}
	der, err := attributeValue(digestAttr)
	if err != nil {
		return verifyErrf(ErrParse, "malformed messageDigest attribute: %v", err)
	}
	var messageDigest []byte
	if _, err := asn1.Unmarshal(der, &messageDigest); err != nil {
		return verifyErrf(ErrParse, "malformed messageDigest attribute: %v", err)
	}
	if !bytes.Equal(messageDigest, hashOf(hash, inner.EncryptedDigest)) {
		return verifyErr(ErrSignature, "counter signature digest mismatch")
	}
	signedBytes, err := marshalAttributes(counter.AuthenticatedAttributes)
	if err != nil {
		return verifyErrf(ErrParse, "cannot marshal signed attributes: %v", err)
	}
	algo, err := signatureAlgorithm(fachdienstCert, hash)
	if err != nil {
		return err
	}
	if err := fachdienstCert.CheckSignature(algo, signedBytes, counter.EncryptedDigest); err != nil {
		return &VerificationError{Kind: ErrSignature, Msg: "counter signature verification failed", Err: err}
	}
	return nil
}

// CounterSign adds a counterSignature attribute over the first signer's
// signature value; used when the Fachdienst countersigns a receipt.
func (d *SignedDocument) CounterSign(cert *x509.Certificate, key crypto.Signer) error {
	if len(d.content.SignerInfos) == 0 {
		return verifyErr(ErrParse, "No signer infos provided.")
	}
	inner := &d.content.SignerInfos[0]
	hash := crypto.SHA256
	digestOID, err := digestOIDOf(hash)
	if err != nil {
		return err
	}
	attrs := &attributes{}
	if err := attrs.add(oidAttributeContentType, oidData); err != nil {
		return err
	}
	if err := attrs.add(oidAttributeMessageDigest, hashOf(hash, inner.EncryptedDigest)); err != nil {
		return err
	}
	essDER, err := buildSigningCertificateV2(cert, hash)
	if err != nil {
		return err
	}
	attrs.addRaw(oidAttributeSigningCertV2, essDER)
	finalAttrs, err := attrs.forMarshaling()
	if err != nil {
		return err
	}
	signedBytes, err := marshalAttributes(finalAttrs)
	if err != nil {
		return err
	}
	signature, err := signDigest(key, hash, signedBytes)
	if err != nil {
		return err
	}
	encryptionOID, err := encryptionOIDFor(key)
	if err != nil {
		return err
	}
	counter := signerInfo{
		Version: 1,
		IssuerAndSerialNumber: issuerAndSerial{
			IssuerName:   asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		},
		DigestAlgorithm:           algorithmIdentifier{Algorithm: digestOID},
		AuthenticatedAttributes:   finalAttrs,
		DigestEncryptionAlgorithm: algorithmIdentifier{Algorithm: encryptionOID},
		EncryptedDigest:           signature,
	}
	counterDER, err := asn1.Marshal(counter)
	if err != nil {
		return err
	}
	inner.UnauthenticatedAttributes = append(inner.UnauthenticatedAttributes, attribute{
		Type:  oidAttributeCounterSig,
		Value: asn1.RawValue{Tag: 17, IsCompound: true, Bytes: counterDER},
	})
	d.certs = append(d.certs, cert)
	d.content.Certificates, err = marshalCertificates(d.certs)
	if err != nil {
		return err
	}
	return nil
}
