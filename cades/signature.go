package cades

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"strings"
	"time"

	"github.com/erp-fd/erp-processing-context/tsl"
)

// SignedDocument is a parsed CAdES-BES container. Obtain one with
// Parse (then Verify) or with Sign.
type SignedDocument struct {
	content signedData
	payload []byte
	certs   []*x509.Certificate
	signers []*x509.Certificate
}

// VerifyOptions select the trust decision path. Exactly one of
// TrustStore or TrustedCerts should be set; with neither, only the
// cryptographic and attribute checks run.
type VerifyOptions struct {
	// TrustStore verifies path and revocation; the signer certificate
	// itself was already checked against the signature, so the store
	// runs without re-verifying the signer binding.
	TrustStore tsl.TrustStore
	Mode       tsl.VerifyMode
	// AllowedUsages passed to the trust store, default {QES, ENC}.
	AllowedUsages []tsl.CertificateType
	// TrustedCerts enables the offline mode against explicit anchors.
	TrustedCerts []*x509.Certificate
	// ProfessionOIDs, when set, requires every signer certificate to
	// carry at least one of the role OIDs in its Admission extension.
	ProfessionOIDs []string
}

// Parse decodes the Base64 CMS envelope. Verification is separate so
// counter-signature handling can reuse the parsed structure.
func Parse(base64Data string) (*SignedDocument, error) {
	plain, err := base64.StdEncoding.DecodeString(cleanupBase64(base64Data))
	if err != nil {
		return nil, verifyErrf(ErrParse, "invalid Base64: %v", err)
	}
	var outer contentInfo
	rest, err := asn1.Unmarshal(plain, &outer)
	if err != nil {
		return nil, verifyErrf(ErrParse, "malformed CMS envelope: %v", err)
	}
	if len(rest) > 0 {
		return nil, verifyErr(ErrParse, "trailing data after CMS envelope")
	}
	if !outer.ContentType.Equal(oidSignedData) {
		return nil, verifyErrf(ErrParse, "not a SignedData container: %v", outer.ContentType)
	}
	doc := &SignedDocument{}
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &doc.content); err != nil {
		return nil, verifyErrf(ErrParse, "malformed SignedData: %v", err)
	}
	doc.certs, err = doc.content.Certificates.parse()
	if err != nil {
		return nil, verifyErrf(ErrParse, "malformed certificate list: %v", err)
	}
	if len(doc.content.ContentInfo.Content.Bytes) > 0 {
		var payload asn1.RawValue
		if _, err := asn1.Unmarshal(doc.content.ContentInfo.Content.Bytes, &payload); err != nil {
			return nil, verifyErrf(ErrPayloadDecode, "cannot extract payload: %v", err)
		}
		doc.payload = payload.Bytes
	}
	return doc, nil
}

// cleanupBase64 drops whitespace that PEM-ish transports add.
func cleanupBase64(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// Verify checks every SignerInfo: mandatory signed attributes, the ESS
// certificate digest, the message digest, the signature itself, and —
// when configured — the trust path plus the profession-OID policy.
func (d *SignedDocument) Verify(opts VerifyOptions) error {
	signerInfos := d.content.SignerInfos
	if len(signerInfos) == 0 {
		return verifyErr(ErrParse, "No signer infos provided.")
	}
	ocspDER, err := d.content.extractOCSPResponse()
	if err != nil {
		return err
	}
	usages := opts.AllowedUsages
	if len(usages) == 0 {
		usages = []tsl.CertificateType{tsl.CertificateTypeQES, tsl.CertificateTypeHPEnc}
	}
	d.signers = nil
	for i := range signerInfos {
		si := &signerInfos[i]
		if err := checkMandatoryAttributes(si); err != nil {
			return err
		}
		signerCert := d.signerCertificate(si)
		if signerCert == nil {
			return verifyErr(ErrNoSignerCert, "No signer certificate.")
		}
		if err := verifySigningCertificateAttribute(si, signerCert); err != nil {
			return err
		}
		if err := d.verifySignature(si, signerCert); err != nil {
			return err
		}
		if opts.TrustStore != nil {
			if err := opts.TrustStore.VerifyCertificate(opts.Mode, signerCert, usages, ocspDER); err != nil {
				return err
			}
		} else if len(opts.TrustedCerts) > 0 {
			if err := verifyAgainstAnchors(signerCert, d.certs, opts.TrustedCerts); err != nil {
				return err
			}
		}
		if len(opts.ProfessionOIDs) > 0 && !tsl.CheckRoles(signerCert, opts.ProfessionOIDs) {
			return &UnexpectedProfessionOidError{Msg: "The QES-Certificate does not have expected ProfessionOID."}
		}
		d.signers = append(d.signers, signerCert)
	}
	return nil
}

// checkMandatoryAttributes enforces the CAdES-BES minimum.
func checkMandatoryAttributes(si *signerInfo) error {
	if si.findAttribute(oidAttributeContentType) == nil {
		return verifyErr(ErrMissingAttribute, "No content type in signed info.")
	}
	if si.findAttribute(oidAttributeSigningTime) == nil {
		return verifyErr(ErrMissingAttribute, "No signing time in signed info.")
	}
	if si.findAttribute(oidAttributeMessageDigest) == nil {
		return verifyErr(ErrMissingAttribute, "No message digest in signed info.")
	}
	if si.findAttribute(oidAttributeSigningCert) == nil && si.findAttribute(oidAttributeSigningCertV2) == nil {
		return verifyErr(ErrMissingAttribute, "No certificate in signed info.")
	}
	return nil
}

// signerCertificate matches the SignerInfo to a certificate from the
// container by issuer and serial.
func (d *SignedDocument) signerCertificate(si *signerInfo) *x509.Certificate {
	for _, cert := range d.certs {
		if cert.SerialNumber.Cmp(si.IssuerAndSerialNumber.SerialNumber) != 0 {
			continue
		}
		if bytes.Equal(cert.RawIssuer, si.IssuerAndSerialNumber.IssuerName.FullBytes) {
			return cert
		}
	}
	return nil
}

// verifySignature checks the messageDigest attribute against the
// payload and the signature over the signed attributes.
func (d *SignedDocument) verifySignature(si *signerInfo, signerCert *x509.Certificate) error {
	hash, err := hashByOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	digestAttr := si.findAttribute(oidAttributeMessageDigest)
	expected, err := attributeValue(digestAttr)
	if err != nil {
		return verifyErrf(ErrParse, "malformed messageDigest attribute: %v", err)
	}
	var messageDigest []byte
	if _, err := asn1.Unmarshal(expected, &messageDigest); err != nil {
		return verifyErrf(ErrParse, "malformed messageDigest attribute: %v", err)
	}
	if d.payload != nil && !bytes.Equal(messageDigest, hashOf(hash, d.payload)) {
		return verifyErr(ErrSignature, "message digest mismatch")
	}
	signedBytes, err := marshalAttributes(si.AuthenticatedAttributes)
	if err != nil {
		return verifyErrf(ErrParse, "cannot marshal signed attributes: %v", err)
	}
	algo, err := signatureAlgorithm(signerCert, hash)
	if err != nil {
		return err
	}
	if err := signerCert.CheckSignature(algo, signedBytes, si.EncryptedDigest); err != nil {
		return &VerificationError{Kind: ErrSignature, Msg: "CMS_verify failed.", Err: err}
	}
	return nil
}

func signatureAlgorithm(cert *x509.Certificate, hash crypto.Hash) (x509.SignatureAlgorithm, error) {
	switch cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return x509.ECDSAWithSHA256, nil
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA1:
			return x509.ECDSAWithSHA1, nil
		}
	case *rsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA1:
			return x509.SHA1WithRSA, nil
		}
	}
	return x509.UnknownSignatureAlgorithm, verifyErrf(ErrSignature, "unsupported signer key/digest combination")
}

// verifyAgainstAnchors builds a chain to the explicit trust anchors.
func verifyAgainstAnchors(signerCert *x509.Certificate, containerCerts, anchors []*x509.Certificate) error {
	roots := x509.NewCertPool()
	for _, cert := range anchors {
		roots.AddCert(cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range containerCerts {
		intermediates.AddCert(cert)
	}
	_, err := signerCert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return &VerificationError{Kind: ErrSignature, Msg: "CMS_verify failed.", Err: err}
	}
	return nil
}

// Payload returns the embedded content.
func (d *SignedDocument) Payload() []byte { return d.payload }

// SignerCertificates returns the verified signer certificates; empty
// before Verify.
func (d *SignedDocument) SignerCertificates() []*x509.Certificate { return d.signers }

// Certificates returns all certificates attached to the container.
func (d *SignedDocument) Certificates() []*x509.Certificate { return d.certs }

// SigningTime reads the signingTime attribute of the first signer that
// carries one.
func (d *SignedDocument) SigningTime() (time.Time, bool) {
	for i := range d.content.SignerInfos {
		attr := d.content.SignerInfos[i].findAttribute(oidAttributeSigningTime)
		if attr == nil {
			continue
		}
		der, err := attributeValue(attr)
		if err != nil {
			continue
		}
		var t time.Time
		if _, err := asn1.Unmarshal(der, &t); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MessageDigest reads the messageDigest attribute of the first signer.
func (d *SignedDocument) MessageDigest() ([]byte, bool) {
	for i := range d.content.SignerInfos {
		attr := d.content.SignerInfos[i].findAttribute(oidAttributeMessageDigest)
		if attr == nil {
			continue
		}
		der, err := attributeValue(attr)
		if err != nil {
			continue
		}
		var digest []byte
		if _, err := asn1.Unmarshal(der, &digest); err == nil {
			return digest, true
		}
	}
	return nil, false
}

// Encode serializes the container as Base64 DER.
func (d *SignedDocument) Encode() (string, error) {
	inner, err := asn1.Marshal(d.content)
	if err != nil {
		return "", err
	}
	outer := contentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: inner, IsCompound: true},
	}
	der, err := asn1.Marshal(outer)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// SignOptions configure Sign.
type SignOptions struct {
	// SigningTime is added as a signed attribute (UTCTime); when nil,
	// the current time is used.
	SigningTime *time.Time
	// OCSPResponse embeds a DER OCSP response as the revocation
	// container.
	OCSPResponse []byte
}

// Sign creates a CAdES-BES container over the payload. The digest
// algorithm is SHA-256 for every signer key; the matching ESS
// SigningCertificate attribute is synthesized.
func Sign(cert *x509.Certificate, key crypto.Signer, payload []byte, opts SignOptions) (*SignedDocument, error) {
	hash := crypto.SHA256
	digestOID, err := digestOIDOf(hash)
	if err != nil {
		return nil, err
	}
	contentDER, err := asn1.Marshal(payload)
	if err != nil {
		return nil, err
	}
	doc := &SignedDocument{
		payload: payload,
		certs:   []*x509.Certificate{cert},
	}
	doc.content = signedData{
		Version:                    1,
		DigestAlgorithmIdentifiers: []algorithmIdentifier{{Algorithm: digestOID}},
		ContentInfo: contentInfo{
			ContentType: oidData,
			Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: contentDER, IsCompound: true},
		},
	}

	attrs := &attributes{}
	if err := attrs.add(oidAttributeContentType, oidData); err != nil {
		return nil, err
	}
	if err := attrs.add(oidAttributeMessageDigest, hashOf(hash, payload)); err != nil {
		return nil, err
	}
	signingTime := time.Now()
	if opts.SigningTime != nil {
		signingTime = *opts.SigningTime
	}
	if err := attrs.add(oidAttributeSigningTime, signingTime.UTC()); err != nil {
		return nil, err
	}
	var essDER []byte
	if hash == crypto.SHA1 {
		essDER, err = buildSigningCertificateV1(cert)
		if err != nil {
			return nil, err
		}
		attrs.addRaw(oidAttributeSigningCert, essDER)
	} else {
		essDER, err = buildSigningCertificateV2(cert, hash)
		if err != nil {
			return nil, err
		}
		attrs.addRaw(oidAttributeSigningCertV2, essDER)
	}
	finalAttrs, err := attrs.forMarshaling()
	if err != nil {
		return nil, err
	}
	signedBytes, err := marshalAttributes(finalAttrs)
	if err != nil {
		return nil, err
	}
	signature, err := signDigest(key, hash, signedBytes)
	if err != nil {
		return nil, err
	}
	encryptionOID, err := encryptionOIDFor(key)
	if err != nil {
		return nil, err
	}
	doc.content.SignerInfos = []signerInfo{{
		Version: 1,
		IssuerAndSerialNumber: issuerAndSerial{
			IssuerName:   asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		},
		DigestAlgorithm:           algorithmIdentifier{Algorithm: digestOID},
		AuthenticatedAttributes:   finalAttrs,
		DigestEncryptionAlgorithm: algorithmIdentifier{Algorithm: encryptionOID},
		EncryptedDigest:           signature,
	}}
	if opts.OCSPResponse != nil {
		if err := doc.content.embedOCSPResponse(opts.OCSPResponse); err != nil {
			return nil, err
		}
	}
	doc.content.Certificates, err = marshalCertificates(doc.certs)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func signDigest(key crypto.Signer, hash crypto.Hash, data []byte) ([]byte, error) {
	digest := hashOf(hash, data)
	return key.Sign(rand.Reader, digest, hash)
}

func encryptionOIDFor(key crypto.Signer) (asn1.ObjectIdentifier, error) {
	switch key.Public().(type) {
	case *ecdsa.PublicKey:
		return oidSignatureECDSASHA256, nil
	case *rsa.PublicKey:
		return oidSignatureRSASHA256, nil
	}
	return nil, verifyErrf(ErrSignature, "unsupported private key type %T", key.Public())
}
