package cades

import (
	"encoding/asn1"

	"golang.org/x/crypto/ocsp"
)

// The OCSP revocation container of a CMS envelope: an
// otherRevocationInfoChoice keyed by id-ri-ocsp-response
// (1.3.6.1.5.5.7.16.2) wrapping a single OCSPResponse.

// extractOCSPResponse returns the DER of the embedded OCSP response,
// or nil when the envelope carries none. More than one container per
// envelope is rejected.
func (sd *signedData) extractOCSPResponse() ([]byte, error) {
	if len(sd.CRLs.Bytes) == 0 {
		return nil, nil
	}
	var found []byte
	rest := sd.CRLs.Bytes
	for len(rest) > 0 {
		var choice asn1.RawValue
		remainder, err := asn1.Unmarshal(rest, &choice)
		if err != nil {
			return nil, verifyErrf(ErrParse, "malformed RevocationInfoChoices: %v", err)
		}
		rest = remainder
		if choice.Class != asn1.ClassContextSpecific || choice.Tag != 1 {
			// a plain CRL entry; not consumed here
			continue
		}
		var format asn1.ObjectIdentifier
		infoDER, err := asn1.Unmarshal(choice.Bytes, &format)
		if err != nil {
			return nil, verifyErrf(ErrParse, "malformed OtherRevocationInfoFormat: %v", err)
		}
		if !format.Equal(oidOcspRevocationContainer) {
			continue
		}
		if found != nil {
			return nil, verifyErr(ErrParse, "more than one OCSP revocation container in CMS")
		}
		var info asn1.RawValue
		if _, err := asn1.Unmarshal(infoDER, &info); err != nil {
			return nil, verifyErrf(ErrParse, "malformed OCSP container content: %v", err)
		}
		found = info.FullBytes
	}
	return found, nil
}

// embedOCSPResponse wraps the OCSP response DER into the crls field.
func (sd *signedData) embedOCSPResponse(ocspDER []byte) error {
	// sanity-check the response before embedding
	if _, err := ocsp.ParseResponse(ocspDER, nil); err != nil {
		return verifyErrf(ErrParse, "not a valid OCSP response: %v", err)
	}
	formatDER, err := asn1.Marshal(oidOcspRevocationContainer)
	if err != nil {
		return err
	}
	content := append(formatDER, ocspDER...)
	choiceDER, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: content})
	if err != nil {
		return err
	}
	sd.CRLs = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: choiceDER}
	return nil
}
