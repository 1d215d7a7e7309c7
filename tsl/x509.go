package tsl

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
)

// oidAdmission is the TeleTrusT Admission extension (1.3.36.8.3.3)
// carrying the certificate holder's profession OIDs.
var oidAdmission = asn1.ObjectIdentifier{1, 3, 36, 8, 3, 3}

// ParseCertificates accepts PEM (possibly several blocks) or raw DER.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		block, remainder := pem.Decode(rest)
		if block == nil {
			break
		}
		rest = remainder
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) > 0 {
		return certs, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("neither PEM nor DER certificate: %w", err)
	}
	return []*x509.Certificate{cert}, nil
}

// ProfessionOIDs extracts the profession OIDs from the certificate's
// Admission extension. The extension nests ProfessionInfo sequences;
// every OBJECT IDENTIFIER found below the extension that is not the
// extension id itself counts as a role.
func ProfessionOIDs(cert *x509.Certificate) []string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidAdmission) {
			continue
		}
		var oids []string
		collectOIDs(ext.Value, &oids)
		return oids
	}
	return nil
}

// collectOIDs walks nested ASN.1 structures gathering OBJECT
// IDENTIFIER values.
func collectOIDs(data []byte, out *[]string) {
	rest := data
	for len(rest) > 0 {
		var raw asn1.RawValue
		remainder, err := asn1.Unmarshal(rest, &raw)
		if err != nil {
			return
		}
		rest = remainder
		switch {
		case raw.Class == asn1.ClassUniversal && raw.Tag == asn1.TagOID:
			var oid asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(raw.FullBytes, &oid); err == nil && !oid.Equal(oidAdmission) {
				*out = append(*out, oid.String())
			}
		case raw.IsCompound:
			collectOIDs(raw.Bytes, out)
		}
	}
}

// CheckRoles reports whether the certificate's Admission extension
// lists at least one of the wanted profession OIDs.
func CheckRoles(cert *x509.Certificate, wanted []string) bool {
	have := ProfessionOIDs(cert)
	for _, w := range wanted {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
