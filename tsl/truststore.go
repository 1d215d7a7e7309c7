package tsl

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CertificateType is the policy category a certificate must satisfy.
type CertificateType int

const (
	// CertificateTypeQES is a qualified signature certificate of a
	// health-care professional (C.HP.QES).
	CertificateTypeQES CertificateType = iota
	// CertificateTypeHPEnc is the encryption certificate (C.HP.ENC).
	CertificateTypeHPEnc
	// CertificateTypeFD is a Fachdienst signature certificate (C.FD.SIG).
	CertificateTypeFD
)

func (t CertificateType) String() string {
	switch t {
	case CertificateTypeQES:
		return "C.HP.QES"
	case CertificateTypeHPEnc:
		return "C.HP.ENC"
	case CertificateTypeFD:
		return "C.FD.SIG"
	}
	return "unknown"
}

// VerifyMode selects the trust domain a certificate is verified
// against.
type VerifyMode int

const (
	// VerifyModeTSL verifies against the telematik trust service list.
	VerifyModeTSL VerifyMode = iota
	// VerifyModeQES verifies against the qualified (BNetzA) list.
	VerifyModeQES
)

// Error is a pass-through trust-store failure; it keeps the remote
// HTTP status when the store's OCSP/TSL access failed.
type Error struct {
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := "trust store: " + e.Message
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (remote status %d)", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// TrustStore verifies certificate chains and revocation state. The
// signature engine has already verified the signer certificate's
// binding to the signature; implementations therefore run in a
// "no signer-cert verify" fashion and only check path and revocation.
// The optional ocspResponse is the DER response embedded in the CMS
// envelope, if any.
type TrustStore interface {
	VerifyCertificate(mode VerifyMode, cert *x509.Certificate, allowedUsages []CertificateType, ocspResponse []byte) error
}

// KeyProvider hands out signing material; backed by an HSM in
// production, by files in tests. Both calls are synchronous.
type KeyProvider interface {
	GetPrivateKey(certID string) (any, error)
	GetPublicKey(issuer string, alg string) (any, error)
}

// Clock is injected so tests can advance time.
type Clock interface {
	NowUTC() int64
}

// DirectoryTrustedCerts loads PEM or DER certificates from a directory
// for the offline verification mode.
func DirectoryTrustedCerts(dir string) ([]*x509.Certificate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tsl: cannot read trusted cert dir: %w", err)
	}
	var certs []*x509.Certificate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".pem") && !strings.HasSuffix(name, ".der") && !strings.HasSuffix(name, ".crt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("tsl: cannot read %s: %w", name, err)
		}
		parsed, err := ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("tsl: cannot parse %s: %w", name, err)
		}
		certs = append(certs, parsed...)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("tsl: no trusted certificates in %s", dir)
	}
	return certs, nil
}
