package tsl

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// admissionExtensionDER builds a minimal Admission extension carrying
// the given profession OIDs.
func admissionExtensionDER(t *testing.T, oids ...asn1.ObjectIdentifier) []byte {
	t.Helper()
	type professionInfo struct {
		Oids []asn1.ObjectIdentifier
	}
	type admission struct {
		ProfessionInfos []professionInfo
	}
	type admissions struct {
		Contents []admission
	}
	der, err := asn1.Marshal(admissions{Contents: []admission{{
		ProfessionInfos: []professionInfo{{Oids: oids}},
	}}})
	require.NoError(t, err)
	return der
}

func certWithAdmission(t *testing.T, extensionDER []byte) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(99),
		Subject:      pkix.Name{CommonName: "Dr. Admission"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	if extensionDER != nil {
		template.ExtraExtensions = []pkix.Extension{{Id: oidAdmission, Value: extensionDER}}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestProfessionOIDs(t *testing.T) {
	arzt := asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 30}
	cert := certWithAdmission(t, admissionExtensionDER(t, arzt))
	oids := ProfessionOIDs(cert)
	assert.Contains(t, oids, OidArzt)
}

func TestCheckRoles(t *testing.T) {
	arzt := asn1.ObjectIdentifier{1, 2, 276, 0, 76, 4, 30}
	cert := certWithAdmission(t, admissionExtensionDER(t, arzt))
	assert.True(t, CheckRoles(cert, QESPrescriptionRoles))
	assert.False(t, CheckRoles(cert, []string{OidApotheker}))

	noExt := certWithAdmission(t, nil)
	assert.False(t, CheckRoles(noExt, QESPrescriptionRoles))
}

func TestParseCertificatesPEMAndDER(t *testing.T) {
	cert := certWithAdmission(t, nil)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})

	fromPEM, err := ParseCertificates(pemData)
	require.NoError(t, err)
	assert.Len(t, fromPEM, 1)

	fromDER, err := ParseCertificates(cert.Raw)
	require.NoError(t, err)
	assert.Len(t, fromDER, 1)

	_, err = ParseCertificates([]byte("garbage"))
	assert.Error(t, err)
}
