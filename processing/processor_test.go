package processing

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ebfe/brainpool"
	"github.com/rs/zerolog"

	"github.com/erp-fd/erp-processing-context/accesstoken"
	"github.com/erp-fd/erp-processing-context/cades"
	"github.com/erp-fd/erp-processing-context/config"
	"github.com/erp-fd/erp-processing-context/repository"
	"github.com/erp-fd/erp-processing-context/tsl"
)

const testAud = "https://erp.zentral.erp.ti-dienste.de/"

func newSignerCert(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	// Admission extension naming the Arzt profession, as the QES check
	// of the prescription signature demands
	type professionInfo struct{ Oids []asn1.ObjectIdentifier }
	type admission struct{ ProfessionInfos []professionInfo }
	type admissions struct{ Contents []admission }
	admissionDER, err := asn1.Marshal(admissions{Contents: []admission{{
		ProfessionInfos: []professionInfo{{Oids: []asn1.ObjectIdentifier{{1, 2, 276, 0, 76, 4, 30}}}},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Fachdienst Test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions:       []pkix.Extension{{Id: asn1.ObjectIdentifier{1, 3, 36, 8, 3, 3}, Value: admissionDER}},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func buildAccessToken(t *testing.T, key *ecdsa.PrivateKey, exp int64) string {
	t.Helper()
	claims := map[string]any{
		"iat": exp - 3600, "exp": exp,
		"iss": "https://idp.test", "sub": "s", "jti": "j",
		"acr": accesstoken.DefaultACR, "aud": testAud,
		"idNummer": "X110465770", "professionOID": tsl.OidArzt,
	}
	headerJSON, _ := json.Marshal(map[string]any{"alg": accesstoken.AlgBP256R1, "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	sig, err := accesstoken.MethodBP256.Sign(signingInput, key)
	if err != nil {
		t.Fatal(err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// permissiveStore accepts every certificate; the engine only needs the
// interface contract here.
type permissiveStore struct{}

func (permissiveStore) VerifyCertificate(_ tsl.VerifyMode, _ *x509.Certificate, _ []tsl.CertificateType, _ []byte) error {
	return nil
}

func testEngine(t *testing.T, mode config.ValidationMode) (*Engine, *ecdsa.PrivateKey) {
	t.Helper()
	repo, err := repository.Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	idpKey, err := ecdsa.GenerateKey(brainpool.P256r1(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	settings := &config.Settings{
		JwtAudURI:               testAud,
		JwtIatToleranceSeconds:  2,
		ValidationMode:          mode,
		ReportUnknownExtensions: config.ReportUnknownExtensionsOff,
	}
	engine, err := New(repo, settings, permissiveStore{}, &idpKey.PublicKey, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return engine, idpKey
}

func TestProcessPrescriptionValidationDisabled(t *testing.T) {
	engine, idpKey := testEngine(t, config.ValidationModeDisable)
	signerCert, signerKey := newSignerCert(t)
	payload := []byte(`{"resourceType":"Bundle"}`)
	signingTime := time.Now().UTC().Truncate(time.Second)
	doc, err := cades.Sign(signerCert, signerKey, payload, cades.SignOptions{SigningTime: &signingTime})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := doc.Encode()
	if err != nil {
		t.Fatal(err)
	}
	token := buildAccessToken(t, idpKey, time.Now().Unix()+600)

	result, err := engine.ProcessPrescription(context.Background(), Request{
		AccessToken:        token,
		SignedPrescription: encoded,
	})
	if err != nil {
		t.Fatalf("ProcessPrescription: %v", err)
	}
	if result.Token.ProfessionOID() != tsl.OidArzt {
		t.Errorf("professionOID = %q", result.Token.ProfessionOID())
	}
	if len(result.Signers) != 1 {
		t.Errorf("signers = %d", len(result.Signers))
	}
	if result.Failed() {
		t.Error("disabled validation must not fail")
	}
}

func TestProcessPrescriptionRejectsBadToken(t *testing.T) {
	engine, idpKey := testEngine(t, config.ValidationModeDisable)
	token := buildAccessToken(t, idpKey, time.Now().Unix()-10) // expired
	_, err := engine.ProcessPrescription(context.Background(), Request{
		AccessToken:        token,
		SignedPrescription: "irrelevant",
	})
	if err == nil {
		t.Fatal("expired token must be rejected before CMS processing")
	}
	var terr *accesstoken.Error
	if !errors.As(err, &terr) || terr.Kind != accesstoken.ErrExpired {
		t.Errorf("error = %v; want expired token error", err)
	}
}

func TestSignReceiptRoundTrip(t *testing.T) {
	engine, _ := testEngine(t, config.ValidationModeDisable)
	cert, key := newSignerCert(t)
	receipt := []byte(`{"resourceType":"Bundle","type":"document"}`)
	encoded, err := engine.SignReceipt(cert, key, receipt, time.Now().UTC())
	if err != nil {
		t.Fatalf("SignReceipt: %v", err)
	}
	doc, err := cades.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := doc.Verify(cades.VerifyOptions{TrustedCerts: []*x509.Certificate{cert}}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(doc.Payload()) != string(receipt) {
		t.Error("receipt payload mismatch")
	}
}
