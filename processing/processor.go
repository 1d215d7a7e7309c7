// Package processing is the end-to-end engine: a request's access
// token is verified first, its CAdES-BES payload second, the extracted
// FHIR document third; receipts re-enter the signature engine. The
// engine owns no network I/O — OCSP and TSL access happen inside the
// trust-store collaborator.
package processing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/accesstoken"
	"github.com/erp-fd/erp-processing-context/cades"
	"github.com/erp-fd/erp-processing-context/config"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/model"
	"github.com/erp-fd/erp-processing-context/repository"
	"github.com/erp-fd/erp-processing-context/tsl"
	"github.com/erp-fd/erp-processing-context/validator"
)

// Engine wires the three verification stages. It is safe for
// concurrent use; per-request state stays on the stack.
type Engine struct {
	repo     *repository.Repository
	settings *config.Settings
	store    tsl.TrustStore
	anchors  []*x509.Certificate
	idpKey   *ecdsa.PublicKey
	log      zerolog.Logger
	metrics  *erpcore.Metrics
}

// New creates an engine. Either store or the trusted-cert directory
// from the settings backs signature trust decisions.
func New(repo *repository.Repository, settings *config.Settings, store tsl.TrustStore, idpKey *ecdsa.PublicKey, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		repo:     repo,
		settings: settings,
		store:    store,
		idpKey:   idpKey,
		log:      log,
		metrics:  erpcore.NewMetrics(),
	}
	if store == nil && settings.CadesBesTrustedCertDir != "" {
		anchors, err := tsl.DirectoryTrustedCerts(settings.CadesBesTrustedCertDir)
		if err != nil {
			return nil, err
		}
		e.anchors = anchors
	}
	return e, nil
}

// Metrics exposes the engine counters.
func (e *Engine) Metrics() *erpcore.Metrics { return e.metrics }

// Request is one prescription submission.
type Request struct {
	// AccessToken is the IDP JWT from the Authorization header.
	AccessToken string
	// SignedPrescription is the Base64 CMS envelope.
	SignedPrescription string
	// AuthoredOn selects the profile view; zero means "now".
	AuthoredOn model.Timestamp
	// ProfileURLs overrides the profiles to validate against; empty
	// uses meta.profile.
	ProfileURLs []string
}

// Result is the engine's verdict.
type Result struct {
	Token       *accesstoken.Token
	Signers     []*x509.Certificate
	Document    *element.Element
	Validation  *validator.Results
	SigningTime time.Time
}

// Failed implements worker.Outcome.
func (r *Result) Failed() bool {
	return r.Validation != nil && !r.Validation.Valid()
}

// ProcessPrescription runs the full pipeline for a signed
// prescription. The deadline on ctx is checked after signature
// verification and again before validation starts; the bundle is
// validated in one pass with no check between its resources.
func (e *Engine) ProcessPrescription(ctx context.Context, req Request) (*Result, error) {
	token, err := e.verifyToken(req.AccessToken)
	if err != nil {
		return nil, err
	}
	doc, signingTime, err := e.verifySignature(req.SignedPrescription)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &Result{
		Token:       token,
		Signers:     doc.SignerCertificates(),
		SigningTime: signingTime,
	}
	if e.settings.ValidationMode == config.ValidationModeDisable {
		return result, nil
	}
	elem, validation, err := e.validatePayload(ctx, doc.Payload(), req)
	if err != nil {
		return nil, err
	}
	result.Document = elem
	result.Validation = validation
	e.metrics.RecordValidation(0, validation.Valid())
	if !validation.Valid() && e.settings.ValidationMode == config.ValidationModeRequireSuccess {
		summary := validation.Summary(erpcore.SeverityError)
		e.log.Warn().Str("summary", summary).Msg("prescription validation failed")
		return result, &ValidationFailedError{Summary: summary}
	}
	return result, nil
}

// ValidationFailedError carries the summary callers return as a 400.
type ValidationFailedError struct {
	Summary string
}

func (e *ValidationFailedError) Error() string {
	return "FHIR validation failed: " + e.Summary
}

func (e *Engine) verifyToken(token string) (*accesstoken.Token, error) {
	cfg := accesstoken.Config{
		AudURI:              e.settings.JwtAudURI,
		IatToleranceSeconds: e.settings.JwtIatToleranceSeconds,
	}
	verified, err := accesstoken.Verify(token, e.idpKey, cfg)
	e.metrics.RecordToken(err == nil)
	if err != nil {
		e.log.Debug().Err(err).Msg("access token rejected")
		return nil, err
	}
	return verified, nil
}

func (e *Engine) verifySignature(base64CMS string) (*cades.SignedDocument, time.Time, error) {
	doc, err := cades.Parse(base64CMS)
	if err != nil {
		e.metrics.RecordCMSVerify(false)
		return nil, time.Time{}, err
	}
	opts := cades.VerifyOptions{
		TrustStore:     e.store,
		Mode:           tsl.VerifyModeQES,
		TrustedCerts:   e.anchors,
		ProfessionOIDs: tsl.QESPrescriptionRoles,
	}
	if err := doc.Verify(opts); err != nil {
		e.metrics.RecordCMSVerify(false)
		return nil, time.Time{}, err
	}
	e.metrics.RecordCMSVerify(true)
	signingTime, _ := doc.SigningTime()
	return doc, signingTime, nil
}

func (e *Engine) validatePayload(ctx context.Context, payload []byte, req Request) (*element.Element, *validator.Results, error) {
	reference := req.AuthoredOn
	if reference.Time().IsZero() {
		reference = model.Now()
	}
	view := e.repo.ViewFor(reference.Time())
	elem, err := parseDocument(e.repo, view, payload)
	if err != nil {
		return nil, nil, err
	}
	opts := validator.DefaultOptions()
	opts.AllowNonLiteralAuthorReference = e.settings.AllowedNonLiteralAuthorRef
	switch e.settings.ReportUnknownExtensions {
	case config.ReportUnknownExtensionsEnabled:
		opts.ReportUnknownExtensions = validator.ReportUnknownExtensionsEnable
	case config.ReportUnknownExtensionsOnlyOpenSlicing:
		opts.ReportUnknownExtensions = validator.ReportUnknownExtensionsOnlyOpenSlicing
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var results *validator.Results
	if len(req.ProfileURLs) > 0 {
		results, err = validator.ValidateWithProfiles(elem, elem.ResourceType(), req.ProfileURLs, opts)
	} else {
		results, err = validator.Validate(elem, elem.ResourceType(), opts)
	}
	if err != nil {
		return nil, nil, err
	}
	return elem, results, nil
}

// parseDocument sniffs XML vs JSON.
func parseDocument(repo *repository.Repository, view *repository.View, payload []byte) (*element.Element, error) {
	for _, b := range payload {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return element.ParseXML(repo, view, payload)
		default:
			return element.ParseJSON(repo, view, payload)
		}
	}
	return nil, fmt.Errorf("processing: empty document")
}

// SignReceipt produces the Fachdienst receipt signature over the
// receipt document.
func (e *Engine) SignReceipt(cert *x509.Certificate, key crypto.Signer, receipt []byte, signingTime time.Time) (string, error) {
	doc, err := cades.Sign(cert, key, receipt, cades.SignOptions{SigningTime: &signingTime})
	if err != nil {
		return "", err
	}
	e.metrics.RecordCMSSign()
	return doc.Encode()
}

// CounterSignReceipt verifies the inner container offline and adds the
// Fachdienst counter-signature.
func (e *Engine) CounterSignReceipt(base64CMS string, cert *x509.Certificate, key crypto.Signer) (string, error) {
	doc, err := cades.Parse(base64CMS)
	if err != nil {
		return "", err
	}
	if err := doc.Verify(cades.VerifyOptions{TrustedCerts: e.anchors}); err != nil {
		return "", err
	}
	if err := doc.CounterSign(cert, key); err != nil {
		return "", err
	}
	e.metrics.RecordCMSSign()
	return doc.Encode()
}
