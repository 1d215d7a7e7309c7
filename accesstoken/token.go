package accesstoken

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erp-fd/erp-processing-context/tsl"
)

// Claim names per gemSpec_IDP_FD.
const (
	ClaimIat              = "iat"
	ClaimExp              = "exp"
	ClaimNbf              = "nbf"
	ClaimIss              = "iss"
	ClaimSub              = "sub"
	ClaimAcr              = "acr"
	ClaimAud              = "aud"
	ClaimJti              = "jti"
	ClaimIDNumber         = "idNummer"
	ClaimProfessionOID    = "professionOID"
	ClaimOrganizationName = "organizationName"
	ClaimDisplayName      = "display_name"
	ClaimGivenName        = "given_name"
	ClaimFamilyName       = "family_name"
)

// DefaultACR is the authentication strength the IDP asserts for
// card-based logins.
const DefaultACR = "gematik-ehealth-loa-high"

// Config carries the verifier's environment.
type Config struct {
	// AudURI is the registered Fachdienst URI the aud claim must equal.
	AudURI string
	// IatToleranceSeconds tolerates clock skew on the iat claim
	// (default 2).
	IatToleranceSeconds int64
	// ACRContent is the required acr value (default DefaultACR).
	ACRContent string
	// Now is injected so tests can advance time; defaults to UTC now.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c Config) iatTolerance() int64 {
	if c.IatToleranceSeconds == 0 {
		return 2
	}
	return c.IatToleranceSeconds
}

func (c Config) acr() string {
	if c.ACRContent == "" {
		return DefaultACR
	}
	return c.ACRContent
}

// Token is a verified access token.
type Token struct {
	raw    string
	claims jwt.MapClaims
}

// Verify runs the full pipeline: structure, algorithm, required claims
// by role, audience, temporal checks and, last, the signature.
func Verify(token string, publicKey *ecdsa.PublicKey, cfg Config) (*Token, error) {
	header, _, signature, err := splitCompact(token)
	if err != nil {
		return nil, err
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}
	if signature == "" {
		return nil, errf(ErrSignature, "Pre-verification failed - missing signature.")
	}

	claims, err := decodeClaims(token)
	if err != nil {
		return nil, err
	}
	t := &Token{raw: token, claims: claims}
	if err := t.checkRequiredClaims(cfg); err != nil {
		return nil, err
	}
	if err := t.checkAudience(cfg); err != nil {
		return nil, err
	}
	if err := t.checkTemporal(cfg); err != nil {
		return nil, err
	}

	// signature last, per the verification pipeline
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgBP256R1}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return publicKey, nil
	}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &Error{Kind: ErrFormat, Msg: "Pre-verification failed - JWT violates RFC 7519.", Err: err}
		default:
			return nil, &Error{Kind: ErrSignature, Msg: "Verification failed - invalid signature or payload.", Err: err}
		}
	}
	return t, nil
}

// decodeClaims parses the payload into a claim map without touching
// the signature.
func decodeClaims(token string) (jwt.MapClaims, error) {
	_, payload, _, err := splitCompact(token)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, errf(ErrFormat, "Pre-verification failed - erroneous claims document.")
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, errf(ErrFormat, "Pre-verification failed - erroneous claims document.")
	}
	return claims, nil
}

// splitCompact enforces RFC 7519 7.2.1: exactly two periods.
func splitCompact(token string) (header, payload, signature string, err error) {
	if strings.Count(token, ".") != 2 {
		return "", "", "", errf(ErrFormat, "Pre-verification failed - expecting JWS Compact Serialization.")
	}
	parts := strings.SplitN(token, ".", 3)
	return parts[0], parts[1], parts[2], nil
}

// checkHeader decodes the JOSE header and pins the algorithm.
func checkHeader(header string) error {
	if header == "" {
		return errf(ErrFormat, "Pre-verification failed - JWT violates RFC 7519.")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		return errf(ErrFormat, "Pre-verification failed - JWT violates RFC 7519.")
	}
	var headerDict map[string]any
	if err := json.Unmarshal(decoded, &headerDict); err != nil {
		return errf(ErrFormat, "Pre-verification failed - JWT violates RFC 7519.")
	}
	alg, ok := headerDict["alg"].(string)
	if !ok {
		return errf(ErrFormat, "Pre-verification failed - Missing signature algorithm name.")
	}
	if alg != AlgBP256R1 {
		return errf(ErrSignature, "Pre-verification failed - unsupported signature algorithm requested.")
	}
	return nil
}

// alwaysRequired are the claims every role must present.
var alwaysRequired = []string{
	ClaimIat, ClaimExp, ClaimIss, ClaimSub, ClaimAcr, ClaimAud, ClaimIDNumber, ClaimJti,
}

// insuredStringClaims additionally apply to insured persons.
var insuredStringClaims = []string{ClaimOrganizationName}

func (t *Token) checkRequiredClaims(cfg Config) error {
	professionOID, ok := t.claims[ClaimProfessionOID].(string)
	if _, present := t.claims[ClaimProfessionOID]; !present {
		return errf(ErrMissingClaim, "Pre-verification failed - Missing required claims.")
	}
	if !ok {
		return errf(ErrFormat, "Pre-verification failed - invalid data type for professionOID claim.")
	}
	required := append([]string{}, alwaysRequired...)
	if professionOID == tsl.OidVersicherter {
		required = append(required, insuredStringClaims...)
	}
	for _, claim := range required {
		if _, present := t.claims[claim]; !present {
			return errf(ErrMissingClaim, "Pre-verification failed - Missing required claims.")
		}
	}
	if professionOID == tsl.OidVersicherter {
		if _, hasDisplay := t.claims[ClaimDisplayName]; hasDisplay {
			if _, isString := t.claims[ClaimDisplayName].(string); !isString {
				return errf(ErrFormat, "Pre-verification failed - invalid data type for display_name")
			}
		} else {
			for _, claim := range []string{ClaimGivenName, ClaimFamilyName} {
				if _, present := t.claims[claim]; !present {
					return errf(ErrMissingClaim, "Pre-verification failed - Missing required claims.")
				}
				if _, isString := t.claims[claim].(string); !isString {
					return errf(ErrFormat, "Pre-verification failed - invalid data type for given/family name")
				}
			}
		}
	}
	if !t.claimIsInt(ClaimIat) || !t.claimIsInt(ClaimExp) {
		return errf(ErrFormat, "Pre-verification failed - invalid data type for claims.")
	}
	for _, claim := range []string{ClaimIss, ClaimSub, ClaimAcr, ClaimAud, ClaimIDNumber, ClaimJti} {
		if _, isString := t.claims[claim].(string); !isString {
			return errf(ErrFormat, "Pre-verification failed - invalid data type for claims.")
		}
	}
	if professionOID == tsl.OidVersicherter {
		if _, isString := t.claims[ClaimOrganizationName].(string); !isString {
			return errf(ErrFormat, "Pre-verification failed - invalid data type for claims.")
		}
	}
	acr, _ := t.claims[ClaimAcr].(string)
	if acr != cfg.acr() {
		return errf(ErrFormat, "The provided acr claim is not supported.")
	}
	return nil
}

func (t *Token) claimIsInt(name string) bool {
	switch v := t.claims[name].(type) {
	case float64:
		return v == float64(int64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func (t *Token) checkAudience(cfg Config) error {
	aud, _ := t.claims[ClaimAud].(string)
	if aud != cfg.AudURI {
		return &Error{Kind: ErrBadAudience, Msg: "The provided aud claim does not match. " + aud}
	}
	return nil
}

// checkTemporal enforces, with now in seconds since the epoch:
//
//	now > exp               -> expired
//	iat > now + tolerance   -> issued for a later time
//	now < nbf (nbf > 0)     -> not yet valid
//
// Missing iat/exp default to 0, which fails the expiry check.
func (t *Token) checkTemporal(cfg Config) error {
	now := cfg.now().Unix()
	iat := t.intClaim(ClaimIat)
	exp := t.intClaim(ClaimExp)
	nbf := t.intClaim(ClaimNbf)
	if now > exp {
		return errf(ErrExpired, fmt.Sprintf("Verification failed - Token expired now=%d exp=%d", now, exp))
	}
	if iat > now+cfg.iatTolerance() {
		return errf(ErrExpired, "Verification failed - Token expired (issued for a later time).")
	}
	if nbf > 0 && now < nbf {
		return errf(ErrExpired, "Verification failed - Token nbf violated.")
	}
	return nil
}

func (t *Token) intClaim(name string) int64 {
	switch v := t.claims[name].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return n
		}
	case int64:
		return v
	}
	return 0
}

// StringClaim returns a string claim's value ("" when absent).
func (t *Token) StringClaim(name string) string {
	s, _ := t.claims[name].(string)
	return s
}

// IntClaim returns an integer claim's value (0 when absent).
func (t *Token) IntClaim(name string) int64 { return t.intClaim(name) }

// Claims exposes the raw claim set.
func (t *Token) Claims() jwt.MapClaims { return t.claims }

// ProfessionOID returns the sender's role OID.
func (t *Token) ProfessionOID() string { return t.StringClaim(ClaimProfessionOID) }

// DisplayName derives the presentable name: insured persons prefer
// display_name, falling back to "given family"; everyone else uses the
// organization name.
func (t *Token) DisplayName() string {
	if t.ProfessionOID() == tsl.OidVersicherter {
		if name := t.StringClaim(ClaimDisplayName); name != "" {
			return name
		}
		given := t.StringClaim(ClaimGivenName)
		family := t.StringClaim(ClaimFamilyName)
		if given == "" {
			return family
		}
		return given + " " + family
	}
	return t.StringClaim(ClaimOrganizationName)
}
