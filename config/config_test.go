package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.JwtIatToleranceSeconds != 2 {
		t.Errorf("iat tolerance default = %d; want 2", s.JwtIatToleranceSeconds)
	}
	if s.ValidationMode != ValidationModeRequireSuccess {
		t.Errorf("validation mode default = %q", s.ValidationMode)
	}
	if s.ReportUnknownExtensions != ReportUnknownExtensionsOff {
		t.Errorf("report unknown extensions default = %q", s.ReportUnknownExtensions)
	}
	if s.AllowedNonLiteralAuthorRef {
		t.Error("non-literal author reference must default to false")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ERP_VALIDATION_MODE", "detail_only")
	t.Setenv("ERP_JWT_AUD_URI", "https://erp.zentral.erp.ti-dienste.de/")
	t.Setenv("ERP_JWT_IAT_TOLERANCE_SECONDS", "5")
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ValidationMode != ValidationModeDetailOnly {
		t.Errorf("validation mode = %q", s.ValidationMode)
	}
	if s.JwtAudURI != "https://erp.zentral.erp.ti-dienste.de/" {
		t.Errorf("aud uri = %q", s.JwtAudURI)
	}
	if s.JwtIatToleranceSeconds != 5 {
		t.Errorf("iat tolerance = %d", s.JwtIatToleranceSeconds)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	t.Setenv("ERP_VALIDATION_MODE", "whatever")
	if _, err := Load(""); err == nil {
		t.Error("invalid validation mode must be rejected")
	}
}
