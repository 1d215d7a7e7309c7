// Package config loads the enumerated configuration keys the core
// consumes. Values come from the environment (ERP_ prefix) or an
// optional YAML file; a typed Settings snapshot is handed to the
// engine so the rest of the core never touches viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Configuration keys.
const (
	KeyJwtAudURI                      = "jwt.aud_uri"
	KeyJwtIatToleranceSeconds         = "jwt.iat_tolerance_seconds"
	KeyValidationMode                 = "validation.mode"
	KeyAllowedNonLiteralAuthorRef     = "allowed_non_literal_author_reference"
	KeyReportUnknownExtensions        = "report_unknown_extensions"
	KeyCadesBesTrustedCertDir         = "cades_bes.trusted_cert_dir"
	KeyProfileDir                     = "fhir.profile_dir"
	KeyWorkerCount                    = "worker.count"
)

// ValidationMode selects how validation findings gate a request.
type ValidationMode string

const (
	ValidationModeDisable        ValidationMode = "disable"
	ValidationModeDetailOnly     ValidationMode = "detail_only"
	ValidationModeIgnoreErrors   ValidationMode = "ignore_errors"
	ValidationModeRequireSuccess ValidationMode = "require_success"
)

// ReportUnknownExtensions mirrors the validator option.
type ReportUnknownExtensions string

const (
	ReportUnknownExtensionsOff             ReportUnknownExtensions = "off"
	ReportUnknownExtensionsEnabled         ReportUnknownExtensions = "enabled"
	ReportUnknownExtensionsOnlyOpenSlicing ReportUnknownExtensions = "only_open_slicing"
)

// Settings is the immutable snapshot the engine runs with.
type Settings struct {
	JwtAudURI                      string
	JwtIatToleranceSeconds         int64
	ValidationMode                 ValidationMode
	AllowedNonLiteralAuthorRef     bool
	ReportUnknownExtensions        ReportUnknownExtensions
	CadesBesTrustedCertDir         string
	ProfileDir                     string
	WorkerCount                    int
}

// Load reads the configuration; configFile may be empty.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("erp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyJwtIatToleranceSeconds, 2)
	v.SetDefault(KeyValidationMode, string(ValidationModeRequireSuccess))
	v.SetDefault(KeyAllowedNonLiteralAuthorRef, false)
	v.SetDefault(KeyReportUnknownExtensions, string(ReportUnknownExtensionsOff))
	v.SetDefault(KeyWorkerCount, 0)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: cannot read %s: %w", configFile, err)
		}
	}

	s := &Settings{
		JwtAudURI:                  v.GetString(KeyJwtAudURI),
		JwtIatToleranceSeconds:     v.GetInt64(KeyJwtIatToleranceSeconds),
		ValidationMode:             ValidationMode(v.GetString(KeyValidationMode)),
		AllowedNonLiteralAuthorRef: v.GetBool(KeyAllowedNonLiteralAuthorRef),
		ReportUnknownExtensions:    ReportUnknownExtensions(v.GetString(KeyReportUnknownExtensions)),
		CadesBesTrustedCertDir:     v.GetString(KeyCadesBesTrustedCertDir),
		ProfileDir:                 v.GetString(KeyProfileDir),
		WorkerCount:                v.GetInt(KeyWorkerCount),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch s.ValidationMode {
	case ValidationModeDisable, ValidationModeDetailOnly, ValidationModeIgnoreErrors, ValidationModeRequireSuccess:
	default:
		return fmt.Errorf("config: invalid validation mode: %q", s.ValidationMode)
	}
	switch s.ReportUnknownExtensions {
	case ReportUnknownExtensionsOff, ReportUnknownExtensionsEnabled, ReportUnknownExtensionsOnlyOpenSlicing:
	default:
		return fmt.Errorf("config: invalid report_unknown_extensions: %q", s.ReportUnknownExtensions)
	}
	return nil
}
