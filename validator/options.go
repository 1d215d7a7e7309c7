package validator

import (
	erpcore "github.com/erp-fd/erp-processing-context"
)

// ReportUnknownExtensionsMode controls how unrecognized extension URLs
// are reported.
type ReportUnknownExtensionsMode int

const (
	// ReportUnknownExtensionsOff keeps the profile-declared slicing
	// rules untouched.
	ReportUnknownExtensionsOff ReportUnknownExtensionsMode = iota
	// ReportUnknownExtensionsEnable overrides extension slicings to
	// reportOther so unknown URLs yield unslicedWarning findings.
	ReportUnknownExtensionsEnable
	// ReportUnknownExtensionsOnlyOpenSlicing only overrides slicings
	// whose declared rule is open.
	ReportUnknownExtensionsOnlyOpenSlicing
)

// SeverityLevels makes the reference-integrity severities configurable.
type SeverityLevels struct {
	UnreferencedBundledResource         erpcore.Severity
	UnreferencedContainedResource       erpcore.Severity
	MandatoryResolvableReferenceFailure erpcore.Severity
}

// Options change features of the validator. The zero value disables
// reference checking and sets every severity level to SeverityDebug;
// DefaultOptions returns the production settings.
type Options struct {
	// ReportUnknownExtensions detects extensions undefined for their
	// position and reports them with SeverityUnslicedWarning.
	ReportUnknownExtensions ReportUnknownExtensionsMode

	// ValidateReferences enables the reference-integrity analysis after
	// the structural walk.
	ValidateReferences bool

	// AllowNonLiteralAuthorReference permits identifier-only references
	// at Composition.author in document bundles.
	AllowNonLiteralAuthorReference bool

	Levels SeverityLevels
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ValidateReferences: true,
		Levels: SeverityLevels{
			UnreferencedBundledResource:         erpcore.SeverityWarning,
			UnreferencedContainedResource:       erpcore.SeverityWarning,
			MandatoryResolvableReferenceFailure: erpcore.SeverityError,
		},
	}
}
