package validator

import (
	"strings"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/repository"
)

// Finding is a single validation result entry: either a free-form
// message or a violated constraint, located at an element path and
// attributed to the originating profile.
type Finding struct {
	Severity        erpcore.Severity
	Message         string
	Constraint      *repository.Constraint
	ElementFullPath string
	Profile         *repository.StructureDefinition
}

// String renders "<path>: <severity>: <message>".
func (f Finding) String() string {
	var b strings.Builder
	if f.ElementFullPath != "" {
		b.WriteString(f.ElementFullPath)
		b.WriteString(": ")
	}
	b.WriteString(f.Severity.String())
	b.WriteString(": ")
	if f.Constraint != nil {
		b.WriteString(f.Constraint.Key)
		b.WriteString(": ")
		b.WriteString(f.Constraint.Human)
	} else {
		b.WriteString(f.Message)
	}
	return b.String()
}

// Results is an ordered log of findings.
type Results struct {
	findings []Finding
}

// Add appends a message finding.
func (r *Results) Add(severity erpcore.Severity, message, elementFullPath string, profile *repository.StructureDefinition) {
	r.findings = append(r.findings, Finding{
		Severity:        severity,
		Message:         message,
		ElementFullPath: elementFullPath,
		Profile:         profile,
	})
}

// AddConstraint appends a violated constraint with its declared
// severity and human text.
func (r *Results) AddConstraint(constraint *repository.Constraint, elementFullPath string, profile *repository.StructureDefinition) {
	r.findings = append(r.findings, Finding{
		Severity:        constraint.Severity,
		Constraint:      constraint,
		ElementFullPath: elementFullPath,
		Profile:         profile,
	})
}

// Append moves all findings of other to the end of r.
func (r *Results) Append(other Results) {
	r.findings = append(r.findings, other.findings...)
}

// Findings returns the ordered entries.
func (r *Results) Findings() []Finding { return r.findings }

// HighestSeverity scans the log; SeverityDebug for an empty log.
func (r *Results) HighestSeverity() erpcore.Severity {
	highest := erpcore.SeverityMin
	for _, f := range r.findings {
		if f.Severity > highest {
			highest = f.Severity
			if highest == erpcore.SeverityMax {
				break
			}
		}
	}
	return highest
}

// Valid reports whether no finding reaches error severity.
func (r *Results) Valid() bool {
	return r.HighestSeverity() < erpcore.SeverityError
}

// Summary renders all findings at or above minSeverity, each suffixed
// with its originating profile as "url|version".
func (r *Results) Summary(minSeverity erpcore.Severity) string {
	var b strings.Builder
	for _, f := range r.findings {
		if f.Severity < minSeverity {
			continue
		}
		b.WriteString(f.String())
		if f.Profile != nil {
			b.WriteString(" (from profile: ")
			b.WriteString(f.Profile.URL)
			b.WriteString("|")
			b.WriteString(f.Profile.Version)
			b.WriteString(")")
		}
		b.WriteString("; ")
	}
	return b.String()
}
