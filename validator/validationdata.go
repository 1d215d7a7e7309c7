package validator

import (
	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/repository"
)

// validationData holds the findings of one ProfileValidator. It is
// shared between the validator instances spawned for the same profile
// along sub-field navigation, so failures propagate to every holder.
type validationData struct {
	mapKey  repository.MapKey
	results Results
	failed  bool
}

func newValidationData(mapKey repository.MapKey) *validationData {
	return &validationData{mapKey: mapKey}
}

func (d *validationData) add(severity erpcore.Severity, message, elementFullPath string, profile *repository.StructureDefinition) {
	if severity >= erpcore.SeverityError {
		d.failed = true
	}
	d.results.Add(severity, message, elementFullPath, profile)
}

func (d *validationData) addConstraint(constraint *repository.Constraint, elementFullPath string, profile *repository.StructureDefinition) {
	if constraint.Severity >= erpcore.SeverityError {
		d.failed = true
	}
	d.results.AddConstraint(constraint, elementFullPath, profile)
}

func (d *validationData) append(results Results) {
	if results.HighestSeverity() >= erpcore.SeverityError {
		d.failed = true
	}
	d.results.Append(results)
}

func (d *validationData) isFailed() bool { return d.failed }

func (d *validationData) fail() { d.failed = true }

func (d *validationData) merge(other *validationData) {
	d.failed = d.failed || other.failed
	d.results.Append(other.results)
}
