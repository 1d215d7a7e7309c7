package model

import (
	"fmt"

	"github.com/erp-fd/erp-processing-context/tsl"
)

// PrescriptionType is the workflow flow type of a prescription
// (https://simplifier.net/erezept-workflow/flowtype).
type PrescriptionType uint8

const (
	// PrescriptionTypeApothekenpflichtigeArzneimittel is workflow 160.
	PrescriptionTypeApothekenpflichtigeArzneimittel PrescriptionType = 160
	// PrescriptionTypeDigitaleGesundheitsanwendungen is workflow 162.
	PrescriptionTypeDigitaleGesundheitsanwendungen PrescriptionType = 162
	// PrescriptionTypeDirekteZuweisung is workflow 169.
	PrescriptionTypeDirekteZuweisung PrescriptionType = 169
	// PrescriptionTypeApothekenpflichtigeArzneimittelPkv is workflow 200.
	PrescriptionTypeApothekenpflichtigeArzneimittelPkv PrescriptionType = 200
	// PrescriptionTypeDirekteZuweisungPkv is workflow 209.
	PrescriptionTypeDirekteZuweisungPkv PrescriptionType = 209
)

// ParsePrescriptionType validates a flow-type code.
func ParsePrescriptionType(code uint8) (PrescriptionType, error) {
	pt := PrescriptionType(code)
	switch pt {
	case PrescriptionTypeApothekenpflichtigeArzneimittel,
		PrescriptionTypeDigitaleGesundheitsanwendungen,
		PrescriptionTypeDirekteZuweisung,
		PrescriptionTypeApothekenpflichtigeArzneimittelPkv,
		PrescriptionTypeDirekteZuweisungPkv:
		return pt, nil
	}
	return 0, fmt.Errorf("model: unknown prescription type: %d", code)
}

// IsPkv reports whether the prescription bills against private
// insurance.
func (pt PrescriptionType) IsPkv() bool {
	return pt == PrescriptionTypeApothekenpflichtigeArzneimittelPkv || pt == PrescriptionTypeDirekteZuweisungPkv
}

// IsDiga reports a digital health application prescription.
func (pt PrescriptionType) IsDiga() bool {
	return pt == PrescriptionTypeDigitaleGesundheitsanwendungen
}

// IsDirectAssignment reports the direct-assignment workflows that skip
// the dispense code.
func (pt PrescriptionType) IsDirectAssignment() bool {
	return pt == PrescriptionTypeDirekteZuweisung || pt == PrescriptionTypeDirekteZuweisungPkv
}

// Display is the Muster-16 display text (A_19445).
func (pt PrescriptionType) Display() string {
	switch pt {
	case PrescriptionTypeApothekenpflichtigeArzneimittel:
		return "Muster 16 (Apothekenpflichtige Arzneimittel)"
	case PrescriptionTypeDigitaleGesundheitsanwendungen:
		return "Muster 16 (Digitale Gesundheitsanwendungen)"
	case PrescriptionTypeDirekteZuweisung:
		return "Muster 16 (Direkte Zuweisung)"
	case PrescriptionTypeApothekenpflichtigeArzneimittelPkv:
		return "PKV (Apothekenpflichtige Arzneimittel)"
	case PrescriptionTypeDirekteZuweisungPkv:
		return "PKV (Direkte Zuweisung)"
	}
	return "unknown"
}

// PerformerType is the urn:oid of the institution allowed to accept
// the prescription.
func (pt PrescriptionType) PerformerType() string {
	if pt == PrescriptionTypeDigitaleGesundheitsanwendungen {
		return "urn:oid:" + tsl.OidKostentraeger
	}
	return "urn:oid:" + tsl.OidOeffentlicheApotheke
}

// PerformerDisplay is the human text matching PerformerType.
func (pt PrescriptionType) PerformerDisplay() string {
	if pt == PrescriptionTypeDigitaleGesundheitsanwendungen {
		return "Kostenträger"
	}
	return "Öffentliche Apotheke"
}
