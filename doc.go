// Package erpcore is the shared foundation of the e-prescription
// processing core.
//
// The heavy lifting lives in the subpackages:
//
//   - repository: profile repository (StructureDefinitions, ValueSets,
//     versioned views) frozen after load and shared without locking
//   - fhirpath: compiled FHIRPath expressions used by constraints and
//     slicing discriminators
//   - element: the polymorphic view over parsed FHIR documents
//   - validator: the profile-aware structural validator
//   - cades: CAdES-BES signature creation and verification
//   - accesstoken: BP-256 JWT verification
//   - processing: the end-to-end request engine tying the above together
//
// This root package only holds the pieces every subpackage needs:
// finding severities, process-wide metrics, and the module version.
//
// # Quick Start
//
//	repo, err := repository.Load(sources)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("profile load")
//	}
//	elem, err := element.ParseJSON(repo, repo.DefaultView(), documentJSON)
//	result, err := validator.ValidateWithProfiles(elem, elem.ResourceType(), profileURLs, opts)
//	if result.HighestSeverity() >= erpcore.SeverityError {
//	    return result.Summary(erpcore.SeverityError)
//	}
package erpcore
