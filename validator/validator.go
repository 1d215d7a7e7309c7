// Package validator implements the profile-aware structural FHIR
// validator: simultaneous multi-profile validation with slicing,
// constraint, binding, cardinality and reference-integrity checking.
package validator

import (
	"fmt"
	"sort"
	"strings"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/pool"
	"github.com/erp-fd/erp-processing-context/repository"
)

// FhirPathValidator drives a depth-first walk over an element tree,
// keeping a profileSetValidator per node. Instances are single-use and
// single-goroutine; concurrency lives at the worker-pool boundary.
type FhirPathValidator struct {
	options Options
	results Results

	extensionRootDefPtr    repository.ProfiledElementTypeInfo
	elementExtensionDefPtr repository.ProfiledElementTypeInfo
}

// Validate validates the element against the profiles it declares in
// meta.profile (plus its base type).
func Validate(elem *element.Element, elementFullPath string, options Options) (*Results, error) {
	v, err := create(options, elem.Repository())
	if err != nil {
		return nil, err
	}
	v.validateInternal(elem, elementFullPath)
	v.runReferenceCheck(elem, nil, elementFullPath)
	return &v.results, nil
}

// ValidateWithProfiles validates the element against an explicit
// profile set; unknown profile URLs yield error findings.
func ValidateWithProfiles(elem *element.Element, elementFullPath string, profileURLs []string, options Options) (*Results, error) {
	v, err := create(options, elem.Repository())
	if err != nil {
		return nil, err
	}
	repo := elem.Repository()
	var defPtrs []repository.ProfiledElementTypeInfo
	for _, url := range profileURLs {
		profile := repo.FindDefinitionByURL(url, elem.View())
		if profile == nil {
			v.results.Add(erpcore.SeverityError, "profile unknown: "+url, elementFullPath, nil)
			continue
		}
		defPtrs = append(defPtrs, repository.NewPET(profile))
	}
	psv := newProfileSetValidator(elem.DefinitionPointer(), defPtrs, v)
	v.validateElement(elem, psv, elementFullPath)
	v.runReferenceCheck(elem, defPtrs, elementFullPath)
	return &v.results, nil
}

func create(options Options, repo *repository.Repository) (*FhirPathValidator, error) {
	extensionDef := repo.FindTypeByID("Extension")
	if extensionDef == nil {
		return nil, fmt.Errorf("validator: StructureDefinition for Extension not found")
	}
	elementExtension, err := repo.ResolveBaseContentReference("#Element.extension")
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}
	return &FhirPathValidator{
		options:                options,
		extensionRootDefPtr:    repository.NewPET(extensionDef),
		elementExtensionDefPtr: elementExtension,
	}, nil
}

func (v *FhirPathValidator) runReferenceCheck(elem *element.Element, defPtrs []repository.ProfiledElementTypeInfo, elementFullPath string) {
	if !v.options.ValidateReferences {
		return
	}
	finderResults := findReferences(elem, defPtrs, v.options, elementFullPath)
	v.results.Append(finderResults)
}

func (v *FhirPathValidator) validateInternal(elem *element.Element, elementFullPath string) {
	rootPointer := elem.DefinitionPointer()
	if !rootPointer.Valid() {
		v.results.Add(erpcore.SeverityError, "missing structure definition", elementFullPath, nil)
		return
	}
	elementID := rootPointer.Element.Name
	var defPtrs []repository.ProfiledElementTypeInfo
	for _, profileDef := range v.profiles(elem, elementFullPath) {
		elementDef := profileDef.FindElement(elementID)
		if elementDef == nil {
			v.results.Add(erpcore.SeverityError,
				profileDef.Key()+" no such element: "+elementID, elementFullPath, profileDef)
			continue
		}
		defPtrs = append(defPtrs, repository.ProfiledElementTypeInfo{Profile: profileDef, Element: elementDef})
	}
	psv := newProfileSetValidator(rootPointer, defPtrs, v)
	v.validateElement(elem, psv, elementFullPath)
}

// validateElement is the recursion step: per-node checks, sub-element
// descent, finalization.
func (v *FhirPathValidator) validateElement(elem *element.Element, psv *profileSetValidator, elementFullPath string) {
	psv.process(elem, elementFullPath)
	v.validateAllSubElements(elem, psv, elementFullPath)
	psv.finalize(elementFullPath)
	v.results.Append(psv.resultsOf())
}

// validateAllSubElements visits every defined sub-field in definition
// order; fields present in the document but undefined in every profile
// are errors.
func (v *FhirPathValidator) validateAllSubElements(elem *element.Element, psv *profileSetValidator, elementFullPath string) {
	repo := elem.Repository()
	unprocessed := make(map[string]struct{})
	for _, name := range elem.SubElementNames() {
		unprocessed[name] = struct{}{}
	}
	for _, subName := range psv.rootPointer().SubFieldNames(repo) {
		subFullPathBase := elementFullPath + "." + subName
		_, exists := unprocessed[subName]
		delete(unprocessed, subName)
		if !exists {
			// counters for absent fields still need to exist
			sub, err := psv.subField(repo, subName)
			if err != nil {
				v.results.Add(erpcore.SeverityError, err.Error(), subFullPathBase, psv.rootPointer().Profile)
				continue
			}
			sub.finalize(subFullPathBase)
			v.results.Append(sub.resultsOf())
			continue
		}
		v.processSubElements(elem, subName, elem.SubElements(subName), psv, subFullPathBase)
	}
	if len(unprocessed) > 0 {
		names := make([]string, 0, len(unprocessed))
		for name := range unprocessed {
			names = append(names, name)
		}
		sort.Strings(names)
		v.results.Add(erpcore.SeverityError, "undefined sub element: "+strings.Join(names, ", "),
			elementFullPath, elem.DefinitionPointer().Profile)
	}
}

// processSubElements validates each occurrence of one sub-field.
func (v *FhirPathValidator) processSubElements(elem *element.Element, subName string, subElements []*element.Element, psv *profileSetValidator, subFullPathBase string) {
	repo := elem.Repository()
	idx := 0
	for _, subElement := range subElements {
		subInfo, err := psv.subField(repo, subName)
		if err != nil {
			v.results.Add(erpcore.SeverityError, err.Error(), subFullPathBase, psv.rootPointer().Profile)
			return
		}
		fullSubName := subFullPathBase
		if subInfo.isArray() {
			fullSubName = pool.AppendArrayIndex(subFullPathBase, idx)
			idx++
		}
		if subInfo.isResource(repo) {
			resourceType := subElement.ResourceType()
			fullSubName += "{" + resourceType + "}"
			resourceDef := repo.FindTypeByID(resourceType)
			if resourceDef == nil {
				v.results.Add(erpcore.SeverityError, "resourceType unknown: "+resourceType, fullSubName, nil)
				continue
			}
			v.results.Add(erpcore.SeverityDebug, "resource is: "+resourceType, fullSubName, resourceDef)
			subInfo.typecast(repo, resourceDef)
			subInfo.addProfiles(repo, v.profiles(subElement, fullSubName))
			v.validateElement(subElement, subInfo, fullSubName)
		} else {
			v.validateElement(subElement, subInfo, fullSubName)
		}
	}
}

// profiles resolves the element's meta.profile URLs under the current
// view; unresolvable entries are errors.
func (v *FhirPathValidator) profiles(elem *element.Element, elementFullPath string) []*repository.StructureDefinition {
	repo := elem.Repository()
	var out []*repository.StructureDefinition
	for _, url := range elem.Profiles() {
		profileDef := repo.FindDefinitionByURL(url, elem.View())
		if profileDef == nil {
			v.results.Add(erpcore.SeverityError, "Unknown profile: "+url, elementFullPath, nil)
			continue
		}
		out = append(out, profileDef)
	}
	return out
}
