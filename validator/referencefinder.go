package validator

import (
	"strconv"
	"strings"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/fhirpath"
	"github.com/erp-fd/erp-processing-context/repository"
)

// referenceFinder walks the document tree and records every resource
// and reference into a referenceContext, which is then finalized.
type referenceFinder struct {
	pets              map[repository.MapKey]repository.ProfiledElementTypeInfo
	results           Results
	context           *referenceContext
	currentResource   *resourceInfo
	followBundleEntry bool
	isDocumentBundle  bool
	bundleIndex       int
	options           Options
}

type resourceHandling int

const (
	handlingContained resourceHandling = iota
	handlingExpectedComposition
	handlingMustBeReferenced
	handlingOther
)

type refElementType int

const (
	refElementBundle refElementType = iota
	refElementBundleEntry
	refElementBundledResource
	refElementContainedResource
	refElementOther
)

// findReferences runs the analysis for one top-level element and
// returns the combined findings.
func findReferences(elem *element.Element, profiles []repository.ProfiledElementTypeInfo, options Options, elementFullPath string) Results {
	pets := make(map[repository.MapKey]repository.ProfiledElementTypeInfo)
	if len(profiles) == 0 {
		pet := elem.DefinitionPointer()
		pets[pet.Key()] = pet
	}
	for _, pet := range profiles {
		pets[pet.Key()] = pet
	}
	isResource := elem.IsResource()
	isBundle := isResource && elem.DefinitionPointer().Profile.IsDerivedFrom(bundleURL)
	info := &resourceInfo{
		identity:        elem.ResourceIdentity(),
		elementFullPath: elementFullPath,
		resourceRoot:    elem,
	}
	finder := &referenceFinder{
		pets:              pets,
		context:           &referenceContext{},
		currentResource:   info,
		followBundleEntry: true,
		isDocumentBundle:  isDocumentBundle(isBundle, elem),
		options:           options,
	}
	if isResource {
		finder.addProfileSet(finder.profilesFromResource(elem, elementFullPath))
	}
	finder.findInternal(elem, elementFullPath, "")
	if isResource {
		finder.context.addResource(info)
	}
	finder.results.Append(finder.context.finalize(options))
	return finder.results
}

func isDocumentBundle(isBundle bool, elem *element.Element) bool {
	if !isBundle {
		return false
	}
	types := elem.SubElements("type")
	return len(types) > 0 && types[0].AsString() == "document"
}

// findInternal walks below one element, spawning sub-finders for
// nested resources.
func (f *referenceFinder) findInternal(elem *element.Element, elementFullPath, resourcePath string) {
	repo := elem.Repository()
	f.addSliceProfiles(elem, elementFullPath)
	if pet := elem.DefinitionPointer(); pet.Valid() && pet.Element.TypeID() == "Reference" {
		f.processReference(elem, elementFullPath, resourcePath)
	}
	for _, subName := range elem.SubElementNames() {
		subDef, ok := elem.DefinitionPointer().SubField(repo, subName)
		if !ok {
			f.results.Add(erpcore.SeverityDebug, "undefined subfield: "+subName,
				elementFullPath, elem.DefinitionPointer().Profile)
			continue
		}
		elementType := f.elementTypeOf(repo, subDef)
		if !f.followBundleEntry && elementType == refElementBundledResource {
			continue
		}
		isArray := subDef.Element.IsArray
		subFullPathBase := elementFullPath + "." + subName
		commonSubPets := f.subPETs(repo, subName, subFullPathBase)
		idx := 0
		for _, subElement := range elem.SubElements(subName) {
			subElementFullPath := subFullPathBase
			if isArray {
				subElementFullPath += "[" + strconv.Itoa(idx) + "]"
				idx++
			}
			if subElement.IsResource() {
				f.processResource(subElement, commonSubPets, elementType, subElementFullPath)
				continue
			}
			sub := &referenceFinder{
				pets:              commonSubPets,
				context:           &referenceContext{},
				currentResource:   f.currentResource,
				followBundleEntry: f.followBundleEntry,
				isDocumentBundle:  f.isDocumentBundle,
				bundleIndex:       f.bundleIndex,
				options:           f.options,
			}
			sub.findInternal(subElement, subElementFullPath, resourcePath+"."+subName)
			f.merge(sub)
			if elementType == refElementBundleEntry {
				f.bundleIndex++
			}
		}
	}
}

func (f *referenceFinder) merge(sub *referenceFinder) {
	f.results.Append(sub.results)
	f.context.merge(sub.context)
}

// processResource starts a sub-context for a nested resource (bundle
// entry or contained).
func (f *referenceFinder) processResource(elem *element.Element, allSubPets map[repository.MapKey]repository.ProfiledElementTypeInfo, elementType refElementType, elementFullPath string) {
	repo := elem.Repository()
	resourceType := elem.ResourceType()
	elementFullPath += "{" + resourceType + "}"
	resourceDef := repo.FindTypeByID(resourceType)
	if resourceDef == nil {
		f.results.Add(erpcore.SeverityDebug, "undefined resource type: "+resourceType, elementFullPath, nil)
		return
	}
	resourcePets := make(map[repository.MapKey]repository.ProfiledElementTypeInfo)
	for key, pet := range allSubPets {
		if !pet.Element.IsRoot() || resourceDef.IsDerivedFromDefinition(pet.Profile) {
			continue
		}
		resourcePets[key] = pet
	}
	for key, pet := range f.profilesFromResource(elem, elementFullPath) {
		resourcePets[key] = pet
	}
	if len(resourcePets) == 0 {
		pet := repository.NewPET(resourceDef)
		resourcePets[pet.Key()] = pet
	}
	handling := f.resourceHandling(elementType)
	isBundle := resourceType == "Bundle"
	isComposition := !isBundle && resourceType == "Composition"
	if handling == handlingExpectedComposition && !isComposition {
		f.results.Add(erpcore.SeverityError,
			"First resource in Bundle of type document must be a Composition", elementFullPath, nil)
	}
	anchor := anchorNone
	if handling == handlingExpectedComposition && isComposition {
		anchor = anchorComposite
	}
	info := &resourceInfo{
		identity:             elem.ResourceIdentity(),
		elementFullPath:      elementFullPath,
		resourceRoot:         elem,
		anchor:               anchor,
		referenceRequirement: referenceRequirement(handling),
	}
	sub := &referenceFinder{
		pets:              resourcePets,
		context:           &referenceContext{},
		currentResource:   info,
		followBundleEntry: f.followBundleEntry && !isBundle,
		isDocumentBundle:  isDocumentBundle(isBundle, elem),
		options:           f.options,
	}
	sub.findInternal(elem, elementFullPath, "")
	f.merge(sub)
	if handling == handlingContained {
		f.currentResource.contained = append(f.currentResource.contained, info)
	}
	f.context.addResource(info)
}

// processReference records an outgoing reference with its allowed
// target profiles per declaring profile.
func (f *referenceFinder) processReference(elem *element.Element, elementFullPath, resourcePath string) {
	repo := elem.Repository()
	refInfo := &referenceInfo{
		identity:           elem.ReferenceTargetIdentity(),
		elementFullPath:    elementFullPath,
		localPath:          resourcePath,
		referencingElement: elem,
		targetProfileSets:  make(map[*repository.StructureDefinition][]*repository.StructureDefinition),
	}
	for _, key := range f.sortedPETs() {
		pet := f.pets[key]
		var profileSet []*repository.StructureDefinition
		for _, url := range pet.Element.ReferenceTargetProfiles() {
			profile := repo.FindDefinitionByURL(url, elem.View())
			if profile == nil {
				f.results.Add(erpcore.SeverityDebug, "profile not found: "+url, elementFullPath, pet.Profile)
				continue
			}
			profileSet = append(profileSet, profile)
		}
		refInfo.targetProfileSets[pet.Profile] = profileSet
	}
	f.currentResource.referenceTargets = append(f.currentResource.referenceTargets, refInfo)
}

// subPETs advances every active PET into a sub-field and pulls in the
// field's type.profile declarations.
func (f *referenceFinder) subPETs(repo *repository.Repository, subFieldName, subFullPathBase string) map[repository.MapKey]repository.ProfiledElementTypeInfo {
	out := make(map[repository.MapKey]repository.ProfiledElementTypeInfo)
	for _, key := range f.sortedPETs() {
		pet := f.pets[key]
		for _, subDef := range pet.SubDefinitions(repo, subFieldName) {
			out[subDef.Key()] = subDef
		}
		if subField, ok := pet.SubField(repo, subFieldName); ok {
			f.addProfileURLs(repo, subField.Element.Profiles(), subFullPathBase, pet.Profile, out)
		}
	}
	return out
}

// addSliceProfiles activates the matching slices' profiles at the
// current element.
func (f *referenceFinder) addSliceProfiles(elem *element.Element, elementFullPath string) {
	env := &fhirpath.Env{TypeChecker: elem.Repository()}
	added := make(map[repository.MapKey]repository.ProfiledElementTypeInfo)
	for _, key := range f.sortedPETs() {
		pet := f.pets[key]
		if !pet.Element.HasSlices() {
			continue
		}
		slicing := pet.Element.Slicing
		for _, slice := range slicing.Slices {
			condition, err := slice.Condition(slicing.Discriminators)
			if err != nil {
				continue
			}
			if condition.Test(env, elem) {
				slicePET := repository.NewPET(slice.Profile)
				added[slicePET.Key()] = slicePET
			}
		}
	}
	f.addProfileSet(added)
}

func (f *referenceFinder) addProfileSet(newProfiles map[repository.MapKey]repository.ProfiledElementTypeInfo) {
	for key, pet := range newProfiles {
		if _, exists := f.pets[key]; !exists {
			f.pets[key] = pet
		}
	}
}

func (f *referenceFinder) addProfileURLs(repo *repository.Repository, urls []string, elementFullPath string, source *repository.StructureDefinition, out map[repository.MapKey]repository.ProfiledElementTypeInfo) {
	for _, url := range urls {
		profile := repo.FindDefinitionByURL(url, nil)
		if profile == nil {
			f.results.Add(erpcore.SeverityDebug, "profile not found: "+url, elementFullPath, source)
			continue
		}
		pet := repository.NewPET(profile)
		out[pet.Key()] = pet
	}
}

// profilesFromResource resolves meta.profile entries at a resource.
func (f *referenceFinder) profilesFromResource(elem *element.Element, elementFullPath string) map[repository.MapKey]repository.ProfiledElementTypeInfo {
	repo := elem.Repository()
	out := make(map[repository.MapKey]repository.ProfiledElementTypeInfo)
	for _, url := range elem.Profiles() {
		profile := repo.FindDefinitionByURL(url, elem.View())
		if profile == nil {
			f.results.Add(erpcore.SeverityDebug, "undefined profile: "+url, elementFullPath, nil)
			continue
		}
		f.results.Add(erpcore.SeverityDebug, "added profile: "+url, elementFullPath, nil)
		pet := repository.NewPET(profile)
		out[pet.Key()] = pet
	}
	return out
}

// elementTypeOf classifies a position for bundle/contained handling.
func (f *referenceFinder) elementTypeOf(repo *repository.Repository, pet repository.ProfiledElementTypeInfo) refElementType {
	if pet.Profile.Kind == repository.KindResource || pet.Profile.Kind == repository.KindSlice {
		if pet.Profile.TypeID == "Bundle" {
			if pet.Element.IsRoot() {
				return refElementBundle
			}
			path := pet.ElementPath()
			if strings.HasPrefix(path, "entry") {
				if path == "entry" {
					return refElementBundleEntry
				}
				if path == "entry.resource" {
					return refElementBundledResource
				}
			}
		} else if pet.ElementPath() == "contained" && pet.Profile.IsDerivedFrom(domainResourceURL) {
			return refElementContainedResource
		}
	}
	return refElementOther
}

func (f *referenceFinder) resourceHandling(elementType refElementType) resourceHandling {
	if elementType == refElementBundledResource && f.isDocumentBundle {
		if f.bundleIndex == 0 {
			return handlingExpectedComposition
		}
		return handlingMustBeReferenced
	}
	if elementType == refElementContainedResource {
		return handlingContained
	}
	return handlingOther
}

func referenceRequirement(handling resourceHandling) anchorType {
	switch handling {
	case handlingContained:
		return anchorContained
	case handlingMustBeReferenced:
		return anchorComposite
	}
	return anchorNone
}

func (f *referenceFinder) sortedPETs() []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(f.pets))
	for key := range f.pets {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}
