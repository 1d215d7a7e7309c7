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

// profileSetValidator validates one element against multiple profiles
// in parallel. For each sub-field a child instance is created via
// subField; the creating instance keeps the bookkeeping the children
// report into: occurrence counters (including per-slice counters) and
// slice checkers.
type profileSetValidator struct {
	parent    *profileSetValidator
	validator *FhirPathValidator

	rootValidator     *profileValidator
	profileValidators map[repository.MapKey]*profileValidator
	includeInResult   map[repository.MapKey]struct{}

	childCounters map[counterKey]*counterData
	sliceCheckers map[repository.MapKey]*slicingChecker

	elementInParent *repository.ElementDefinition
	results         Results
}

// counterData accumulates one field's occurrence count and knows which
// element definitions constrain it.
type counterData struct {
	elementMap map[repository.MapKey]repository.ProfiledElementTypeInfo
	count      uint32
}

// check reports cardinality violations into the owning validators.
func (c *counterData) check(profMap map[repository.MapKey]*profileValidator, key counterKey, elementFullPath string) {
	for _, mapKey := range sortedPETKeys(c.elementMap) {
		pet := c.elementMap[mapKey]
		path := pool.BuildPath(func(b *pool.PathBuilder) {
			b.WriteString(elementFullPath)
			b.AppendWithDot(key.name)
			if pet.Element.IsArray {
				b.WriteString("[*]")
			}
			if key.slice != "" {
				b.WriteString(":")
				b.WriteString(key.slice)
			}
		})
		target, ok := profMap[mapKey]
		if !ok {
			continue
		}
		var results Results
		for _, finding := range pet.Element.Cardinality.Check(c.count, path, pet.Profile) {
			results.Add(finding.Severity, finding.Message, path, pet.Profile)
		}
		target.appendResults(results)
	}
}

func sortedPETKeys(m map[repository.MapKey]repository.ProfiledElementTypeInfo) []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}

// newProfileSetValidator starts validation of a top-level element
// against the given profile set.
func newProfileSetValidator(rootPointer repository.ProfiledElementTypeInfo, defPointers []repository.ProfiledElementTypeInfo, validator *FhirPathValidator) *profileSetValidator {
	psv := &profileSetValidator{
		validator:         validator,
		rootValidator:     newRootProfileValidator(rootPointer),
		profileValidators: make(map[repository.MapKey]*profileValidator),
		includeInResult:   make(map[repository.MapKey]struct{}),
		childCounters:     make(map[counterKey]*counterData),
		sliceCheckers:     make(map[repository.MapKey]*slicingChecker),
	}
	for _, defPtr := range defPointers {
		key := defPtr.Key()
		psv.profileValidators[key] = newRootProfileValidator(defPtr)
		psv.includeInResult[key] = struct{}{}
	}
	rootKey := rootPointer.Key()
	psv.profileValidators[rootKey] = psv.rootValidator
	psv.includeInResult[rootKey] = struct{}{}
	return psv
}

func newChildProfileSetValidator(parent *profileSetValidator, rootPointer repository.ProfiledElementTypeInfo) *profileSetValidator {
	return &profileSetValidator{
		parent:            parent,
		validator:         parent.validator,
		rootValidator:     newRootProfileValidator(rootPointer),
		profileValidators: make(map[repository.MapKey]*profileValidator),
		includeInResult:   make(map[repository.MapKey]struct{}),
		childCounters:     make(map[counterKey]*counterData),
		sliceCheckers:     make(map[repository.MapKey]*slicingChecker),
	}
}

func (psv *profileSetValidator) rootPointer() repository.ProfiledElementTypeInfo {
	return psv.rootValidator.definitionPointer()
}

func (psv *profileSetValidator) isResource(repo *repository.Repository) bool {
	return psv.rootPointer().IsResource(repo)
}

func (psv *profileSetValidator) isArray() bool {
	return psv.elementInParent != nil && psv.elementInParent.IsArray
}

func (psv *profileSetValidator) options() Options {
	return psv.validator.options
}

// typecast re-roots the set to the observed resource type; validators
// whose profile already derives from it stay untouched.
func (psv *profileSetValidator) typecast(repo *repository.Repository, structDef *repository.StructureDefinition) {
	psv.rootValidator.typecast(structDef)
	for _, key := range psv.sortedValidatorKeys() {
		pv := psv.profileValidators[key]
		defPtr := pv.definitionPointer()
		if !defPtr.Element.IsRoot() || defPtr.Profile.IsDerivedFromDefinition(structDef) {
			continue
		}
		pv.typecast(structDef)
	}
}

// addProfiles activates meta.profile entries at a resource node; only
// profiles derived from the current root type apply.
func (psv *profileSetValidator) addProfiles(repo *repository.Repository, profiles []*repository.StructureDefinition) {
	if !psv.rootPointer().Element.IsRoot() {
		panic("validator: cannot add profiles to non-root: " + psv.rootPointer().String())
	}
	for _, prof := range profiles {
		if !prof.IsDerivedFrom(psv.rootPointer().Profile.URL) {
			continue
		}
		defPtr := repository.NewPET(prof)
		key := defPtr.Key()
		psv.includeInResult[key] = struct{}{}
		if _, exists := psv.profileValidators[key]; !exists {
			psv.profileValidators[key] = newRootProfileValidator(defPtr)
		}
	}
}

// subField builds the child set validator for a named sub-field and
// registers the child's counters and slice checkers with this instance.
func (psv *profileSetValidator) subField(repo *repository.Repository, name string) (*profileSetValidator, error) {
	rootList := psv.rootPointer().SubDefinitions(repo, name)
	if len(rootList) == 0 {
		return nil, fmt.Errorf("%s field resolution failed: %s.%s",
			psv.rootPointer().Profile.Key(), psv.rootPointer().Element.Name, name)
	}
	child := newChildProfileSetValidator(psv, rootList[len(rootList)-1])
	subFieldPET, ok := psv.rootPointer().SubField(repo, name)
	if !ok {
		return nil, fmt.Errorf("no such field: %s", name)
	}
	child.elementInParent = subFieldPET.Element
	for _, key := range psv.sortedValidatorKeys() {
		pv := psv.profileValidators[key]
		subVals, err := pv.subFieldValidators(repo, name)
		if err != nil {
			return nil, err
		}
		mergeValidatorMaps(child.profileValidators, subVals)
	}
	child.createCounters(child.profileValidators)
	child.createSliceCheckersAndCounters()
	return child, nil
}

func mergeValidatorMaps(dst, src map[repository.MapKey]*profileValidator) {
	for key, pv := range src {
		if existing, ok := dst[key]; ok {
			existing.merge(pv)
		} else {
			dst[key] = pv
		}
	}
}

// process runs the per-node checks for every profile in the set,
// iterating until slice and require-one expansion adds no further
// validators, then bumps the parent's counters.
func (psv *profileSetValidator) process(elem *element.Element, elementFullPath string) {
	psv.rootValidator.process(elem, elementFullPath)
	if elem.HasValue() {
		psv.ensureCounter(counterKey{name: "value"}).count++
	}
	toValidate := psv.profileValidators
	psv.profileValidators = make(map[repository.MapKey]*profileValidator, len(toValidate))
	for len(toValidate) > 0 {
		added := make(map[repository.MapKey]*profileValidator)
		for _, key := range sortedValidatorKeysOf(toValidate) {
			pv := toValidate[key]
			for addedKey, addedVal := range psv.processOne(pv, elem, elementFullPath) {
				added[addedKey] = addedVal
			}
		}
		mergeValidatorMaps(psv.profileValidators, toValidate)
		// drop validators that got merged meanwhile
		for key := range added {
			if _, exists := psv.profileValidators[key]; exists {
				delete(added, key)
			}
		}
		toValidate = added
	}
	psv.incrementCounters()
}

// processOne handles a single profile validator: per-node checks, slice
// classification, and slice-checker notification.
func (psv *profileSetValidator) processOne(pv *profileValidator, elem *element.Element, elementFullPath string) map[repository.MapKey]*profileValidator {
	result := pv.process(elem, elementFullPath)
	defPtr := pv.definitionPointer()
	if len(result.sliceProfiles) > 1 {
		names := make([]string, 0, len(result.sliceProfiles))
		for _, slice := range result.sliceProfiles {
			names = append(names, slice.Profile.GetName())
		}
		psv.results.Add(erpcore.SeverityError,
			"element belongs to more than one slice: ["+strings.Join(names, ", ")+"]",
			elementFullPath, defPtr.Profile)
	}
	added := make(map[repository.MapKey]*profileValidator)
	for key, extra := range result.extraValidators {
		if _, exists := psv.profileValidators[key]; !exists {
			added[key] = extra
		}
	}
	if psv.parent != nil {
		if checker, ok := psv.parent.sliceCheckers[defPtr.Key()]; ok {
			if len(result.sliceProfiles) == 0 {
				checker.foundUnsliced(elementFullPath)
			} else {
				for _, slice := range result.sliceProfiles {
					checker.foundSliced(slice, elementFullPath)
				}
			}
		}
	}
	psv.createCounters(added)
	return added
}

// createCounters registers cardinality counters with the parent for
// every constrained sub-field definition.
func (psv *profileSetValidator) createCounters(validators map[repository.MapKey]*profileValidator) {
	if psv.parent == nil {
		return
	}
	for _, key := range sortedValidatorKeysOf(validators) {
		pv := validators[key]
		defPtr := pv.definitionPointer()
		if !defPtr.Element.Cardinality.IsConstraint(defPtr.Element.IsArray) {
			continue
		}
		ck := pv.counterKey()
		counter := psv.parent.ensureCounter(ck)
		for _, pk := range pv.parentKeys() {
			counter.elementMap[pk] = defPtr
		}
	}
}

func (psv *profileSetValidator) ensureCounter(key counterKey) *counterData {
	counter, ok := psv.childCounters[key]
	if !ok {
		counter = &counterData{elementMap: make(map[repository.MapKey]repository.ProfiledElementTypeInfo)}
		psv.childCounters[key] = counter
	}
	return counter
}

// incrementCounters bumps each matching parent counter once per
// processed element.
func (psv *profileSetValidator) incrementCounters() {
	if psv.parent == nil {
		return
	}
	incremented := make(map[counterKey]struct{})
	for _, key := range psv.sortedValidatorKeys() {
		pv := psv.profileValidators[key]
		ck := pv.counterKey()
		counter, ok := psv.parent.childCounters[ck]
		if !ok {
			continue
		}
		if _, done := incremented[ck]; done {
			continue
		}
		incremented[ck] = struct{}{}
		counter.count++
	}
}

// createSliceCheckersAndCounters installs slice checkers with the
// parent for every sliced definition in the set, applying the
// unknown-extension rule override where configured.
func (psv *profileSetValidator) createSliceCheckersAndCounters() {
	if psv.parent == nil {
		return
	}
	mode := psv.options().ReportUnknownExtensions
	checkExtension := mode != ReportUnknownExtensionsOff &&
		psv.rootPointer().Key() == psv.validator.extensionRootDefPtr.Key()
	extensionChecked := false
	reportOther := repository.SlicingReportOther

	for _, key := range psv.sortedValidatorKeys() {
		pv := psv.profileValidators[key]
		defPtr := pv.definitionPointer()
		if !defPtr.Element.HasSlices() {
			continue
		}
		extensionChecked = true
		slicing := defPtr.Element.Slicing
		var override *repository.SlicingRules
		if checkExtension &&
			(mode == ReportUnknownExtensionsEnable ||
				(mode == ReportUnknownExtensionsOnlyOpenSlicing && slicing.Rules == repository.SlicingOpen)) {
			override = &reportOther
		}
		checker, exists := psv.parent.sliceCheckers[defPtr.Key()]
		if !exists {
			checker = newSlicingChecker(defPtr.Profile, slicing, override)
			psv.parent.sliceCheckers[defPtr.Key()] = checker
		}
		for _, pk := range pv.parentKeys() {
			checker.addAffectedValidator(pk)
		}
		if !exists {
			psv.createSliceCounters(pv, slicing)
		}
	}
	if !extensionChecked && checkExtension {
		// no extensions defined at this position - report against the
		// base Element.extension slicing
		extensionDef := psv.validator.elementExtensionDefPtr
		slicing := extensionDef.Element.Slicing
		if slicing == nil {
			return
		}
		rootKey := psv.rootPointer().Key()
		checker, exists := psv.parent.sliceCheckers[rootKey]
		if !exists {
			checker = newSlicingChecker(psv.rootPointer().Profile, slicing, &reportOther)
			psv.parent.sliceCheckers[rootKey] = checker
		}
		checker.addAffectedValidator(psv.parent.rootValidator.key())
	}
}

// createSliceCounters registers per-slice cardinality counters with the
// parent.
func (psv *profileSetValidator) createSliceCounters(pv *profileValidator, slicing *repository.Slicing) {
	isArray := pv.definitionPointer().Element.IsArray
	for _, slice := range slicing.Slices {
		slicePtr := repository.NewPET(slice.Profile)
		if !slicePtr.Element.Cardinality.IsConstraint(isArray) {
			continue
		}
		ck := counterKey{name: slicePtr.Element.OriginalFieldName(), slice: slice.Name}
		counter := psv.parent.ensureCounter(ck)
		for _, pk := range pv.parentKeys() {
			counter.elementMap[pk] = slicePtr
		}
	}
}

// finalize completes this node: counter checks, slice-checker results,
// failure propagation.
func (psv *profileSetValidator) finalize(elementFullPath string) {
	psv.finalizeChildCounters(elementFullPath)
	psv.finalizeSliceCheckers(elementFullPath)
	psv.propagateFailures()
}

func (psv *profileSetValidator) finalizeChildCounters(elementFullPath string) {
	keys := make([]counterKey, 0, len(psv.childCounters))
	for key := range psv.childCounters {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].slice < keys[j].slice
	})
	for _, key := range keys {
		psv.childCounters[key].check(psv.profileValidators, key, elementFullPath)
	}
}

func (psv *profileSetValidator) finalizeSliceCheckers(elementFullPath string) {
	for _, key := range sortedCheckerKeys(psv.sliceCheckers) {
		checker := psv.sliceCheckers[key]
		checker.finalize(elementFullPath)
		for _, affected := range checker.affectedValidators() {
			pv, ok := psv.profileValidators[affected]
			if !ok {
				panic("validator: validator not found for slice checker: " + affected.String())
			}
			pv.appendResults(checker.results)
		}
	}
}

func sortedCheckerKeys(m map[repository.MapKey]*slicingChecker) []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}

// propagateFailures spreads validator failures through the require-one
// solvers until the set stabilizes, then finalizes every validator.
func (psv *profileSetValidator) propagateFailures() {
	failed := make(map[repository.MapKey]struct{})
	for key, pv := range psv.profileValidators {
		if pv.failed() {
			failed[key] = struct{}{}
		}
	}
	newFailed := make(map[repository.MapKey]struct{}, len(failed))
	for key := range failed {
		newFailed[key] = struct{}{}
	}
	for len(newFailed) > 0 {
		round := newFailed
		newFailed = make(map[repository.MapKey]struct{})
		for _, f := range sortedKeySet(round) {
			for key, pv := range psv.profileValidators {
				pv.notifyFailed(f)
				if pv.failed() {
					if _, known := failed[key]; !known {
						failed[key] = struct{}{}
						newFailed[key] = struct{}{}
					}
				}
			}
		}
	}
	for _, key := range psv.sortedValidatorKeys() {
		psv.profileValidators[key].finalize()
	}
}

// resultsOf collects the findings of the validators registered for the
// final report plus the set's own findings.
func (psv *profileSetValidator) resultsOf() Results {
	var out Results
	for _, key := range sortedKeySet(psv.includeInResult) {
		pv, ok := psv.profileValidators[key]
		if !ok {
			panic("validator: no validator for: " + key.String())
		}
		out.Append(pv.results())
	}
	out.Append(psv.results)
	return out
}

func (psv *profileSetValidator) sortedValidatorKeys() []repository.MapKey {
	return sortedValidatorKeysOf(psv.profileValidators)
}

func sortedValidatorKeysOf(m map[repository.MapKey]*profileValidator) []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}
