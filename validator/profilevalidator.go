package validator

import (
	"encoding/json"
	"fmt"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/fhirpath"
	"github.com/erp-fd/erp-processing-context/repository"
)

// profileValidator validates a single element against a single
// profile's view of it. Sub-elements are validated by the validators
// produced by subFieldValidators; findings propagate to the parent's
// shared validationData on finalize.
type profileValidator struct {
	data       *validationData
	parentData map[repository.MapKey]*validationData
	defPtr     repository.ProfiledElementTypeInfo
	sliceName  string
	solver     profileSolver
}

// counterKey identifies a cardinality counter: field name plus slice.
type counterKey struct {
	name  string
	slice string
}

func (k counterKey) String() string {
	if k.slice == "" {
		return k.name
	}
	return k.name + ":" + k.slice
}

// processingResult is what processing one element yields: the slices
// the element matched and additional validators for slice and
// require-one profiles.
type processingResult struct {
	sliceProfiles   []*repository.Slice
	extraValidators map[repository.MapKey]*profileValidator
}

func newRootProfileValidator(defPtr repository.ProfiledElementTypeInfo) *profileValidator {
	return newProfileValidator(defPtr.Key(), nil, defPtr, "")
}

func newProfileValidator(mapKey repository.MapKey, parentData map[repository.MapKey]*validationData, defPtr repository.ProfiledElementTypeInfo, sliceName string) *profileValidator {
	return &profileValidator{
		data:       newValidationData(mapKey),
		parentData: parentData,
		defPtr:     defPtr,
		sliceName:  sliceName,
	}
}

func (v *profileValidator) key() repository.MapKey { return v.data.mapKey }

func (v *profileValidator) definitionPointer() repository.ProfiledElementTypeInfo { return v.defPtr }

func (v *profileValidator) counterKey() counterKey {
	return counterKey{name: v.defPtr.Element.OriginalFieldName(), slice: v.sliceName}
}

func (v *profileValidator) parentKeys() []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(v.parentData))
	for key := range v.parentData {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}

// subFieldValidators produces the validators applying to a named
// sub-field. Profiles that do not constrain the field are abandoned,
// except at backbone elements, where an undefined field is prohibited
// through a synthesized zero-cardinality definition.
func (v *profileValidator) subFieldValidators(repo *repository.Repository, name string) (map[repository.MapKey]*profileValidator, error) {
	result := make(map[repository.MapKey]*profileValidator)
	subField, ok := v.defPtr.SubField(repo, name)
	if !ok {
		if !v.defPtr.Element.IsBackbone() {
			// profile doesn't reach this field; abandon it here
			return result, nil
		}
		baseName := v.defPtr.Element.Name + "." + name
		basePET, err := repo.ResolveBaseContentReference("#" + baseName)
		if err != nil {
			return nil, fmt.Errorf("field resolution failed: %s: %w", baseName, err)
		}
		originalName := baseName
		if v.sliceName != "" {
			originalName += ":" + v.sliceName
		}
		prohibited := basePET.Element.WithCardinality(0, 0).WithOriginalName(originalName)
		zeroPtr := repository.ProfiledElementTypeInfo{Profile: basePET.Profile, Element: prohibited}
		key := v.defPtr.Key()
		sub := newProfileValidator(key, map[repository.MapKey]*validationData{v.key(): v.data}, zeroPtr, v.sliceName)
		result[key] = sub
		return result, nil
	}

	// Element.type.profile: require-one across the declared profiles
	profileData := make(map[repository.MapKey]*validationData)
	for _, url := range subField.Element.Profiles() {
		prof := repo.FindDefinitionByURL(url, nil)
		if prof == nil {
			return nil, fmt.Errorf("failed to resolve profile: %s", url)
		}
		defPtr := repository.NewPET(prof)
		key := defPtr.Key()
		sub := newProfileValidator(key, nil, defPtr, "")
		profileData[key] = sub.data
		result[key] = sub
	}
	for _, defPtr := range v.defPtr.SubDefinitions(repo, name) {
		key := defPtr.Key()
		sub := newProfileValidator(key, map[repository.MapKey]*validationData{v.key(): v.data}, defPtr, "")
		if len(profileData) > 0 {
			sub.solver.requireOne(profileData)
		}
		result[key] = sub
	}
	return result, nil
}

func (v *profileValidator) typecast(def *repository.StructureDefinition) {
	v.defPtr = v.defPtr.TypeCast(def)
}

// process runs the per-node checks and classifies the element into the
// slices of its definition.
func (v *profileValidator) process(elem *element.Element, elementFullPath string) processingResult {
	v.checkConstraints(elem, elementFullPath)
	v.checkBinding(elem, elementFullPath)
	v.checkValue(elem, elementFullPath)

	slicing := v.defPtr.Element.Slicing
	if slicing == nil || len(slicing.Slices) == 0 {
		return processingResult{}
	}
	env := &fhirpath.Env{TypeChecker: elem.Repository()}
	result := processingResult{extraValidators: make(map[repository.MapKey]*profileValidator)}
	for _, slice := range slicing.Slices {
		condition, err := slice.Condition(slicing.Discriminators)
		if err != nil {
			v.data.add(erpcore.SeverityError,
				fmt.Sprintf("couldn't get condition for slice %s: %v", slice.Name, err),
				elementFullPath, v.defPtr.Profile)
			continue
		}
		if !condition.Test(env, elem) {
			continue
		}
		result.sliceProfiles = append(result.sliceProfiles, slice)
		slicePtr := repository.NewPET(slice.Profile)
		sliceKey := slicePtr.Key()
		sliceVal := newProfileValidator(sliceKey, v.parentData, slicePtr, slice.Name)
		subResult := sliceVal.process(elem, elementFullPath)
		if len(subResult.sliceProfiles) > 0 {
			panic("validator: slice root element cannot be sliced")
		}
		v.data.add(erpcore.SeverityDebug, "detected slice: "+slice.Name, elementFullPath, slice.Profile)
		if rootProfiles := slicePtr.Element.Profiles(); len(rootProfiles) > 0 {
			profileData := make(map[repository.MapKey]*validationData)
			for _, url := range rootProfiles {
				prof := elem.Repository().FindDefinitionByURL(url, nil)
				if prof == nil {
					v.data.add(erpcore.SeverityError, "failed to resolve profile: "+url,
						elementFullPath, slice.Profile)
					continue
				}
				defPtr := repository.NewPET(prof)
				key := defPtr.Key()
				extra := newProfileValidator(key, nil, defPtr, "")
				profileData[key] = extra.data
				result.extraValidators[key] = extra
			}
			if len(profileData) > 0 {
				sliceVal.solver.requireOne(profileData)
			}
		}
		result.extraValidators[sliceKey] = sliceVal
	}
	return result
}

// checkConstraints evaluates every compiled constraint; evaluation
// errors surface as error findings.
func (v *profileValidator) checkConstraints(elem *element.Element, elementFullPath string) {
	env := &fhirpath.Env{TypeChecker: elem.Repository(), Resolver: documentResolver{root: elem}}
	input := fhirpath.Collection{fhirpath.ItemOfNode(elem)}
	for i := range v.defPtr.Element.Constraints {
		constraint := &v.defPtr.Element.Constraints[i]
		expr := constraint.Compiled()
		if expr == nil {
			continue
		}
		ok, err := expr.EvaluateBool(env, input)
		if err != nil {
			v.data.add(erpcore.SeverityError,
				fmt.Sprintf("%s{%s} evaluation error: %v", constraint.Key, constraint.Expression, err),
				elementFullPath, v.defPtr.Profile)
			continue
		}
		if ok != nil && !*ok {
			v.data.addConstraint(constraint, elementFullPath, v.defPtr.Profile)
		}
	}
}

// checkValue enforces fixed/pattern literals and the primitive lexical
// form of the declared type.
func (v *profileValidator) checkValue(elem *element.Element, elementFullPath string) {
	def := v.defPtr.Element
	if fixed := def.Fixed; fixed != nil {
		if !elem.Equal(fixed) {
			v.data.add(erpcore.SeverityError,
				fmt.Sprintf("value must match fixed value: %s (but is %s)", jsonLiteral(fixed), elem.JSON()),
				elementFullPath, v.defPtr.Profile)
		}
	}
	if pattern := def.Pattern; pattern != nil {
		if !elem.Matches(pattern) {
			v.data.add(erpcore.SeverityError,
				fmt.Sprintf("value must match pattern value: %s (but is %s)", jsonLiteral(pattern), elem.JSON()),
				elementFullPath, v.defPtr.Profile)
		}
	}
	if typeID := def.TypeID(); typeID != "" && elem.HasValue() {
		if err := element.ValidatePrimitive(typeID, elem.AsString()); err != nil {
			v.data.add(erpcore.SeverityError, err.Error(), elementFullPath, v.defPtr.Profile)
		}
	}
}

// checkBinding resolves and enforces the terminology binding.
func (v *profileValidator) checkBinding(elem *element.Element, elementFullPath string) {
	def := v.defPtr.Element
	if !def.HasBinding() {
		return
	}
	binding := def.Binding
	if binding.Strength == repository.BindingExample || binding.Strength == repository.BindingPreferred {
		return
	}
	valueSet := elem.Repository().FindValueSet(binding.ValueSetURL, binding.ValueSetVersion)
	if valueSet == nil {
		v.data.add(erpcore.SeverityWarning, "Unresolved ValueSet binding: "+binding.ValueSetURL,
			elementFullPath, v.defPtr.Profile)
		return
	}
	if warnings := valueSet.Warnings(); warnings != "" {
		v.data.add(erpcore.SeverityWarning, warnings, elementFullPath, v.defPtr.Profile)
	}
	if !valueSet.CanValidate() {
		v.data.add(erpcore.SeverityWarning, "Cannot validate ValueSet binding", elementFullPath, v.defPtr.Profile)
		return
	}
	v.validateBinding(elem, binding, valueSet, elementFullPath)
}

func (v *profileValidator) validateBinding(elem *element.Element, binding *repository.Binding, valueSet *repository.ValueSet, elementFullPath string) {
	severity := erpcore.SeverityDebug
	if binding.Strength == repository.BindingRequired {
		severity = erpcore.SeverityError
	}
	switch v.defPtr.Element.TypeID() {
	case "CodeableConcept":
		// at least one nested coding must be in the value set
		codings := elem.SubElements("coding")
		if len(codings) == 0 {
			return
		}
		for _, coding := range codings {
			if codingInValueSet(coding, valueSet) {
				return
			}
		}
		v.checkCodingBinding(codings[0], valueSet, elementFullPath, severity)
	case "Coding":
		v.checkCodingBinding(elem, valueSet, elementFullPath, severity)
	default:
		if !elem.HasValue() {
			return
		}
		code := elem.AsString()
		if !valueSet.ContainsCode(code) {
			v.data.add(severity,
				fmt.Sprintf("Value %s not allowed for ValueSet binding, allowed are %s", code, valueSet.CodesToString()),
				elementFullPath, v.defPtr.Profile)
		}
	}
}

func codingInValueSet(coding *element.Element, valueSet *repository.ValueSet) bool {
	systems := coding.SubElements("system")
	codes := coding.SubElements("code")
	if len(systems) != 1 || len(codes) != 1 {
		return false
	}
	return valueSet.ContainsSystemCode(codes[0].AsString(), systems[0].AsString())
}

func (v *profileValidator) checkCodingBinding(coding *element.Element, valueSet *repository.ValueSet, elementFullPath string, severity erpcore.Severity) {
	systems := coding.SubElements("system")
	codes := coding.SubElements("code")
	if len(systems) != 1 || len(codes) != 1 {
		v.data.add(severity, "Expected exactly one system and one code sub-element",
			elementFullPath, v.defPtr.Profile)
		return
	}
	code, system := codes[0].AsString(), systems[0].AsString()
	if !valueSet.ContainsSystemCode(code, system) {
		v.data.add(severity,
			fmt.Sprintf("Code %s with system %s not allowed for ValueSet binding, allowed are %s",
				code, system, valueSet.CodesToString()),
			elementFullPath, v.defPtr.Profile)
	}
}

func (v *profileValidator) appendResults(results Results) {
	v.data.append(results)
}

// finalize collects the solver outcome and pushes everything into the
// parents' shared data.
func (v *profileValidator) finalize() {
	v.data.append(v.solver.collectResults())
	for _, key := range v.parentKeys() {
		v.parentData[key].merge(v.data)
	}
}

func (v *profileValidator) results() Results {
	var out Results
	out.Append(v.data.results)
	return out
}

func (v *profileValidator) notifyFailed(key repository.MapKey) {
	if v.solver.fail(key) {
		v.data.fail()
	}
}

func (v *profileValidator) failed() bool {
	return v.data.isFailed() || v.solver.isFailed()
}

// merge combines two validators for the same (profile, element, slice).
func (v *profileValidator) merge(other *profileValidator) {
	if v.parentData == nil {
		v.parentData = make(map[repository.MapKey]*validationData)
	}
	for key, data := range other.parentData {
		v.parentData[key] = data
	}
	v.solver.merge(&other.solver)
	v.data.merge(other.data)
}

func jsonLiteral(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// documentResolver resolves resolve() calls against the containing
// document: contained ids and bundle fullUrls.
type documentResolver struct {
	root *element.Element
}

// Resolve implements fhirpath.Resolver by scanning upward for the
// document root and matching identities below it.
func (r documentResolver) Resolve(reference string) fhirpath.Node {
	top := r.root
	for top.Parent() != nil {
		top = top.Parent()
	}
	return findByReference(top, reference)
}

func findByReference(elem *element.Element, reference string) fhirpath.Node {
	if elem.IsResource() {
		identity := elem.ResourceIdentity()
		if !identity.Empty() && identity.String() == reference {
			return elem
		}
		rt := elem.ResourceType()
		if id := firstString(elem, "id"); id != "" && rt+"/"+id == reference {
			return elem
		}
	}
	for _, name := range elem.SubElementNames() {
		for _, sub := range elem.SubElements(name) {
			if !sub.IsResource() && name != "contained" && name != "entry" && name != "resource" {
				continue
			}
			if found := findByReference(sub, reference); found != nil {
				return found
			}
		}
	}
	return nil
}

func firstString(elem *element.Element, name string) string {
	subs := elem.SubElements(name)
	if len(subs) == 1 && subs[0].HasValue() {
		return subs[0].AsString()
	}
	return ""
}
