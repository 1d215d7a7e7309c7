package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	erpcore "github.com/erp-fd/erp-processing-context"
)

// Source is one conformance document to load.
type Source struct {
	Name string
	Data []byte
}

// LoadError is fatal at startup: a malformed or unresolvable
// conformance resource.
type LoadError struct {
	Source string
	Msg    string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "profile load: " + e.Msg
	if e.Source != "" {
		msg += " (source: " + e.Source + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	views       []*View
	defaultView *View
}

// WithView registers a validity-window view. The first registered view
// becomes the default unless WithDefaultView overrides it.
func WithView(name string, start, end time.Time, pins map[string]string) LoadOption {
	return func(c *loadConfig) {
		c.views = append(c.views, &View{Name: name, Start: start, End: end, Pins: pins})
	}
}

// WithDefaultView names the default view among the registered ones.
func WithDefaultView(name string) LoadOption {
	return func(c *loadConfig) {
		for _, v := range c.views {
			if v.Name == name {
				c.defaultView = v
			}
		}
	}
}

// LoadDir loads every *.json file under dir.
func LoadDir(dir string, opts ...LoadOption) (*Repository, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{Msg: "cannot read profile directory", Err: err}
	}
	var sources []Source
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Source: path, Msg: "cannot read profile file", Err: err}
		}
		sources = append(sources, Source{Name: path, Data: data})
	}
	return Load(sources, opts...)
}

// Load parses all sources and builds the frozen repository. Source
// ordering is irrelevant; cross-profile resolution happens in a second
// pass. Duplicate (url, version) pairs and baseDefinition cycles are
// fatal, as is any constraint expression that fails to parse.
func Load(sources []Source, opts ...LoadOption) (*Repository, error) {
	cfg := &loadConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	repo := &Repository{
		definitionsByURL: make(map[string][]*StructureDefinition),
		definitionsByKey: make(map[string]*StructureDefinition),
		typesByID:        make(map[string]*StructureDefinition),
		codeSystems:      make(map[string][]*CodeSystem),
		valueSets:        make(map[string][]*ValueSet),
	}

	for _, src := range sources {
		if err := loadSource(repo, src); err != nil {
			return nil, err
		}
	}

	if err := resolveBases(repo); err != nil {
		return nil, err
	}
	if err := compileConstraints(repo); err != nil {
		return nil, err
	}
	for _, versions := range repo.valueSets {
		for _, vs := range versions {
			vs.repo = repo
		}
	}
	for url := range repo.definitionsByURL {
		versions := repo.definitionsByURL[url]
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	}

	repo.views = cfg.views
	repo.defaultView = cfg.defaultView
	if repo.defaultView == nil && len(cfg.views) > 0 {
		repo.defaultView = cfg.views[0]
	}
	return repo, nil
}

// loadSource dispatches on resourceType; Bundles are unpacked.
func loadSource(repo *Repository, src Source) error {
	resourceType, err := jsonparser.GetString(src.Data, "resourceType")
	if err != nil {
		return &LoadError{Source: src.Name, Msg: "missing resourceType", Err: err}
	}
	switch resourceType {
	case "StructureDefinition":
		return loadStructureDefinition(repo, src.Name, src.Data)
	case "CodeSystem":
		return loadCodeSystem(repo, src.Name, src.Data)
	case "ValueSet":
		return loadValueSet(repo, src.Name, src.Data)
	case "Bundle":
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(src.Data, &bundle); err != nil {
			return &LoadError{Source: src.Name, Msg: "malformed Bundle", Err: err}
		}
		for i, entry := range bundle.Entry {
			name := fmt.Sprintf("%s#%d", src.Name, i)
			if err := loadSource(repo, Source{Name: name, Data: entry.Resource}); err != nil {
				return err
			}
		}
		return nil
	}
	// other conformance resources are ignored
	return nil
}

// --- StructureDefinition parsing ---

type rawElement struct {
	ID               string          `json:"id"`
	Path             string          `json:"path"`
	SliceName        string          `json:"sliceName"`
	Min              *uint32         `json:"min"`
	Max              string          `json:"max"`
	ContentReference string          `json:"contentReference"`
	Type             []rawType       `json:"type"`
	Base             *rawBase        `json:"base"`
	Binding          *rawBinding     `json:"binding"`
	Constraint       []rawConstraint `json:"constraint"`
	Slicing          *rawSlicing     `json:"slicing"`

	// raw object for fixed[x]/pattern[x] extraction
	everything map[string]json.RawMessage
}

type rawType struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile"`
	TargetProfile []string `json:"targetProfile"`
}

type rawBase struct {
	Path string  `json:"path"`
	Min  *uint32 `json:"min"`
	Max  string  `json:"max"`
}

type rawBinding struct {
	Strength string `json:"strength"`
	ValueSet string `json:"valueSet"`
}

type rawConstraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity"`
	Human      string `json:"human"`
	Expression string `json:"expression"`
}

type rawSlicing struct {
	Discriminator []struct {
		Type string `json:"type"`
		Path string `json:"path"`
	} `json:"discriminator"`
	Ordered bool   `json:"ordered"`
	Rules   string `json:"rules"`
}

func (e *rawElement) UnmarshalJSON(data []byte) error {
	type alias rawElement
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = rawElement(a)
	return json.Unmarshal(data, &e.everything)
}

func loadStructureDefinition(repo *Repository, srcName string, data []byte) error {
	var raw struct {
		URL            string `json:"url"`
		Version        string `json:"version"`
		Name           string `json:"name"`
		Type           string `json:"type"`
		Kind           string `json:"kind"`
		Abstract       bool   `json:"abstract"`
		Derivation     string `json:"derivation"`
		BaseDefinition string `json:"baseDefinition"`
		Snapshot       struct {
			Element []rawElement `json:"element"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return &LoadError{Source: srcName, Msg: "malformed StructureDefinition", Err: err}
	}
	if raw.URL == "" {
		return &LoadError{Source: srcName, Msg: "StructureDefinition without url"}
	}
	if len(raw.Snapshot.Element) == 0 {
		return &LoadError{Source: srcName, Msg: "StructureDefinition without snapshot: " + raw.URL}
	}
	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return &LoadError{Source: srcName, Msg: raw.URL, Err: err}
	}
	derivation, err := ParseDerivation(raw.Derivation)
	if err != nil {
		return &LoadError{Source: srcName, Msg: raw.URL, Err: err}
	}
	sd := &StructureDefinition{
		URL:            raw.URL,
		Version:        raw.Version,
		Name:           raw.Name,
		TypeID:         raw.Type,
		Kind:           kind,
		Derivation:     derivation,
		Abstract:       raw.Abstract,
		BaseDefinition: raw.BaseDefinition,
	}
	if err := buildElements(sd, raw.Snapshot.Element); err != nil {
		return &LoadError{Source: srcName, Msg: raw.URL, Err: err}
	}

	key := sd.Key()
	if _, dup := repo.definitionsByKey[key]; dup {
		return &LoadError{Source: srcName, Msg: "duplicate StructureDefinition: " + key}
	}
	repo.definitionsByKey[key] = sd
	repo.definitionsByURL[sd.URL] = append(repo.definitionsByURL[sd.URL], sd)
	if sd.Derivation != DerivationConstraint && sd.TypeID != "" {
		if _, exists := repo.typesByID[sd.TypeID]; !exists {
			repo.typesByID[sd.TypeID] = sd
		}
	}
	return nil
}

// buildElements converts the snapshot: choice expansion, slice profile
// extraction, uniqueness check, index building.
func buildElements(sd *StructureDefinition, rawElems []rawElement) error {
	type pendingSlice struct {
		owner *ElementDefinition // element carrying the slicing
		slice *Slice
	}
	var currentSlice *pendingSlice
	seen := make(map[string]struct{})

	flushSlice := func() {
		if currentSlice == nil {
			return
		}
		currentSlice.slice.Profile.buildIndex()
		currentSlice.owner.Slicing.Slices = append(currentSlice.owner.Slicing.Slices, currentSlice.slice)
		currentSlice = nil
	}

	for i := range rawElems {
		raw := &rawElems[i]
		if raw.Path == "" {
			return fmt.Errorf("element without path")
		}
		defs, err := convertElement(sd, raw)
		if err != nil {
			return err
		}
		for _, def := range defs {
			switch {
			case currentSlice != nil && strings.HasPrefix(def.Name, currentSlice.slice.Profile.RootElement().Name+".") && def.SliceName == "":
				// sub-element of the open slice
				currentSlice.slice.Profile.Elements = append(currentSlice.slice.Profile.Elements, def)
			case def.SliceName != "":
				flushSlice()
				owner := sd.byNameDuringLoad(def.Name)
				if owner == nil || owner.Slicing == nil {
					return fmt.Errorf("slice %s at %s without slicing declaration", def.SliceName, def.Name)
				}
				sliceProfile := &StructureDefinition{
					URL:      sd.URL,
					Version:  sd.Version,
					Name:     def.SliceName,
					TypeID:   def.TypeID(),
					Kind:     KindSlice,
					Elements: []*ElementDefinition{def},
				}
				currentSlice = &pendingSlice{
					owner: owner,
					slice: &Slice{Name: def.SliceName, Profile: sliceProfile},
				}
			default:
				flushSlice()
				if _, dup := seen[def.Name]; dup {
					return fmt.Errorf("duplicate element path: %s", def.Name)
				}
				seen[def.Name] = struct{}{}
				sd.Elements = append(sd.Elements, def)
			}
		}
	}
	flushSlice()
	sd.buildIndex()
	return nil
}

// byNameDuringLoad finds an already appended element before the index
// exists.
func (sd *StructureDefinition) byNameDuringLoad(name string) *ElementDefinition {
	for i := len(sd.Elements) - 1; i >= 0; i-- {
		if sd.Elements[i].Name == name {
			return sd.Elements[i]
		}
	}
	return nil
}

// convertElement maps a raw snapshot element; choice elements expand to
// one definition per type.
func convertElement(sd *StructureDefinition, raw *rawElement) ([]*ElementDefinition, error) {
	card := Cardinality{Min: 0, Max: Unbounded}
	if raw.Min != nil {
		card.Min = *raw.Min
	}
	switch raw.Max {
	case "", "*":
		card.Max = Unbounded
	default:
		var n uint32
		if _, err := fmt.Sscanf(raw.Max, "%d", &n); err != nil {
			return nil, fmt.Errorf("element %s: invalid max %q", raw.Path, raw.Max)
		}
		card.Max = n
	}
	isArray := card.Max == Unbounded || card.Max > 1
	if raw.Base != nil && raw.Base.Max != "" && raw.Base.Max != "0" && raw.Base.Max != "1" {
		isArray = true
	}

	var binding *Binding
	if raw.Binding != nil {
		strength, err := ParseBindingStrength(raw.Binding.Strength)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", raw.Path, err)
		}
		vsURL, vsVersion, _ := strings.Cut(raw.Binding.ValueSet, "|")
		binding = &Binding{Strength: strength, ValueSetURL: vsURL, ValueSetVersion: vsVersion}
	}

	var constraints []Constraint
	for _, rc := range raw.Constraint {
		severity := erpcore.SeverityError
		switch rc.Severity {
		case "warning":
			severity = erpcore.SeverityWarning
		case "error":
			severity = erpcore.SeverityError
		default:
			return nil, fmt.Errorf("element %s: invalid constraint severity %q", raw.Path, rc.Severity)
		}
		constraints = append(constraints, Constraint{
			Key:        rc.Key,
			Severity:   severity,
			Human:      rc.Human,
			Expression: rc.Expression,
		})
	}

	var slicing *Slicing
	if raw.Slicing != nil {
		rules, err := ParseSlicingRules(raw.Slicing.Rules)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", raw.Path, err)
		}
		slicing = &Slicing{Ordered: raw.Slicing.Ordered, Rules: rules}
		for _, d := range raw.Slicing.Discriminator {
			dt, err := ParseDiscriminatorType(d.Type)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", raw.Path, err)
			}
			slicing.Discriminators = append(slicing.Discriminators, Discriminator{Type: dt, Path: d.Path})
		}
	}

	base := &ElementDefinition{
		Name:         raw.Path,
		OriginalName: raw.Path,
		SliceName:    raw.SliceName,
		Cardinality:  card,
		IsArray:      isArray,
		Binding:      binding,
		Constraints:  constraints,
		Slicing:      slicing,
	}
	base.ContentReference = raw.ContentReference

	if !strings.HasSuffix(raw.Path, "[x]") {
		if len(raw.Type) > 0 {
			base.Type = ElementTypeRef{
				Code:           raw.Type[0].Code,
				Profiles:       raw.Type[0].Profiles(),
				TargetProfiles: raw.Type[0].TargetProfile,
			}
		}
		base.Fixed = rawValueWithPrefix(raw, "fixed")
		base.Pattern = rawValueWithPrefix(raw, "pattern")
		return []*ElementDefinition{base}, nil
	}

	// choice expansion: one definition per declared type
	if len(raw.Type) == 0 {
		return nil, fmt.Errorf("choice element %s without types", raw.Path)
	}
	stem := strings.TrimSuffix(raw.Path, "[x]")
	var out []*ElementDefinition
	for _, t := range raw.Type {
		def := base.clone()
		def.Name = stem + capitalize(t.Code)
		def.OriginalName = raw.Path
		def.Type = ElementTypeRef{Code: t.Code, Profiles: t.Profiles(), TargetProfiles: t.TargetProfile}
		def.Fixed = rawValueExact(raw, "fixed"+capitalize(t.Code))
		def.Pattern = rawValueExact(raw, "pattern"+capitalize(t.Code))
		out = append(out, def)
	}
	return out, nil
}

// Profiles returns the type.profile list (the field name collides with
// the struct tag, hence the method).
func (t rawType) Profiles() []string { return t.Profile }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// rawValueWithPrefix finds the single fixed*/pattern* property.
func rawValueWithPrefix(raw *rawElement, prefix string) any {
	for key, val := range raw.everything {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return decodeRawValue(val)
		}
	}
	return nil
}

func rawValueExact(raw *rawElement, key string) any {
	if val, ok := raw.everything[key]; ok {
		return decodeRawValue(val)
	}
	return nil
}

func decodeRawValue(data json.RawMessage) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// --- CodeSystem / ValueSet parsing ---

type rawConcept struct {
	Code    string       `json:"code"`
	Concept []rawConcept `json:"concept"`
}

func loadCodeSystem(repo *Repository, srcName string, data []byte) error {
	var raw struct {
		URL           string       `json:"url"`
		Version       string       `json:"version"`
		CaseSensitive *bool        `json:"caseSensitive"`
		Concept       []rawConcept `json:"concept"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return &LoadError{Source: srcName, Msg: "malformed CodeSystem", Err: err}
	}
	if raw.URL == "" {
		return &LoadError{Source: srcName, Msg: "CodeSystem without url"}
	}
	cs := &CodeSystem{
		URL:           raw.URL,
		Version:       raw.Version,
		CaseSensitive: raw.CaseSensitive == nil || *raw.CaseSensitive,
		Codes:         make(map[string]string),
	}
	var walk func(parent string, concepts []rawConcept)
	walk = func(parent string, concepts []rawConcept) {
		for _, c := range concepts {
			if c.Code != "" {
				cs.Codes[c.Code] = parent
				walk(c.Code, c.Concept)
			}
		}
	}
	walk("", raw.Concept)
	for _, existing := range repo.codeSystems[cs.URL] {
		if existing.Version == cs.Version {
			return &LoadError{Source: srcName, Msg: "duplicate CodeSystem: " + cs.URL + "|" + cs.Version}
		}
	}
	repo.codeSystems[cs.URL] = append(repo.codeSystems[cs.URL], cs)
	return nil
}

func loadValueSet(repo *Repository, srcName string, data []byte) error {
	var raw struct {
		URL     string `json:"url"`
		Version string `json:"version"`
		Compose struct {
			Include []rawInclude `json:"include"`
			Exclude []rawInclude `json:"exclude"`
		} `json:"compose"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return &LoadError{Source: srcName, Msg: "malformed ValueSet", Err: err}
	}
	if raw.URL == "" {
		return &LoadError{Source: srcName, Msg: "ValueSet without url"}
	}
	vs := &ValueSet{URL: raw.URL, Version: raw.Version}
	vs.Includes = convertIncludes(raw.Compose.Include)
	vs.Excludes = convertIncludes(raw.Compose.Exclude)
	for _, existing := range repo.valueSets[vs.URL] {
		if existing.Version == vs.Version {
			return &LoadError{Source: srcName, Msg: "duplicate ValueSet: " + vs.Key()}
		}
	}
	repo.valueSets[vs.URL] = append(repo.valueSets[vs.URL], vs)
	return nil
}

type rawInclude struct {
	System  string `json:"system"`
	Version string `json:"version"`
	Concept []struct {
		Code string `json:"code"`
	} `json:"concept"`
	Filter []struct {
		Property string `json:"property"`
		Op       string `json:"op"`
		Value    string `json:"value"`
	} `json:"filter"`
	ValueSet []string `json:"valueSet"`
}

func convertIncludes(raws []rawInclude) []ValueSetInclude {
	var out []ValueSetInclude
	for _, r := range raws {
		inc := ValueSetInclude{System: r.System, Version: r.Version, ValueSets: r.ValueSet}
		for _, c := range r.Concept {
			inc.Codes = append(inc.Codes, c.Code)
		}
		for _, f := range r.Filter {
			inc.Filters = append(inc.Filters, ValueSetFilter{Property: f.Property, Op: f.Op, Value: f.Value})
		}
		out = append(out, inc)
	}
	return out
}

// --- second pass ---

// resolveBases links baseDefinition pointers and rejects cycles.
func resolveBases(repo *Repository) error {
	for _, def := range repo.definitionsByKey {
		if def.BaseDefinition == "" {
			continue
		}
		base := repo.FindDefinitionByURL(def.BaseDefinition, nil)
		if base == nil {
			return &LoadError{Msg: "unresolved baseDefinition " + def.BaseDefinition + " of " + def.Key()}
		}
		def.base = base
	}
	for _, def := range repo.definitionsByKey {
		slow, fast := def, def
		for fast != nil && fast.base != nil {
			slow = slow.base
			fast = fast.base.base
			if slow == fast {
				return &LoadError{Msg: "baseDefinition cycle involving " + def.Key()}
			}
		}
	}
	return nil
}

// compileConstraints parses every constraint expression, including those
// inside synthesized slice profiles. Errors are fatal.
func compileConstraints(repo *Repository) error {
	var compileAll func(sd *StructureDefinition) error
	compileAll = func(sd *StructureDefinition) error {
		for _, elem := range sd.Elements {
			for i := range elem.Constraints {
				if err := elem.Constraints[i].compile(); err != nil {
					return &LoadError{Msg: sd.Key() + " element " + elem.Name, Err: err}
				}
			}
			if elem.Slicing != nil {
				for _, slice := range elem.Slicing.Slices {
					if err := compileAll(slice.Profile); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	for _, def := range repo.definitionsByKey {
		if err := compileAll(def); err != nil {
			return err
		}
	}
	return nil
}
