package validator

import (
	"strings"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/repository"
)

// anchorType is a bitset of reference anchors a resource is reachable
// from. Reachability propagation is a monotone fixed point over these
// bits, so it terminates.
type anchorType uint8

const (
	anchorNone      anchorType = 0
	anchorContained anchorType = 0b01
	anchorComposite anchorType = 0b10
	anchorAll                  = anchorContained | anchorComposite
)

func (a anchorType) String() string {
	switch a {
	case anchorNone:
		return "none"
	case anchorContained:
		return "contained"
	case anchorComposite:
		return "composition"
	case anchorAll:
		return "all"
	}
	return "invalid"
}

// referenceInfo records one outgoing reference of a resource.
type referenceInfo struct {
	identity           element.Identity
	elementFullPath    string
	localPath          string
	referencingElement *element.Element
	// targetProfileSets maps each declaring profile to the resolved
	// allowed target profiles.
	targetProfileSets map[*repository.StructureDefinition][]*repository.StructureDefinition
	mustBeResolvable  bool
}

// resourceInfo records one resource of the document context.
type resourceInfo struct {
	identity             element.Identity
	elementFullPath      string
	resourceRoot         *element.Element
	anchor               anchorType
	referenceRequirement anchorType
	referencedByAnchor   anchorType
	referenceTargets     []*referenceInfo
	contained            []*resourceInfo
}

// referenceContext holds all resources and references of one top-level
// resource (a context ends at Bundle.entry of a nested Bundle).
type referenceContext struct {
	resources []*resourceInfo
}

func (ctx *referenceContext) addResource(res *resourceInfo) {
	ctx.resources = append(ctx.resources, res)
}

func (ctx *referenceContext) merge(other *referenceContext) {
	ctx.resources = append(other.resources, ctx.resources...)
}

// mustResolvePaths are the Composition reference positions that must
// resolve within a document bundle.
var mustResolvePaths = map[string]struct{}{
	".subject":         {},
	".encounter":       {},
	".author":          {},
	".attester.party":  {},
	".custodian":       {},
	".event.detail":    {},
	".section.author":  {},
	".section.focus":   {},
	".section.entry":   {},
}

// finalize runs anchor marking, reachability propagation and the
// missing-reference/missing-resolution/target-profile checks.
func (ctx *referenceContext) finalize(options Options) Results {
	var out Results
	if !options.ValidateReferences {
		return out
	}
	ctx.markContainedAnchors()
	for _, res := range ctx.resources {
		if res.anchor != anchorNone {
			ctx.followReferences(res.anchor, res)
		}
	}
	for _, res := range ctx.resources {
		ctx.checkMissingReference(res, options, &out)
		ctx.checkMissingResolution(res, options, &out)
		ctx.checkTargetProfiles(res, &out)
	}
	return out
}

func (ctx *referenceContext) markContainedAnchors() {
	for _, res := range ctx.resources {
		for _, target := range res.referenceTargets {
			for _, contained := range res.contained {
				if contained.identity.Equal(target.identity) {
					contained.anchor |= anchorContained
				}
			}
		}
	}
}

func (ctx *referenceContext) followReferences(anchor anchorType, info *resourceInfo) {
	anchor = info.referencedByAnchor | info.anchor | anchor
	if info.referencedByAnchor&anchor == anchor {
		return
	}
	info.referencedByAnchor = anchor
	for _, ref := range info.referenceTargets {
		for _, resource := range ctx.resources {
			if !resource.identity.Empty() && resource.identity.Equal(ref.identity) {
				newAnchor := resource.referencedByAnchor | anchor | resource.anchor
				if newAnchor != resource.referencedByAnchor {
					ctx.followReferences(newAnchor, resource)
				}
			}
		}
	}
}

func (ctx *referenceContext) checkMissingReference(res *resourceInfo, options Options, out *Results) {
	missing := (^res.referencedByAnchor) & res.referenceRequirement & anchorAll
	switch missing {
	case anchorAll:
		severity := options.Levels.UnreferencedBundledResource
		if options.Levels.UnreferencedContainedResource > severity {
			severity = options.Levels.UnreferencedContainedResource
		}
		out.Add(severity, "Missing reference chain from Container and Composition: "+res.identity.String(),
			res.elementFullPath, nil)
	case anchorComposite:
		out.Add(options.Levels.UnreferencedBundledResource,
			"Missing reference chain from Composition: "+res.identity.String(), res.elementFullPath, nil)
	case anchorContained:
		out.Add(options.Levels.UnreferencedContainedResource,
			"Missing reference chain from Container: "+res.identity.String(), res.elementFullPath, nil)
	}
}

// checkMissingResolution enforces the Composition must-resolve paths
// inside document bundles.
func (ctx *referenceContext) checkMissingResolution(res *resourceInfo, options Options, out *Results) {
	root := res.resourceRoot
	if root == nil {
		return
	}
	profile := root.DefinitionPointer().Profile
	if profile == nil || !profile.IsDerivedFrom(compositionURL) {
		return
	}
	parent := root.Parent()
	for parent != nil && parent.DefinitionPointer().Profile == nil {
		parent = parent.Parent()
	}
	inBundle := false
	for cur := parent; cur != nil; cur = cur.Parent() {
		if cur.ResourceType() == "Bundle" {
			inBundle = isDocumentBundle(true, cur)
			break
		}
	}
	if !inBundle {
		return
	}
	for _, target := range res.referenceTargets {
		if _, must := mustResolvePaths[target.localPath]; !must {
			continue
		}
		target.mustBeResolvable = true
		if target.identity.Empty() {
			if options.AllowNonLiteralAuthorReference && target.localPath == ".author" {
				continue
			}
			msg := "reference is not literal or invalid but must be resolvable: " + target.referencingElement.JSON()
			out.Add(options.Levels.MandatoryResolvableReferenceFailure, msg, target.elementFullPath, nil)
			continue
		}
		resolved := false
		for _, other := range ctx.resources {
			if other.identity.Equal(target.identity) {
				resolved = true
				break
			}
		}
		if !resolved {
			out.Add(options.Levels.UnreferencedBundledResource,
				"reference must be resolvable: "+target.identity.String(), target.elementFullPath, nil)
		}
	}
}

// checkTargetProfiles intersects the allowed target profiles of each
// reference with the referent's actual profile set.
func (ctx *referenceContext) checkTargetProfiles(res *resourceInfo, out *Results) {
	for _, target := range res.referenceTargets {
		if target.identity.Empty() || len(target.targetProfileSets) == 0 {
			continue
		}
		var referent *resourceInfo
		for _, other := range ctx.resources {
			if other.identity.Equal(target.identity) {
				referent = other
				break
			}
		}
		if referent == nil || referent.resourceRoot == nil {
			continue
		}
		referentType := referent.resourceRoot.ResourceType()
		referentProfiles := referent.resourceRoot.Profiles()
		for declaring, allowed := range target.targetProfileSets {
			if len(allowed) == 0 {
				continue
			}
			if targetProfileMatches(referent.resourceRoot.Repository(), referentType, referentProfiles, allowed) {
				continue
			}
			urls := make([]string, 0, len(allowed))
			for _, prof := range allowed {
				urls = append(urls, prof.URL)
			}
			out.Add(erpcore.SeverityError,
				"Non of the allowed Target Profiles ["+strings.Join(urls, ", ")+"] matches type: "+referentType,
				target.elementFullPath, declaring)
		}
	}
}

func targetProfileMatches(repo *repository.Repository, referentType string, referentProfiles []string, allowed []*repository.StructureDefinition) bool {
	typeDef := repo.FindTypeByID(referentType)
	for _, prof := range allowed {
		if typeDef != nil && typeDef.IsDerivedFromDefinition(prof) {
			return true
		}
		if prof.TypeID == referentType {
			return true
		}
		for _, url := range referentProfiles {
			if url == prof.URL || strings.HasPrefix(url, prof.URL+"|") {
				return true
			}
		}
	}
	return false
}

const (
	bundleURL         = "http://hl7.org/fhir/StructureDefinition/Bundle"
	compositionURL    = "http://hl7.org/fhir/StructureDefinition/Composition"
	domainResourceURL = "http://hl7.org/fhir/StructureDefinition/DomainResource"
)
