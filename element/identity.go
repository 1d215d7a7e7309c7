package element

import (
	"strings"
)

// Identity names a resource inside a document context: either a
// contained id ("#med1"), a urn (urn:uuid:...), or a relative
// "Type/id" form. Absolute RESTful URLs normalize to the relative form.
type Identity struct {
	ContainedID string
	URL         string
}

// Empty reports whether no identity could be derived.
func (id Identity) Empty() bool { return id.ContainedID == "" && id.URL == "" }

// Equal compares identities.
func (id Identity) Equal(other Identity) bool {
	return id.ContainedID == other.ContainedID && id.URL == other.URL
}

func (id Identity) String() string {
	if id.ContainedID != "" {
		return "#" + id.ContainedID
	}
	return id.URL
}

// normalizeURL reduces an absolute RESTful reference to Type/id so it
// matches bundle-relative references.
func normalizeURL(url string) string {
	if strings.HasPrefix(url, "urn:") {
		return url
	}
	if i := strings.Index(url, "://"); i >= 0 {
		parts := strings.Split(url[i+3:], "/")
		if len(parts) >= 2 {
			return parts[len(parts)-2] + "/" + parts[len(parts)-1]
		}
	}
	return url
}

// ResourceIdentity derives the identity of a resource element: bundle
// entries use their fullUrl, contained resources their id prefixed with
// '#', and free-standing resources ResourceType/id.
func (e *Element) ResourceIdentity() Identity {
	if e.name == "contained" {
		if id := e.stringField("id"); id != "" {
			return Identity{ContainedID: id}
		}
		return Identity{}
	}
	if e.parent != nil && e.parent.name == "entry" {
		if fullURL := e.parent.stringField("fullUrl"); fullURL != "" {
			return Identity{URL: normalizeURL(fullURL)}
		}
	}
	rt := e.ResourceType()
	id := e.stringField("id")
	if rt != "" && id != "" {
		return Identity{URL: rt + "/" + id}
	}
	return Identity{}
}

// ReferenceTargetIdentity derives the identity a Reference element
// points at. Logical (identifier-only) references yield an empty
// identity.
func (e *Element) ReferenceTargetIdentity() Identity {
	ref := e.stringField("reference")
	if ref == "" {
		return Identity{}
	}
	if strings.HasPrefix(ref, "#") {
		return Identity{ContainedID: strings.TrimPrefix(ref, "#")}
	}
	return Identity{URL: normalizeURL(ref)}
}

func (e *Element) stringField(name string) string {
	if e.object == nil {
		return ""
	}
	s, _ := e.object[name].(string)
	return s
}
