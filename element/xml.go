package element

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/erp-fd/erp-processing-context/repository"
)

// fhirNamespace is the namespace of FHIR XML documents.
const fhirNamespace = "http://hl7.org/fhir"

// ParseXML parses a FHIR XML document into the same in-memory form as
// ParseJSON, following the standard XML-to-JSON mapping: element names
// become fields, repeated elements become arrays, the `value` attribute
// carries primitives, and nested resources appear as wrapped single
// children. Narrative `div` content is not kept: its subtree is skipped
// and replaced by an empty "<div/>" marker.
func ParseXML(repo *repository.Repository, view *repository.View, data []byte) (*Element, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	root, rootName, err := decodeElement(decoder)
	if err != nil {
		return nil, fmt.Errorf("element: invalid XML document: %w", err)
	}
	normalized := NormalizeXMLObject(root)
	normalized["resourceType"] = rootName
	return FromObject(repo, view, normalized)
}

// decodeElement reads the next start element and its subtree.
func decodeElement(decoder *xml.Decoder) (map[string]any, string, error) {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, "", err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space != "" && start.Name.Space != fhirNamespace {
			return nil, "", fmt.Errorf("unexpected namespace %q", start.Name.Space)
		}
		obj, err := decodeObject(decoder, start)
		if err != nil {
			return nil, "", err
		}
		return obj, start.Name.Local, nil
	}
}

// decodeObject converts one XML element subtree into the JSON form.
func decodeObject(decoder *xml.Decoder, start xml.StartElement) (map[string]any, error) {
	obj := make(map[string]any)
	var valueAttr *string
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "value":
			v := attr.Value
			valueAttr = &v
		case "id":
			obj["id"] = attr.Value
		case "url":
			obj["url"] = attr.Value
		case "xmlns":
			// namespace declaration
		}
	}
	if start.Name.Local == "div" {
		// xhtml narrative: swallow the subtree, keep nothing but a marker
		if err := decoder.Skip(); err != nil {
			return nil, err
		}
		obj["div"] = "<div/>"
		return obj, nil
	}
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeObject(decoder, t)
			if err != nil {
				return nil, err
			}
			appendChild(obj, t.Name.Local, child)
		case xml.EndElement:
			return finishObject(obj, valueAttr), nil
		}
	}
	return finishObject(obj, valueAttr), nil
}

// appendChild inserts a decoded child, folding repeats into arrays and
// unwrapping nested resources (contained, Bundle.entry.resource).
func appendChild(obj map[string]any, name string, child map[string]any) {
	var value any = child
	// a child whose single member is a capitalized element is a wrapped
	// resource
	if len(child) == 1 {
		for childName, grand := range child {
			if isResourceName(childName) {
				if res, ok := grand.(map[string]any); ok {
					res["resourceType"] = childName
					value = res
				} else if list, ok := grand.([]any); ok && len(list) == 1 {
					if res, ok := list[0].(map[string]any); ok {
						res["resourceType"] = childName
						value = res
					}
				}
			}
		}
	}
	if existing, ok := obj[name]; ok {
		if list, isList := existing.([]any); isList {
			obj[name] = append(list, value)
		} else {
			obj[name] = []any{existing, value}
		}
		return
	}
	obj[name] = value
}

// finishObject collapses primitive-only elements to their value, and
// attaches extensions of primitives under the object form handled by
// SubElements.
func finishObject(obj map[string]any, valueAttr *string) map[string]any {
	if valueAttr != nil {
		if len(obj) == 0 {
			return map[string]any{xmlPrimitiveKey: *valueAttr}
		}
		obj[xmlPrimitiveKey] = *valueAttr
	}
	return obj
}

// xmlPrimitiveKey is an internal marker resolved by NormalizeXMLObject.
const xmlPrimitiveKey = "\x00value"

// isResourceName detects wrapped resource elements by their capitalized
// name.
func isResourceName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z' && name != "Url"
}

// NormalizeXMLObject rewrites the decoder's internal primitive markers
// into the JSON convention: `field: value` plus `_field: {...}` for
// extension carriers. FromObject callers get the exact ParseJSON shape.
func NormalizeXMLObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for key, val := range obj {
		switch v := val.(type) {
		case map[string]any:
			primitive, extras := splitPrimitive(v)
			if primitive != nil {
				out[key] = primitive
				if len(extras) > 0 {
					out["_"+key] = NormalizeXMLObject(extras)
				}
			} else {
				out[key] = NormalizeXMLObject(v)
			}
		case []any:
			values := make([]any, len(v))
			var exts []any
			hasExt := false
			hasPrimitive := false
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					primitive, extras := splitPrimitive(m)
					if primitive != nil {
						hasPrimitive = true
						values[i] = primitive
						if len(extras) > 0 {
							hasExt = true
							exts = append(exts, NormalizeXMLObject(extras))
						} else {
							exts = append(exts, nil)
						}
						continue
					}
					values[i] = NormalizeXMLObject(m)
					exts = append(exts, nil)
					continue
				}
				values[i] = item
				exts = append(exts, nil)
			}
			out[key] = values
			if hasPrimitive && hasExt {
				out["_"+key] = exts
			}
		default:
			out[key] = val
		}
	}
	return out
}

func splitPrimitive(obj map[string]any) (any, map[string]any) {
	primitive, ok := obj[xmlPrimitiveKey]
	if !ok {
		return nil, nil
	}
	extras := make(map[string]any, len(obj)-1)
	for key, val := range obj {
		if key == xmlPrimitiveKey {
			continue
		}
		extras[key] = val
	}
	return primitive, extras
}
