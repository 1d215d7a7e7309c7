package cades

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"sort"
)

// contentInfo per RFC 5652 section 3.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// signedData per RFC 5652 section 5.1. The crls field holds
// RevocationInfoChoices; the otherRevocationInfoChoice entries inside
// it are parsed manually (see ocsp.go) because encoding/asn1 cannot
// express the CHOICE.
type signedData struct {
	Version                    int                        `asn1:"default:1"`
	DigestAlgorithmIdentifiers []algorithmIdentifier      `asn1:"set"`
	ContentInfo                contentInfo
	Certificates               rawCertificates `asn1:"optional,tag:0"`
	CRLs                       asn1.RawValue   `asn1:"optional,tag:1"`
	SignerInfos                []signerInfo    `asn1:"set"`
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type rawCertificates struct {
	Raw asn1.RawContent
}

func (raw rawCertificates) parse() ([]*x509.Certificate, error) {
	if len(raw.Raw) == 0 {
		return nil, nil
	}
	var val asn1.RawValue
	if _, err := asn1.Unmarshal(raw.Raw, &val); err != nil {
		return nil, err
	}
	return x509.ParseCertificates(val.Bytes)
}

func marshalCertificates(certs []*x509.Certificate) (rawCertificates, error) {
	var buf bytes.Buffer
	for _, cert := range certs {
		buf.Write(cert.Raw)
	}
	val := asn1.RawValue{Bytes: buf.Bytes(), Class: 2, Tag: 0, IsCompound: true}
	b, err := asn1.Marshal(val)
	if err != nil {
		return rawCertificates{}, err
	}
	return rawCertificates{Raw: b}, nil
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

type attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

// signerInfo per RFC 5652 section 5.3 (issuerAndSerialNumber form).
type signerInfo struct {
	Version                   int `asn1:"default:1"`
	IssuerAndSerialNumber     issuerAndSerial
	DigestAlgorithm           algorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm algorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes []attribute `asn1:"optional,tag:1"`
}

// findAttribute returns the raw SET content of the first attribute with
// the given type, or nil.
func (si *signerInfo) findAttribute(oid asn1.ObjectIdentifier) *asn1.RawValue {
	for i := range si.AuthenticatedAttributes {
		if si.AuthenticatedAttributes[i].Type.Equal(oid) {
			return &si.AuthenticatedAttributes[i].Value
		}
	}
	return nil
}

// attributeValue extracts the first value inside an attribute's SET.
func attributeValue(set *asn1.RawValue) ([]byte, error) {
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(set.Bytes, &inner); err != nil {
		return nil, err
	}
	return inner.FullBytes, nil
}

// attributes builds a DER SET OF Attribute in the canonical order
// required for signing.
type attributes struct {
	list []attribute
}

func (as *attributes) add(attrType asn1.ObjectIdentifier, value any) error {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return err
	}
	as.list = append(as.list, attribute{
		Type:  attrType,
		Value: asn1.RawValue{Tag: 17, IsCompound: true, Bytes: encoded}, // SET
	})
	return nil
}

func (as *attributes) addRaw(attrType asn1.ObjectIdentifier, der []byte) {
	as.list = append(as.list, attribute{
		Type:  attrType,
		Value: asn1.RawValue{Tag: 17, IsCompound: true, Bytes: der},
	})
}

// forMarshaling sorts the attributes by their DER encoding (SET OF
// ordering).
func (as *attributes) forMarshaling() ([]attribute, error) {
	type sortable struct {
		key  []byte
		attr attribute
	}
	sortables := make([]sortable, 0, len(as.list))
	for _, attr := range as.list {
		encoded, err := asn1.Marshal(attr)
		if err != nil {
			return nil, err
		}
		sortables = append(sortables, sortable{key: encoded, attr: attr})
	}
	sort.Slice(sortables, func(i, j int) bool {
		return bytes.Compare(sortables[i].key, sortables[j].key) < 0
	})
	out := make([]attribute, len(sortables))
	for i, s := range sortables {
		out[i] = s.attr
	}
	return out, nil
}

// marshalAttributes produces the signed-attribute digest input: the
// DER of the attribute list under an explicit SET tag.
func marshalAttributes(attrs []attribute) ([]byte, error) {
	encoded, err := asn1.Marshal(struct {
		A []attribute `asn1:"set"`
	}{A: attrs})
	if err != nil {
		return nil, err
	}
	// strip the wrapping sequence; the digest input is the SET itself
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(encoded, &raw); err != nil {
		return nil, err
	}
	return raw.Bytes, nil
}
