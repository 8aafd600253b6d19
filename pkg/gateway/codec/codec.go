// Package codec converts between record batches and the gateway's XML record
// grammar: one element per record, named after its object type, with one
// child element per field.
package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

const fragmentRoot = "fragment"

// Encode serializes records as concatenated object elements, in input order.
func Encode(records []core.Record) (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for i, r := range records {
		if err := checkName(r.Object); err != nil {
			return "", fmt.Errorf("%w: record %d: %v", core.ErrArgument, i, err)
		}
		start := xml.StartElement{Name: xml.Name{Local: r.Object}}
		if err := enc.EncodeToken(start); err != nil {
			return "", err
		}
		for _, name := range r.FieldNames() {
			if err := encodeValue(enc, name, r.Fields[name]); err != nil {
				return "", fmt.Errorf("%w: record %d (%s): %v", core.ErrArgument, i, r.Object, err)
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return "", err
		}
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeValue(enc *xml.Encoder, name string, v any) error {
	if err := checkName(name); err != nil {
		return err
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if err := encodeValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, item := range t {
			if err := encodeValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeValue(enc, k, t[k]); err != nil {
				return err
			}
		}
	case nil:
	default:
		if s := core.FormatValue(t); s != "" {
			if err := enc.EncodeToken(xml.CharData(s)); err != nil {
				return err
			}
		}
	}
	return enc.EncodeToken(start.End())
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty element name")
	}
	if strings.ContainsAny(name, " <>&\"'/=\t\r\n") {
		return fmt.Errorf("invalid element name %q", name)
	}
	return nil
}

// Decode parses an XML fragment of object elements and returns the records of
// every registered object type, grouped in registry order.
func Decode(fragment string, types core.ObjectTypes) ([]core.Record, error) {
	m, err := mxj.NewMapXml([]byte("<" + fragmentRoot + ">" + fragment + "</" + fragmentRoot + ">"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	section, _ := m[fragmentRoot].(map[string]any)
	return DecodeSection(section, types)
}

// DecodeSection extracts records from an already parsed data section. A lone
// element parses as a single value; it is normalized to a one-element list.
// Object elements match the registered names ignoring case (the gateway
// answers "CUSTOMER" queries with <customer> elements); records carry the
// registered spelling.
func DecodeSection(section map[string]any, types core.ObjectTypes) ([]core.Record, error) {
	var out []core.Record
	for _, object := range types.Names() {
		v, ok := sectionKey(section, object)
		if !ok {
			continue
		}
		for i, item := range AsList(v) {
			r, err := toRecord(object, item)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", core.ErrMalformedResponse, object, i, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func sectionKey(section map[string]any, object string) (any, bool) {
	if v, ok := section[object]; ok {
		return v, true
	}
	for k, v := range section {
		if strings.EqualFold(k, object) {
			return v, true
		}
	}
	return nil, false
}

// AsList normalizes a parsed node to a list: a sequence stays as is, a single
// value becomes a one-element list, nil becomes an empty list.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []map[string]any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, item)
		}
		return out
	default:
		return []any{v}
	}
}

func toRecord(object string, item any) (core.Record, error) {
	switch t := item.(type) {
	case map[string]any:
		return core.NewRecord(object, t), nil
	case mxj.Map:
		return core.NewRecord(object, map[string]any(t)), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return core.NewRecord(object, nil), nil
		}
		return core.Record{}, fmt.Errorf("expected element content, got text %q", t)
	default:
		return core.Record{}, fmt.Errorf("unexpected node type %T", item)
	}
}
