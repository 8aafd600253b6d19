package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is one business object instance: the object type name plus its fields.
//
// The JSON form is a single-key object, {"CUSTOMER": {"NAME": "c1"}}.
// Field order is remembered when a record is decoded from JSON so that
// encoding reproduces the caller's order; otherwise fields are sorted.
type Record struct {
	Object string
	Fields map[string]any

	order []string
}

// NewRecord builds a record. The fields map is not copied.
func NewRecord(object string, fields map[string]any) Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return Record{Object: object, Fields: fields}
}

// NewOrderedRecord builds a record whose fields encode in the given order.
func NewOrderedRecord(object string, fields map[string]any, order []string) Record {
	r := NewRecord(object, fields)
	r.order = append([]string(nil), order...)
	return r
}

// FieldNames returns the field names in encoding order.
func (r Record) FieldNames() []string {
	out := make([]string, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, name := range r.order {
		if _, ok := r.Fields[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(r.Fields)-len(out))
	for name := range r.Fields {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Get returns the named field value.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Text returns the field value formatted as text ("" when absent).
func (r Record) Text(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Clone returns a copy whose field map can be modified without touching r.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{Object: r.Object, Fields: fields, order: append([]string(nil), r.order...)}
}

// Without returns a copy of r lacking the named field.
func (r Record) Without(name string) Record {
	c := r.Clone()
	delete(c.Fields, name)
	return c
}

// With returns a copy of r with the named field set.
func (r Record) With(name string, v any) Record {
	c := r.Clone()
	if _, ok := c.Fields[name]; !ok && len(c.order) > 0 {
		c.order = append(c.order, name)
	}
	c.Fields[name] = v
	return c
}

// FormatValue renders a scalar field value the way it travels on the wire.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	case float32:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// MarshalJSON renders {"<object>": {...}} keeping the field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	key, err := json.Marshal(r.Object)
	if err != nil {
		return nil, err
	}
	buf.WriteByte('{')
	buf.Write(key)
	buf.WriteString(":{")
	for i, name := range r.FieldNames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s.%s: %w", r.Object, name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts exactly one object-name key mapped to a field object.
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	object, ok := tok.(string)
	if !ok || strings.TrimSpace(object) == "" {
		return fmt.Errorf("record: expected object name key")
	}
	fields, order, err := decodeOrderedObject(dec)
	if err != nil {
		return fmt.Errorf("record %s: %w", object, err)
	}
	if dec.More() {
		return fmt.Errorf("record: expected exactly one object key, found more after %q", object)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	r.Object = object
	r.Fields = fields
	r.order = order
	return nil
}

func decodeOrderedObject(dec *json.Decoder) (map[string]any, []string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}
	fields := map[string]any{}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected field name, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", name, err)
		}
		if _, dup := fields[name]; !dup {
			order = append(order, name)
		}
		fields[name] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return fields, order, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// ParseRecords decodes a JSON array of records, or a single record.
func ParseRecords(b []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrArgument)
	}
	if trimmed[0] == '[' {
		var out []Record
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: parse records: %v", ErrArgument, err)
		}
		return out, nil
	}
	var one Record
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("%w: parse record: %v", ErrArgument, err)
	}
	return []Record{one}, nil
}

// ObjectTypes is the ordered, de-duplicated list of object names a request
// refers to. It travels with each request so the matching response can be
// decoded in the same order.
type ObjectTypes struct {
	names []string
}

// NewObjectTypes keeps the first occurrence of each non-empty name.
func NewObjectTypes(names ...string) ObjectTypes {
	var out ObjectTypes
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || out.Contains(n) {
			continue
		}
		out.names = append(out.names, n)
	}
	return out
}

// ObjectTypesOf collects object names from records in first-appearance order.
func ObjectTypesOf(records []Record) ObjectTypes {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Object)
	}
	return NewObjectTypes(names...)
}

func (o ObjectTypes) Names() []string { return append([]string(nil), o.names...) }

func (o ObjectTypes) Len() int { return len(o.names) }

// Default is the first registered name, or "" when empty.
func (o ObjectTypes) Default() string {
	if len(o.names) == 0 {
		return ""
	}
	return o.names[0]
}

func (o ObjectTypes) Contains(name string) bool {
	for _, n := range o.names {
		if n == name {
			return true
		}
	}
	return false
}
