package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/codec"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

// parseMetadata reads data/Type/Fields/Field. A plain inspect lists field
// names as text; a detailed inspect gives one element per field.
func parseMetadata(data map[string]any, fallbackName string) (*core.ObjectMetadata, error) {
	typ, ok := asMap(child(data, "Type"))
	if !ok {
		return nil, fmt.Errorf("%w: inspect reply has no Type element", core.ErrProtocolViolation)
	}
	meta := &core.ObjectMetadata{Name: strings.TrimSpace(text(child(typ, "-Name")))}
	if meta.Name == "" {
		meta.Name = fallbackName
	}
	fields, _ := asMap(child(typ, "Fields"))
	for i, node := range codec.AsList(child(fields, "Field")) {
		fd, err := fieldDescriptor(node)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", core.ErrProtocolViolation, i, err)
		}
		meta.Fields = append(meta.Fields, fd)
	}
	return meta, nil
}

func fieldDescriptor(node any) (core.FieldDescriptor, error) {
	if s, ok := node.(string); ok {
		return core.FieldDescriptor{Name: strings.TrimSpace(s)}, nil
	}
	m, ok := asMap(node)
	if !ok {
		return core.FieldDescriptor{}, fmt.Errorf("unexpected node %T", node)
	}
	fd := core.FieldDescriptor{Attributes: map[string]string{}}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.TrimPrefix(k, "-")
		v := m[k]
		switch v.(type) {
		case map[string]any, []any:
			// Nested descriptors (valid values lists) are not flattened.
			continue
		}
		val := strings.TrimSpace(text(v))
		switch strings.ToUpper(name) {
		case "ID", "NAME", "#TEXT":
			if fd.Name == "" {
				fd.Name = val
			}
			continue
		}
		fd.Attributes[name] = val
	}
	if fd.Name == "" {
		return core.FieldDescriptor{}, fmt.Errorf("field element has no ID")
	}
	return fd, nil
}

// child looks a key up exactly, then case-insensitively.
func child(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
