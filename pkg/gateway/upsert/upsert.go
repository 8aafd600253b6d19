// Package upsert decides, for a batch of candidate records, which ones must
// be created and which ones already exist and must be updated.
package upsert

import (
	"fmt"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

// Plan partitions candidates. Both lists keep the candidates' relative order
// and together contain every candidate exactly once.
type Plan struct {
	ToCreate []core.Record
	ToUpdate []core.Record

	// CreateAt and UpdateAt hold the candidate position of each planned record.
	CreateAt []int
	UpdateAt []int
}

// Options names the matching fields.
type Options struct {
	// NameField identifies an existing record (e.g. "NAME").
	NameField string
	// KeyField is the update key (e.g. "RECORDNO"). When an update candidate
	// lacks it, the matched record's value is copied in.
	KeyField string
	// ReadOnlyName strips NameField from records to create, for objects whose
	// name is assigned by the gateway.
	ReadOnlyName bool
}

// Build partitions candidates against the existing records of object.
// Candidates of other object types, or without a name value, are created.
func Build(object string, candidates, existing []core.Record, opts Options) (Plan, error) {
	if strings.TrimSpace(object) == "" {
		return Plan{}, fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	if strings.TrimSpace(opts.NameField) == "" {
		return Plan{}, fmt.Errorf("%w: name field is required", core.ErrArgument)
	}

	byName := make(map[string]core.Record, len(existing))
	for _, r := range existing {
		name := r.Text(opts.NameField)
		if name == "" {
			continue
		}
		if _, dup := byName[name]; !dup {
			byName[name] = r
		}
	}

	var plan Plan
	for i, c := range candidates {
		name := c.Text(opts.NameField)
		match, found := byName[name]
		if c.Object == object && name != "" && found {
			plan.ToUpdate = append(plan.ToUpdate, withKey(c, match, opts.KeyField))
			plan.UpdateAt = append(plan.UpdateAt, i)
			continue
		}
		if opts.ReadOnlyName {
			c = c.Without(opts.NameField)
		}
		plan.ToCreate = append(plan.ToCreate, c)
		plan.CreateAt = append(plan.CreateAt, i)
	}
	return plan, nil
}

func withKey(candidate, match core.Record, keyField string) core.Record {
	if keyField == "" {
		return candidate
	}
	if v, ok := candidate.Get(keyField); ok && core.FormatValue(v) != "" {
		return candidate
	}
	v, ok := match.Get(keyField)
	if !ok {
		return candidate
	}
	return candidate.With(keyField, v)
}

// LookupQuery builds the readByQuery filter that finds existing records by
// name: NAME in ('a','b'). ok is false when no candidate of object has a name.
func LookupQuery(object string, candidates []core.Record, nameField string) (query string, ok bool) {
	seen := map[string]bool{}
	var quoted []string
	for _, c := range candidates {
		if c.Object != object {
			continue
		}
		name := c.Text(nameField)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		quoted = append(quoted, "'"+strings.ReplaceAll(name, "'", "''")+"'")
	}
	if len(quoted) == 0 {
		return "", false
	}
	return nameField + " in (" + strings.Join(quoted, ",") + ")", true
}

// LookupFields is the field list for the existence lookup.
func LookupFields(opts Options) string {
	if opts.KeyField == "" || strings.EqualFold(opts.KeyField, opts.NameField) {
		return opts.NameField
	}
	return opts.NameField + "," + opts.KeyField
}

// Merge combines the outcomes of the create and update steps. It never reorders.
func Merge(created, updated []core.Record) core.UpsertResult {
	return core.UpsertResult{
		Created: append([]core.Record(nil), created...),
		Updated: append([]core.Record(nil), updated...),
	}
}
