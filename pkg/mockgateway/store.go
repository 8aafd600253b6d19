package mockgateway

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"gopkg.in/yaml.v3"
)

// Seed is the initial content of the mock: records per object type.
//
//	objects:
//	  customer:
//	    - NAME: Acme
//	      CUSTOMERID: C1
type Seed struct {
	Objects map[string][]map[string]any `yaml:"objects"`
	// Sessions are session ids accepted without a login.
	Sessions []string `yaml:"sessions"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// store holds records per object type in insertion order. Records are
// replaced, never mutated, so a shallow copy is a consistent snapshot.
type store struct {
	objects map[string][]core.Record
	nextNo  int
}

func newStore() *store {
	return &store{objects: map[string][]core.Record{}, nextNo: 1}
}

func (st *store) snapshot() *store {
	cp := &store{objects: make(map[string][]core.Record, len(st.objects)), nextNo: st.nextNo}
	for k, v := range st.objects {
		cp.objects[k] = append([]core.Record(nil), v...)
	}
	return cp
}

func (st *store) known(object string) bool {
	_, ok := st.objects[object]
	return ok
}

func (st *store) all(object string) []core.Record {
	return append([]core.Record(nil), st.objects[object]...)
}

// insert assigns a RECORDNO and appends.
func (st *store) insert(r core.Record) core.Record {
	no := strconv.Itoa(st.nextNo)
	st.nextNo++
	r = r.With("RECORDNO", no)
	st.objects[r.Object] = append(st.objects[r.Object], r)
	return r
}

func (st *store) find(object, recordNo string) (int, bool) {
	for i, r := range st.objects[object] {
		if r.Text("RECORDNO") == recordNo {
			return i, true
		}
	}
	return -1, false
}

func (st *store) findBy(object, field, value string) (int, bool) {
	if value == "" {
		return -1, false
	}
	for i, r := range st.objects[object] {
		if v, ok := lookup(r, field); ok && v == value {
			return i, true
		}
	}
	return -1, false
}

func (st *store) remove(object string, i int) core.Record {
	recs := st.objects[object]
	r := recs[i]
	st.objects[object] = append(recs[:i:i], recs[i+1:]...)
	return r
}

// fieldNames is RECORDNO followed by every other field seen on object, sorted.
func (st *store) fieldNames(object string) []string {
	seen := map[string]bool{"RECORDNO": true}
	var names []string
	for _, r := range st.objects[object] {
		for k := range r.Fields {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return append([]string{"RECORDNO"}, names...)
}

func (st *store) load(seed *Seed) {
	if seed == nil {
		return
	}
	objects := make([]string, 0, len(seed.Objects))
	for name := range seed.Objects {
		objects = append(objects, name)
	}
	sort.Strings(objects)
	for _, object := range objects {
		if _, ok := st.objects[object]; !ok {
			st.objects[object] = nil
		}
		for _, fields := range seed.Objects[object] {
			clean := make(map[string]any, len(fields))
			for k, v := range fields {
				clean[k] = core.FormatValue(v)
			}
			r := core.NewRecord(object, clean)
			if no := r.Text("RECORDNO"); no != "" {
				if n, err := strconv.Atoi(no); err == nil && n >= st.nextNo {
					st.nextNo = n + 1
				}
				st.objects[object] = append(st.objects[object], r)
				continue
			}
			st.insert(r)
		}
	}
}

// project keeps the requested fields (comma separated, "*" for all), matching
// names case-insensitively and spelling them as requested.
func project(r core.Record, fields string) core.Record {
	fields = strings.TrimSpace(fields)
	if fields == "" || fields == "*" {
		return r
	}
	out := map[string]any{}
	var order []string
	for _, name := range strings.Split(fields, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if v, ok := lookup(r, name); ok {
			out[name] = v
			order = append(order, name)
		}
	}
	return core.NewOrderedRecord(r.Object, out, order)
}
