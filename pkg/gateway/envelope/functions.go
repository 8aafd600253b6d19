package envelope

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/codec"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

// Call is a function body plus what is needed to interpret its reply: the
// operation kind, the object types it names (in order), and the request
// records so a failing index can be mapped back to its record.
type Call struct {
	Kind    core.Kind
	Body    string
	Objects core.ObjectTypes
	Records []core.Record

	// Format is the requested return format of read kinds.
	Format core.Format
}

// Create builds a <create> body. Records may mix object types.
func Create(records []core.Record) (Call, error) {
	return writeCall(core.KindCreate, "create", records)
}

// Update builds an <update> body. Records may mix object types.
func Update(records []core.Record) (Call, error) {
	return writeCall(core.KindUpdate, "update", records)
}

func writeCall(kind core.Kind, tag string, records []core.Record) (Call, error) {
	if len(records) == 0 {
		return Call{}, fmt.Errorf("%w: %s needs at least one record", core.ErrArgument, tag)
	}
	if len(records) > core.MaxBatch {
		return Call{}, fmt.Errorf("%w: %s accepts at most %d records, got %d", core.ErrLimitExceeded, tag, core.MaxBatch, len(records))
	}
	inner, err := codec.Encode(records)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Kind:    kind,
		Body:    "<" + tag + ">" + inner + "</" + tag + ">",
		Objects: core.ObjectTypesOf(records),
		Records: records,
	}, nil
}

// Delete builds a <delete> body for a list of record numbers.
func Delete(object string, keys []string) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	keys = cleanKeys(keys)
	if len(keys) == 0 {
		return Call{}, fmt.Errorf("%w: delete needs at least one key", core.ErrArgument)
	}
	if len(keys) > core.MaxBatch {
		return Call{}, fmt.Errorf("%w: delete accepts at most %d keys, got %d", core.ErrLimitExceeded, core.MaxBatch, len(keys))
	}
	records := make([]core.Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, core.NewRecord(object, map[string]any{"RECORDNO": k}))
	}
	var b body
	b.open("delete").elem("object", object).elem("keys", strings.Join(keys, ",")).close("delete")
	return Call{Kind: core.KindDelete, Body: b.String(), Objects: core.NewObjectTypes(object), Records: records}, nil
}

// Read builds a <read> body. Empty keys read every record (gateway limited);
// empty fields select all fields.
func Read(object string, keys []string, fields string, format core.Format) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	var b body
	b.open("read").elem("object", object).keys(keys).elem("fields", fieldList(fields)).
		elem("returnFormat", format.ReturnFormat()).close("read")
	return readCall(core.KindRead, object, b.String(), format), nil
}

// ReadByQuery builds the first-page body of a query. Field names are sent upper-cased.
func ReadByQuery(object, query, fields string, pageSize int, format core.Format) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	if pageSize <= 0 {
		pageSize = core.DefaultPageSize
	}
	var b body
	b.open("readByQuery").elem("object", object).elem("query", query).
		elem("fields", strings.ToUpper(fieldList(fields))).
		elem("returnFormat", format.ReturnFormat()).
		elem("pagesize", strconv.Itoa(pageSize)).close("readByQuery")
	return readCall(core.KindReadByQuery, object, b.String(), format), nil
}

// ReadMore builds the continuation body for the last query on object. format
// must match the query's.
func ReadMore(object string, format core.Format) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	var b body
	b.open("readMore").elem("object", object).close("readMore")
	return readCall(core.KindReadMore, object, b.String(), format), nil
}

// ReadByName builds a <readByName> body; keys are record names.
func ReadByName(object string, keys []string, fields string, format core.Format) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	keys = cleanKeys(keys)
	if len(keys) == 0 {
		return Call{}, fmt.Errorf("%w: readByName needs at least one name", core.ErrArgument)
	}
	var b body
	b.open("readByName").elem("object", object).elem("keys", strings.Join(keys, ",")).
		elem("fields", fieldList(fields)).elem("returnFormat", format.ReturnFormat()).close("readByName")
	return readCall(core.KindReadByName, object, b.String(), format), nil
}

// ReadRelated builds a <readRelated> body. Without a relation it is a plain read.
func ReadRelated(object string, keys []string, relation, fields string, format core.Format) (Call, error) {
	if strings.TrimSpace(relation) == "" {
		return Read(object, keys, fields, format)
	}
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	var b body
	b.open("readRelated").elem("object", object).keys(keys).elem("relation", relation).
		elem("fields", fieldList(fields)).elem("returnFormat", format.ReturnFormat()).close("readRelated")
	return readCall(core.KindReadRelated, object, b.String(), format), nil
}

// Inspect builds an <inspect> body; detail asks for full field descriptors.
func Inspect(object string, detail bool) (Call, error) {
	if err := requireObject(object); err != nil {
		return Call{}, err
	}
	var b body
	kind := core.KindInspect
	if detail {
		kind = core.KindInspectDetail
		b.WriteString(`<inspect detail="true">`)
	} else {
		b.open("inspect")
	}
	b.elem("object", object).close("inspect")
	return Call{Kind: kind, Body: b.String(), Objects: core.NewObjectTypes(object)}, nil
}

// Invoke wraps caller supplied function XML. The reply is checked for status only.
func Invoke(xmlBody string, objects ...string) (Call, error) {
	if strings.TrimSpace(xmlBody) == "" {
		return Call{}, fmt.Errorf("%w: invoke needs a request body", core.ErrArgument)
	}
	if err := xml.Unmarshal([]byte("<invoke>"+xmlBody+"</invoke>"), new(struct{})); err != nil {
		return Call{}, fmt.Errorf("%w: invoke body is not well-formed xml: %v", core.ErrArgument, err)
	}
	return Call{Kind: core.KindInvoke, Body: xmlBody, Objects: core.NewObjectTypes(objects...)}, nil
}

func readCall(kind core.Kind, object, body string, format core.Format) Call {
	return Call{Kind: kind, Body: body, Objects: core.NewObjectTypes(object), Format: format}
}

func requireObject(object string) error {
	if strings.TrimSpace(object) == "" {
		return fmt.Errorf("%w: object name is required", core.ErrArgument)
	}
	return nil
}

func fieldList(fields string) string {
	if strings.TrimSpace(fields) == "" {
		return "*"
	}
	return strings.TrimSpace(fields)
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// SplitKeys splits a comma separated key list.
func SplitKeys(csv string) []string {
	return cleanKeys(strings.Split(csv, ","))
}

type body struct {
	bytes.Buffer
}

func (b *body) open(tag string) *body {
	b.WriteString("<" + tag + ">")
	return b
}

func (b *body) close(tag string) *body {
	b.WriteString("</" + tag + ">")
	return b
}

func (b *body) elem(tag, text string) *body {
	b.open(tag)
	_ = xml.EscapeText(b, []byte(text))
	return b.close(tag)
}

func (b *body) keys(keys []string) *body {
	keys = cleanKeys(keys)
	if len(keys) == 0 {
		return b.open("keys").close("keys")
	}
	return b.elem("keys", strings.Join(keys, ","))
}
