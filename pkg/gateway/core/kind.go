package core

import (
	"fmt"
	"strings"
)

// Kind identifies the gateway operation a request performs. It decides how the
// response is interpreted: as a record list or as field metadata.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
	KindRead
	KindReadByQuery
	KindReadByName
	KindReadRelated
	KindReadMore
	KindInspect
	KindInspectDetail
	KindInvoke
)

var kindNames = map[Kind]string{
	KindCreate:        "create",
	KindUpdate:        "update",
	KindDelete:        "delete",
	KindRead:          "read",
	KindReadByQuery:   "readByQuery",
	KindReadByName:    "readByName",
	KindReadRelated:   "readRelated",
	KindReadMore:      "readMore",
	KindInspect:       "inspect",
	KindInspectDetail: "inspectDetail",
	KindInvoke:        "invoke",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsRead reports whether the response carries a read payload.
func (k Kind) IsRead() bool {
	switch k {
	case KindRead, KindReadByQuery, KindReadByName, KindReadRelated, KindReadMore:
		return true
	}
	return false
}

// IsInspect reports whether the response carries field metadata.
func (k Kind) IsInspect() bool {
	return k == KindInspect || k == KindInspectDetail
}

// Format selects the shape of read payloads. It is fixed per session.
type Format int

const (
	// FormatRecords returns decoded records.
	FormatRecords Format = iota
	// FormatMarkup returns the records re-encoded as an XML fragment.
	FormatMarkup
	// FormatTable returns flat CSV rows.
	FormatTable
)

func (f Format) String() string {
	switch f {
	case FormatRecords:
		return "records"
	case FormatMarkup:
		return "markup"
	case FormatTable:
		return "table"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ReturnFormat is the value sent in <returnFormat>.
func (f Format) ReturnFormat() string {
	if f == FormatTable {
		return "csv"
	}
	return "xml"
}

// ParseFormat accepts records|json, markup|xml, table|csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "records", "json":
		return FormatRecords, nil
	case "markup", "xml":
		return FormatMarkup, nil
	case "table", "csv":
		return FormatTable, nil
	}
	return FormatRecords, fmt.Errorf("%w: unknown return format %q", ErrArgument, s)
}
