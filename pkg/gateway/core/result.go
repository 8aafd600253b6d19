package core

import "context"

const (
	// DefaultPageSize is the readByQuery page size when the caller gives none.
	DefaultPageSize = 1000
	// DefaultMaxRecords caps paginated reads and upsert lookups.
	DefaultMaxRecords = 100000
	// MaxBatch is the largest record or key batch accepted in one request.
	MaxBatch = 100
)

// Result is a successful reconciliation.
type Result struct {
	Kind Kind

	// Correct lists records returned in the data section, in object-type order.
	Correct []Record

	Read     *ReadResult
	Metadata *ObjectMetadata

	// Raw is the reply text, kept for raw invocations.
	Raw string
}

// ReadResult is the data section of a read-kind reply.
type ReadResult struct {
	Records      []Record
	Count        int
	TotalCount   int
	NumRemaining int
	ResultID     string

	// HasMore is set when the gateway reports remaining rows.
	HasMore bool
	// RemainingKnown is set when the reply carried a numremaining attribute.
	RemainingKnown bool

	// Raw holds the data section text for tabular replies.
	Raw string
}

// ObjectMetadata describes an object type as reported by inspect.
type ObjectMetadata struct {
	Name   string
	Fields []FieldDescriptor
}

// FieldDescriptor is one field of an inspected object. Attributes holds the
// descriptor properties (datatype, isRequired, ...) as text.
type FieldDescriptor struct {
	Name       string
	Attributes map[string]string
}

// UpsertResult partitions upserted records by the action taken.
type UpsertResult struct {
	Created []Record
	Updated []Record
}

// Payload is a read result in the session's format. Exactly one of Records,
// Markup, or Table is meaningful, selected by Format.
type Payload struct {
	Format  Format
	Records []Record
	Markup  string
	Table   string
}

// Transport sends a serialized request to the gateway endpoint and returns the
// raw reply body.
type Transport interface {
	Send(ctx context.Context, endpoint, body string) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint, body string) (string, error)

func (f TransportFunc) Send(ctx context.Context, endpoint, body string) (string, error) {
	return f(ctx, endpoint, body)
}

// Tracer observes every request and reply. seq is unique and increasing per session.
type Tracer interface {
	TraceRequest(seq int64, body string)
	TraceResponse(seq int64, body string)
}
