package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedResponse: the gateway reply is empty, not XML, or lacks the result node.
	ErrMalformedResponse = errors.New("malformed gateway response")
	// ErrProtocolViolation: the reply parses but breaks the response grammar.
	ErrProtocolViolation = errors.New("gateway protocol violation")
	// ErrArgument: caller input rejected before any request was built.
	ErrArgument = errors.New("invalid argument")
	// ErrLimitExceeded: the batch is larger than the gateway accepts in one request.
	ErrLimitExceeded = errors.New("batch limit exceeded")
	// ErrRemoteFailure matches any *RemoteFailure via errors.Is.
	ErrRemoteFailure = errors.New("gateway reported failure")
)

// ResponseError attaches the operation and the redacted request that produced
// a malformed or non-conforming reply.
type ResponseError struct {
	Kind    Kind
	Err     error
	Detail  string
	Request string
}

func (e *ResponseError) Error() string {
	if e == nil {
		return "gateway response error"
	}
	msg := "gateway response error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	parts := []string{fmt.Sprintf("%s: op=%s", msg, e.Kind)}
	if strings.TrimSpace(e.Detail) != "" {
		parts = append(parts, strings.TrimSpace(e.Detail))
	}
	return strings.Join(parts, " ")
}

func (e *ResponseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RemoteFailure is a failure status returned by the gateway. For batch writes
// it carries the records that committed before the failing one.
type RemoteFailure struct {
	Kind    Kind
	Message string

	// FailedIndex is the position in the request of the first failing record.
	FailedIndex int
	// FailedRecord is nil when FailedIndex is outside the request.
	FailedRecord *Record
	Committed    []Record

	// BestEffort is set when the failing record cannot be pinned down with
	// certainty: several object types in one batch, or an index outside it.
	BestEffort bool

	// Request is the serialized request with secrets masked.
	Request string
}

func (e *RemoteFailure) Error() string {
	if e == nil {
		return ErrRemoteFailure.Error()
	}
	parts := []string{fmt.Sprintf("%s: op=%s", ErrRemoteFailure, e.Kind)}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	parts = append(parts, fmt.Sprintf("failed_index=%d committed=%d", e.FailedIndex, len(e.Committed)))
	if e.BestEffort {
		parts = append(parts, "best_effort=true")
	}
	return strings.Join(parts, " ")
}

func (e *RemoteFailure) Is(target error) bool {
	return target == ErrRemoteFailure
}

// TransientError marks an error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
