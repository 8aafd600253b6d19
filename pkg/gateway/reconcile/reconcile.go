// Package reconcile interprets gateway replies: it separates success from
// failure, decodes returned records, and for a failed batch works out which
// records committed and which record failed.
package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/codec"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/envelope"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/redact"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"

	// Keep diagnostics bounded; requests can carry 100 records.
	maxRequestSnippet = 4096
)

// Reconcile turns the raw reply to call into a Result, or an error:
// *core.RemoteFailure when the gateway reported failure, otherwise an error
// matching core.ErrMalformedResponse or core.ErrProtocolViolation.
// request is the serialized request; it is kept (redacted) for diagnostics.
func Reconcile(raw string, call envelope.Call, request string) (*core.Result, error) {
	if call.Kind.IsRead() && call.Format == core.FormatTable && !looksLikeXML(raw) {
		return tabularResult(raw, call, request)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, responseError(call.Kind, err, "", request)
	}
	if err := checkEnvelope(resp, call.Kind, request); err != nil {
		return nil, err
	}
	if call.Kind == core.KindInvoke {
		return reconcileAll(resp, call, request)
	}

	op, _ := asMap(resp["operation"])
	result, ok := asMap(op["result"])
	if !ok {
		return nil, responseError(call.Kind, core.ErrMalformedResponse, "missing operation/result", request)
	}
	return reconcileResult(result, call, request)
}

func reconcileResult(result map[string]any, call envelope.Call, request string) (*core.Result, error) {
	count := -1
	var correct []core.Record
	var meta *core.ObjectMetadata
	data, hasData := asMap(result["data"])
	if hasData {
		n, known, err := intAttr(data, "count")
		if err != nil {
			return nil, responseError(call.Kind, core.ErrProtocolViolation, err.Error(), request)
		}
		if known {
			count = n
		}
		if !known || n > 0 {
			if call.Kind.IsInspect() {
				meta, err = parseMetadata(data, call.Objects.Default())
			} else {
				correct, err = codec.DecodeSection(data, call.Objects)
			}
			if err != nil {
				return nil, responseError(call.Kind, err, "", request)
			}
		}
	}
	if count < 0 {
		count = len(correct)
	}

	switch status := strings.ToLower(text(result["status"])); status {
	case statusSuccess:
		out := &core.Result{Kind: call.Kind, Correct: correct, Metadata: meta}
		if call.Kind.IsRead() {
			rr := &core.ReadResult{Records: correct, Count: count}
			if hasData {
				if err := readAttrs(data, rr); err != nil {
					return nil, responseError(call.Kind, core.ErrProtocolViolation, err.Error(), request)
				}
			}
			out.Read = rr
		}
		if call.Kind.IsInspect() && meta == nil {
			meta = &core.ObjectMetadata{Name: call.Objects.Default()}
			out.Metadata = meta
		}
		return out, nil
	case statusFailure:
		msg, err := errorMessage(result["errormessage"])
		if err != nil {
			return nil, responseError(call.Kind, err, "", request)
		}
		return nil, failure(call, msg, count, correct, request)
	default:
		return nil, responseError(call.Kind, core.ErrProtocolViolation, fmt.Sprintf("unknown result status %q", status), request)
	}
}

// failure builds the partial-failure report. The gateway processes a batch in
// order and stops at the first bad record, so the data count is the index of
// the failing record.
func failure(call envelope.Call, msg string, index int, committed []core.Record, request string) *core.RemoteFailure {
	rf := &core.RemoteFailure{
		Kind:        call.Kind,
		Message:     msg,
		FailedIndex: index,
		Committed:   committed,
		Request:     redact.Truncate(request, maxRequestSnippet),
	}
	if index >= 0 && index < len(call.Records) {
		r := call.Records[index]
		rf.FailedRecord = &r
	} else {
		rf.BestEffort = true
	}
	if call.Objects.Len() > 1 {
		rf.BestEffort = true
	}
	return rf
}

func reconcileAll(resp map[string]any, call envelope.Call, request string) (*core.Result, error) {
	op, _ := asMap(resp["operation"])
	results := codec.AsList(op["result"])
	if len(results) == 0 {
		return nil, responseError(call.Kind, core.ErrMalformedResponse, "missing operation/result", request)
	}
	out := &core.Result{Kind: call.Kind}
	for i, node := range results {
		result, ok := asMap(node)
		if !ok {
			return nil, responseError(call.Kind, core.ErrMalformedResponse, fmt.Sprintf("result %d is not an element", i), request)
		}
		status := strings.ToLower(text(result["status"]))
		switch status {
		case statusSuccess:
			if data, ok := asMap(result["data"]); ok && call.Objects.Len() > 0 {
				recs, err := codec.DecodeSection(data, call.Objects)
				if err != nil {
					return nil, responseError(call.Kind, err, "", request)
				}
				out.Correct = append(out.Correct, recs...)
			}
		case statusFailure:
			msg, err := errorMessage(result["errormessage"])
			if err != nil {
				return nil, responseError(call.Kind, err, "", request)
			}
			rf := failure(call, msg, i, out.Correct, request)
			rf.BestEffort = true
			return nil, rf
		default:
			return nil, responseError(call.Kind, core.ErrProtocolViolation, fmt.Sprintf("unknown result status %q", status), request)
		}
	}
	return out, nil
}

func tabularResult(raw string, call envelope.Call, request string) (*core.Result, error) {
	t, err := tabular.Parse(raw)
	if err != nil {
		return nil, responseError(call.Kind, err, "", request)
	}
	return &core.Result{
		Kind: call.Kind,
		Read: &core.ReadResult{Count: t.Len(), Raw: raw},
	}, nil
}

// ValidateSession checks a bootstrap reply and returns the session id and the
// endpoint the gateway assigned to it.
func ValidateSession(raw string) (sessionID, endpoint string, err error) {
	resp, err := parseResponse(raw)
	if err != nil {
		return "", "", responseError(core.KindInvoke, err, "bootstrap", "")
	}
	if err := checkEnvelope(resp, core.KindInvoke, ""); err != nil {
		return "", "", err
	}
	op, _ := asMap(resp["operation"])
	result, ok := asMap(op["result"])
	if !ok {
		return "", "", responseError(core.KindInvoke, core.ErrMalformedResponse, "bootstrap: missing operation/result", "")
	}
	if status := strings.ToLower(text(result["status"])); status != statusSuccess {
		msg := envelopeMessage(result["errormessage"])
		return "", "", &core.RemoteFailure{Kind: core.KindInvoke, Message: msg, BestEffort: true}
	}
	data, _ := asMap(result["data"])
	api, _ := asMap(data["api"])
	sessionID = strings.TrimSpace(text(api["sessionid"]))
	endpoint = strings.TrimSpace(text(api["endpoint"]))
	if sessionID == "" {
		return "", "", responseError(core.KindInvoke, core.ErrProtocolViolation, "bootstrap: reply has no session id", "")
	}
	return sessionID, endpoint, nil
}

func parseResponse(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty reply", core.ErrMalformedResponse)
	}
	m, err := mxj.NewMapXml([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	resp, ok := asMap(m["response"])
	if !ok {
		return nil, fmt.Errorf("%w: missing response root", core.ErrMalformedResponse)
	}
	return resp, nil
}

// checkEnvelope reports control-level and authentication failures, which
// abort the request before any function runs.
func checkEnvelope(resp map[string]any, kind core.Kind, request string) error {
	if ctl, ok := asMap(resp["control"]); ok && strings.EqualFold(text(ctl["status"]), statusFailure) {
		msg := envelopeMessage(resp["errormessage"])
		return &core.RemoteFailure{Kind: kind, Message: "control: " + msg, BestEffort: true, Request: redact.Truncate(request, maxRequestSnippet)}
	}
	op, ok := asMap(resp["operation"])
	if !ok {
		return responseError(kind, core.ErrMalformedResponse, "missing operation", request)
	}
	if auth, ok := asMap(op["authentication"]); ok && strings.EqualFold(text(auth["status"]), statusFailure) {
		msg := envelopeMessage(op["errormessage"])
		return &core.RemoteFailure{Kind: kind, Message: "authentication: " + msg, BestEffort: true, Request: redact.Truncate(request, maxRequestSnippet)}
	}
	return nil
}

// errorMessage reads errormessage/error of a failed result. The error node is
// an element or a list of elements (first one wins); a missing, empty, or
// otherwise shaped node breaks the grammar.
func errorMessage(node any) (string, error) {
	if node == nil {
		return "", fmt.Errorf("%w: failure without errormessage", core.ErrProtocolViolation)
	}
	em, ok := asMap(node)
	if !ok {
		return "", fmt.Errorf("%w: errormessage is not an element", core.ErrProtocolViolation)
	}
	var first map[string]any
	switch e := em["error"].(type) {
	case nil:
		return "", fmt.Errorf("%w: errormessage has no error entry", core.ErrProtocolViolation)
	case []any:
		if len(e) == 0 {
			return "", fmt.Errorf("%w: errormessage has no error entry", core.ErrProtocolViolation)
		}
		m, ok := asMap(e[0])
		if !ok {
			return "", fmt.Errorf("%w: error entry is %T", core.ErrProtocolViolation, e[0])
		}
		first = m
	default:
		m, ok := asMap(e)
		if !ok {
			return "", fmt.Errorf("%w: error node is %T", core.ErrProtocolViolation, e)
		}
		first = m
	}
	var parts []string
	for _, key := range []string{"errorno", "description", "correction", "description2"} {
		if s := strings.TrimSpace(text(first[key])); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: error entry is empty", core.ErrProtocolViolation)
	}
	return strings.Join(parts, " "), nil
}

// envelopeMessage is errorMessage for control and authentication failures,
// which are reported as failures even without detail.
func envelopeMessage(node any) string {
	msg, err := errorMessage(node)
	if err != nil {
		return "no error detail returned"
	}
	return msg
}

func readAttrs(data map[string]any, rr *core.ReadResult) error {
	if n, ok, err := intAttr(data, "totalcount"); err != nil {
		return err
	} else if ok {
		rr.TotalCount = n
	}
	n, ok, err := intAttr(data, "numremaining")
	if err != nil {
		return err
	}
	if ok {
		rr.NumRemaining = n
		rr.RemainingKnown = true
		rr.HasMore = n > 0
	}
	rr.ResultID = text(data["-resultId"])
	return nil
}

func intAttr(m map[string]any, name string) (int, bool, error) {
	v, ok := m["-"+name]
	if !ok {
		return 0, false, nil
	}
	s := strings.TrimSpace(text(v))
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("attribute %s=%q is not a count", name, s)
	}
	return n, true, nil
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case mxj.Map:
		return map[string]any(t), true
	case string:
		// An empty element (<data/>) parses as "".
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, true
		}
	}
	return nil, false
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["#text"].(string)
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func looksLikeXML(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "<")
}

func responseError(kind core.Kind, err error, detail, request string) error {
	return &core.ResponseError{Kind: kind, Err: err, Detail: detail, Request: redact.Truncate(request, maxRequestSnippet)}
}
