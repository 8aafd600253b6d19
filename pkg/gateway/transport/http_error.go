package transport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/redact"
)

// HTTPError is a sanitized summary of a non-2xx gateway reply.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	ErrorNo    string

	// Snippet is a redacted, truncated hint when the body carries no error number.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "gateway http error"
	}
	parts := []string{
		fmt.Sprintf("gateway http error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.ErrorNo) != "" {
		parts = append(parts, "errorno="+strings.TrimSpace(e.ErrorNo))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Retryable reports statuses worth another attempt: throttling and server errors.
func (e *HTTPError) Retryable() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500)
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: the gateway often wraps HTTP-level errors in its XML grammar.
	if len(body) > 0 {
		if m, err := mxj.NewMapXml(body); err == nil {
			if vals, err := m.ValuesForKey("errorno"); err == nil && len(vals) > 0 {
				if s, ok := vals[0].(string); ok && strings.TrimSpace(s) != "" {
					h.ErrorNo = strings.TrimSpace(s)
					return h
				}
			}
		}
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redact.Truncate(string(body), 256)
	return h
}
