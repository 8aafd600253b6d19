// Package transport posts request documents to the gateway over HTTPS.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/retry"
)

// FormField is the form field carrying the request document.
const FormField = "xmlrequest"

// Config tunes the HTTP client.
type Config struct {
	// DefaultCAPath is optional and, when provided, is used as the TLS trust store.
	DefaultCAPath string
	// Timeout bounds one HTTP attempt.
	Timeout time.Duration

	// MaxRetries applies to 429, 5xx, and network timeouts only.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// RateLimitRPS is a limit across all requests of this client. Set to <=0 to disable.
	RateLimitRPS float64
	RateBurst    int

	UserAgent string
}

// Client implements core.Transport.
type Client struct {
	http      *http.Client
	retry     retry.Options
	userAgent string
}

var _ core.Transport = (*Client)(nil)

// NewClient constructs a client with its own HTTP transport.
func NewClient(cfg Config) (*Client, error) {
	hc, err := newHTTPClient(cfg.DefaultCAPath)
	if err != nil {
		return nil, err
	}
	return NewClientWithHTTP(hc, cfg), nil
}

// NewClientWithHTTP wraps an existing *http.Client (httptest servers, proxies).
func NewClientWithHTTP(hc *http.Client, cfg Config) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "intacct-gateway-go"
	}
	return &Client{
		http: hc,
		retry: retry.Options{
			MaxRetries:        cfg.MaxRetries,
			RequestTimeout:    cfg.Timeout,
			Limiter:           retry.NewLimiter(cfg.RateLimitRPS, cfg.RateBurst),
			BackoffInitial:    cfg.BackoffInitial,
			BackoffMax:        cfg.BackoffMax,
			BackoffJitterFrac: 0.2,
			Retryable:         retryable,
		},
		userAgent: ua,
	}
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// ParseEndpoint validates a gateway URL. A missing scheme means https.
func ParseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: gateway endpoint is required", core.ErrArgument)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse gateway endpoint: %v", core.ErrArgument, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: gateway endpoint must include a host (got %q)", core.ErrArgument, raw)
	}
	u.Fragment = ""
	return u, nil
}

// Send posts body as the xmlrequest form field and returns the reply text.
func (c *Client) Send(ctx context.Context, endpoint, body string) (string, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	form := url.Values{FormField: {body}}.Encode()

	out, _, err := retry.Do(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.post(ctx, u.String(), form)
	})
	return out, err
}

func (c *Client) post(ctx context.Context, endpoint, form string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/xml, text/csv, */*")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &core.TransientError{Err: fmt.Errorf("read gateway reply: %w", err)}
	}
	if resp.StatusCode/100 != 2 {
		return "", newHTTPError("send", resp, b)
	}
	return string(b), nil
}

func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	return retry.IsTransient(err)
}
