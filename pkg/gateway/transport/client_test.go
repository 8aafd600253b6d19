package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/transport"
)

func fastConfig() transport.Config {
	return transport.Config{
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestSend_PostsFormEncodedRequest(t *testing.T) {
	t.Parallel()

	doc := `<?xml version="1.0" encoding="UTF-8"?><request><a>x &amp; y</a></request>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get(transport.FormField); got != doc {
			t.Errorf("unexpected xmlrequest:\nwant %s\ngot  %s", doc, got)
		}
		_, _ = w.Write([]byte("<response/>"))
	}))
	t.Cleanup(srv.Close)

	c := transport.NewClientWithHTTP(srv.Client(), fastConfig())
	out, err := c.Send(context.Background(), srv.URL, doc)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != "<response/>" {
		t.Fatalf("unexpected reply %q", out)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	c := transport.NewClientWithHTTP(srv.Client(), fastConfig())
	out, err := c.Send(context.Background(), srv.URL, "<request/>")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", out, calls.Load())
	}
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<response><errormessage><error><errorno>XL03000003</errorno></error></errormessage></response>`))
	}))
	t.Cleanup(srv.Close)

	c := transport.NewClientWithHTTP(srv.Client(), fastConfig())
	_, err := c.Send(context.Background(), srv.URL, "<request/>")
	var he *transport.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadRequest || he.ErrorNo != "XL03000003" {
		t.Fatalf("unexpected error %#v", he)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestSend_SnippetIsRedacted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied for <sessionid>abc-secret</sessionid>"))
	}))
	t.Cleanup(srv.Close)

	c := transport.NewClientWithHTTP(srv.Client(), fastConfig())
	_, err := c.Send(context.Background(), srv.URL, "<request/>")
	if err == nil || strings.Contains(err.Error(), "abc-secret") {
		t.Fatalf("expected redacted error, got %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	u, err := transport.ParseEndpoint("api.example.test/ia/xml/xmlgw.phtml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "https" || u.Host != "api.example.test" {
		t.Fatalf("unexpected url %s", u)
	}
	if _, err := transport.ParseEndpoint(" "); !errors.Is(err, core.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}
