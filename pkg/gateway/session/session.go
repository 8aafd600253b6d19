// Package session is the caller-facing adapter: it authenticates once, then
// runs each operation as build, send, reconcile.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/envelope"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/reconcile"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/retry"
)

// Credentials authenticate a new session.
type Credentials struct {
	CompanyID string
	UserID    string
	Password  string

	SenderID       string
	SenderPassword string

	// EntityType is "location" or "client"; EntityID scopes the session.
	EntityType string
	EntityID   string
}

// Options configure a session. Format is fixed for the session's lifetime.
type Options struct {
	Endpoint      string
	Format        core.Format
	Transactional bool
	DTDVersion    string

	// PageSize is the readByQuery page size (default core.DefaultPageSize).
	PageSize int

	// EmptyRetries bounds resends of a request whose reply body was empty.
	EmptyRetries int
	// EmptyBackoff is the first sleep between such resends.
	EmptyBackoff time.Duration

	Tracer core.Tracer
	Logger *slog.Logger
}

// Session is safe for concurrent use. Paginated reads are serialized because
// the gateway keeps one continuation cursor per object and session.
type Session struct {
	transport core.Transport
	builder   envelope.Builder
	endpoint  string
	opts      Options
	log       *slog.Logger
	id        string

	seq    atomic.Int64
	pageMu sync.Mutex

	mu           sync.Mutex
	lastRequest  string
	lastResponse string
}

var errEmptyReply = errors.New("empty gateway reply")

func newSession(t core.Transport, senderID, senderPassword string, opts Options) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", core.ErrArgument)
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("%w: gateway endpoint is required", core.ErrArgument)
	}
	if opts.EmptyRetries < 0 {
		opts.EmptyRetries = 0
	}
	if opts.EmptyBackoff <= 0 {
		opts.EmptyBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		transport: t,
		builder: envelope.Builder{
			SenderID:       senderID,
			SenderPassword: senderPassword,
			DTDVersion:     opts.DTDVersion,
		},
		endpoint: strings.TrimSpace(opts.Endpoint),
		opts:     opts,
		log:      logger.With("session", id),
		id:       id,
	}, nil
}

// Connect logs in with credentials and adopts the session id and endpoint the
// gateway assigns.
func Connect(ctx context.Context, t core.Transport, creds Credentials, opts Options) (*Session, error) {
	s, err := newSession(t, creds.SenderID, creds.SenderPassword, opts)
	if err != nil {
		return nil, err
	}
	doc, err := s.builder.LoginRequest(envelope.Login{
		UserID:     creds.UserID,
		CompanyID:  creds.CompanyID,
		Password:   creds.Password,
		EntityType: creds.EntityType,
		EntityID:   creds.EntityID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.bootstrap(ctx, doc); err != nil {
		return nil, err
	}
	return s, nil
}

// ConnectSessionID attaches to an existing session id.
func ConnectSessionID(ctx context.Context, t core.Transport, sessionID, senderID, senderPassword string, opts Options) (*Session, error) {
	s, err := newSession(t, senderID, senderPassword, opts)
	if err != nil {
		return nil, err
	}
	doc, err := s.builder.SessionRequest(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.bootstrap(ctx, doc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) bootstrap(ctx context.Context, doc string) error {
	raw, err := s.roundTrip(ctx, doc, false)
	if err != nil {
		return fmt.Errorf("session bootstrap: %w", err)
	}
	sid, endpoint, err := reconcile.ValidateSession(raw)
	if err != nil {
		return fmt.Errorf("session bootstrap: %w", err)
	}
	s.builder.SessionID = sid
	if endpoint != "" {
		s.endpoint = endpoint
	}
	s.log.Info("gateway session established", "endpoint", s.endpoint)
	return nil
}

// SessionID is the gateway session token.
func (s *Session) SessionID() string { return s.builder.SessionID }

// Endpoint is the URL requests are posted to.
func (s *Session) Endpoint() string { return s.endpoint }

// Format is the read payload format chosen at construction.
func (s *Session) Format() core.Format { return s.opts.Format }

// LastRequest is the most recent request document (unredacted).
func (s *Session) LastRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequest
}

// LastResponse is the most recent reply body.
func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// do runs one call: build the envelope, send it, reconcile the reply.
func (s *Session) do(ctx context.Context, call envelope.Call, multiFunction bool) (*core.Result, error) {
	doc, err := s.builder.Build(call.Body, s.opts.Transactional, multiFunction)
	if err != nil {
		return nil, err
	}
	allowEmpty := call.Kind.IsRead() && call.Format == core.FormatTable
	start := time.Now()
	raw, err := s.roundTrip(ctx, doc, allowEmpty)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Kind, err)
	}
	res, err := reconcile.Reconcile(raw, call, doc)
	attrs := []any{"op", call.Kind.String(), "objects", call.Objects.Names(), "duration_ms", time.Since(start).Milliseconds()}
	if err != nil {
		s.log.Warn("gateway call failed", append(attrs, "err", err)...)
		return nil, err
	}
	s.log.Debug("gateway call", append(attrs, "records", len(res.Correct))...)
	return res, nil
}

// roundTrip sends doc, resending a bounded number of times when the reply is
// empty. An empty final reply is returned as is; the reconciler rejects it.
func (s *Session) roundTrip(ctx context.Context, doc string, allowEmpty bool) (string, error) {
	seq := s.seq.Add(1)
	s.mu.Lock()
	s.lastRequest = doc
	s.mu.Unlock()
	if s.opts.Tracer != nil {
		s.opts.Tracer.TraceRequest(seq, doc)
	}

	raw, attempts, err := retry.Do(ctx, retry.Options{
		MaxRetries:        s.opts.EmptyRetries,
		BackoffInitial:    s.opts.EmptyBackoff,
		BackoffMax:        8 * s.opts.EmptyBackoff,
		BackoffJitterFrac: 0.2,
		Retryable:         func(err error) bool { return errors.Is(err, errEmptyReply) },
	}, func(ctx context.Context) (string, error) {
		raw, err := s.transport.Send(ctx, s.endpoint, doc)
		if err != nil {
			return "", err
		}
		if !allowEmpty && strings.TrimSpace(raw) == "" {
			return raw, errEmptyReply
		}
		return raw, nil
	})
	if attempts > 1 {
		s.log.Warn("resent request after empty reply", "seq", seq, "attempts", attempts)
	}
	if err != nil && !errors.Is(err, errEmptyReply) {
		return "", err
	}

	s.mu.Lock()
	s.lastResponse = raw
	s.mu.Unlock()
	if s.opts.Tracer != nil {
		s.opts.Tracer.TraceResponse(seq, raw)
	}
	return raw, nil
}
