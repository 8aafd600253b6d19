// Package config resolves gateway settings: the process environment first,
// then an optional file store (.properties/.env or YAML).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"gopkg.in/yaml.v3"
)

// Setting names, shared by the environment and the file store.
const (
	KeyCompany        = "Company"
	KeyUserID         = "WSUserID"
	KeyPassword       = "WSPasswd"
	KeySenderID       = "DBID"
	KeySenderPassword = "DBPasswd"
	KeyEndpoint       = "END_POINT_URL"

	KeyEntityType     = "ENTITY_TYPE"
	KeyEntityID       = "ENTITY_ID"
	KeySessionID      = "SESSION_ID"
	KeyTransactional  = "TRANSACTIONAL"
	KeyReturnFormat   = "RETURN_FORMAT"
	KeyPageSize       = "PAGE_SIZE"
	KeyEmptyRetries   = "EMPTY_RETRIES"
	KeyRateLimitRPS   = "RATE_LIMIT_RPS"
	KeyMaxRetries     = "MAX_RETRIES"
	KeyRequestTimeout = "REQUEST_TIMEOUT"
	KeyDefaultCAPath  = "DEFAULT_CA_PATH"
	KeyLogLevel       = "LOG_LEVEL"
	KeyLogFormat      = "LOG_FORMAT"
)

// DefaultFile is read when no file is named explicitly and it exists.
const DefaultFile = "config/config.properties"

// Source looks a setting up. Blank values count as absent.
type Source interface {
	Get(key string) (string, bool)
}

// Env reads the process environment.
type Env struct{}

func (Env) Get(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Map is an in-memory source; file stores load into one.
type Map map[string]string

func (m Map) Get(key string) (string, bool) {
	v, ok := m[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Chain consults sources in order; the first hit wins.
type Chain []Source

func (c Chain) Get(key string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Get(key); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFile reads a file store. .yaml/.yml files hold a flat mapping; anything
// else is parsed as key=value (or key: value) lines.
func LoadFile(path string) (Map, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		out := make(Map, len(raw))
		for k, v := range raw {
			if _, nested := v.(map[string]any); nested {
				return nil, fmt.Errorf("config file %s: key %q must be a scalar", path, k)
			}
			out[k] = core.FormatValue(v)
		}
		return out, nil
	default:
		m, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		return Map(m), nil
	}
}

// NewSource chains the environment with a file store. An empty path falls
// back to DefaultFile when it exists.
func NewSource(path string) (Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Env{}, nil
		}
		path = DefaultFile
	}
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Chain{Env{}, file}, nil
}

// Config is the resolved gateway configuration.
type Config struct {
	CompanyID      string
	UserID         string
	Password       string
	SenderID       string
	SenderPassword string
	Endpoint       string

	EntityType string
	EntityID   string
	// SessionID, when set, replaces the credential login.
	SessionID string

	Transactional bool
	Format        core.Format
	PageSize      int
	EmptyRetries  int

	RateLimitRPS   float64
	MaxRetries     int
	RequestTimeout time.Duration
	DefaultCAPath  string

	LogLevel  string
	LogFormat string
}

// Load resolves every setting. Sender credentials and the endpoint are always
// required; company, user, and password only without a session id.
func Load(src Source) (Config, error) {
	r := reader{src: src}
	cfg := Config{
		CompanyID:      r.str(KeyCompany),
		UserID:         r.str(KeyUserID),
		Password:       r.str(KeyPassword),
		SenderID:       r.str(KeySenderID),
		SenderPassword: r.str(KeySenderPassword),
		Endpoint:       r.str(KeyEndpoint),
		EntityType:     r.str(KeyEntityType),
		EntityID:       r.str(KeyEntityID),
		SessionID:      r.str(KeySessionID),
		Transactional:  r.boolean(KeyTransactional),
		PageSize:       r.integer(KeyPageSize, core.DefaultPageSize),
		EmptyRetries:   r.integer(KeyEmptyRetries, 2),
		RateLimitRPS:   r.float(KeyRateLimitRPS, 0),
		MaxRetries:     r.integer(KeyMaxRetries, 3),
		RequestTimeout: r.duration(KeyRequestTimeout, 60*time.Second),
		DefaultCAPath:  r.str(KeyDefaultCAPath),
		LogLevel:       r.strOr(KeyLogLevel, "info"),
		LogFormat:      r.strOr(KeyLogFormat, "text"),
	}
	if v, ok := src.Get(KeyReturnFormat); ok {
		f, err := core.ParseFormat(v)
		if err != nil {
			r.fail(fmt.Errorf("invalid %s=%q: %w", KeyReturnFormat, v, err))
		}
		cfg.Format = f
	}
	if r.err != nil {
		return Config{}, r.err
	}

	required := []string{KeySenderID, KeySenderPassword, KeyEndpoint}
	if cfg.SessionID == "" {
		required = append(required, KeyCompany, KeyUserID, KeyPassword)
	}
	var missing []string
	for _, k := range required {
		if _, ok := src.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// reader keeps the first parse error so Load reads like a flat list.
type reader struct {
	src Source
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) str(key string) string {
	v, _ := r.src.Get(key)
	return v
}

func (r *reader) strOr(key, fallback string) string {
	if v, ok := r.src.Get(key); ok {
		return v
	}
	return fallback
}

func (r *reader) integer(key string, fallback int) int {
	v, ok := r.src.Get(key)
	if !ok {
		return fallback
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid %s=%q: %w", key, v, err))
	}
	return out
}

func (r *reader) float(key string, fallback float64) float64 {
	v, ok := r.src.Get(key)
	if !ok {
		return fallback
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(fmt.Errorf("invalid %s=%q: %w", key, v, err))
	}
	return out
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := r.src.Get(key)
	if !ok {
		return fallback
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid %s=%q: %w", key, v, err))
	}
	return out
}

func (r *reader) boolean(key string) bool {
	v, ok := r.src.Get(key)
	if !ok {
		return false
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid %s=%q: %w", key, v, err))
	}
	return out
}
