package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/internal/config"
	"github.com/shpitdev/intacct-gateway-go/internal/logging"
	"github.com/shpitdev/intacct-gateway-go/internal/version"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/session"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/transport"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags. Empty values defer to config.
type globalOptions struct {
	configPath    string
	format        string
	transactional bool
	logLevel      string
	logFormat     string
	trace         bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Create, read, update, and delete records through the XML gateway",
		Long: `gatewayctl drives the XML gateway from the command line.

Settings come from the environment first, then from the config file
(config/config.properties by default; .properties, .env, or .yaml).

Required settings:
  Company, WSUserID, WSPasswd   login credentials (or SESSION_ID)
  DBID, DBPasswd                sender credentials
  END_POINT_URL                 gateway URL

Records are JSON: [{"customer": {"NAME": "Acme"}}, ...]`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.properties, .env, .yaml); default config/config.properties if present")
	pf.StringVar(&opts.format, "format", "", "Read payload format: records, markup, or table (env: RETURN_FORMAT)")
	pf.BoolVar(&opts.transactional, "transactional", false, "Run each request as one transaction (env: TRANSACTIONAL)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error (env: LOG_LEVEL)")
	pf.StringVar(&opts.logFormat, "log-format", "", "text or json (env: LOG_FORMAT)")
	pf.BoolVar(&opts.trace, "trace", false, "Log every request and reply (redacted) at debug level")

	root.AddCommand(
		newCreateCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newUpsertCmd(opts),
		newReadCmd(opts),
		newQueryCmd(opts),
		newInspectCmd(opts),
		newInvokeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "gatewayctl %s (%s)\n", version.Current, runtime.Version())
			return err
		},
	}
}

// resolve loads config and applies flag overrides.
func (o *globalOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	src, err := config.NewSource(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(src)
	if err != nil {
		return config.Config{}, err
	}
	if o.format != "" {
		f, err := core.ParseFormat(o.format)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Format = f
	}
	if cmd.Flags().Changed("transactional") {
		cfg.Transactional = o.transactional
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.trace {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// connect resolves config and opens a session.
func (o *globalOptions) connect(cmd *cobra.Command) (*session.Session, *slog.Logger, error) {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	client, err := transport.NewClient(transport.Config{
		DefaultCAPath: cfg.DefaultCAPath,
		Timeout:       cfg.RequestTimeout,
		MaxRetries:    cfg.MaxRetries,
		RateLimitRPS:  cfg.RateLimitRPS,
		UserAgent:     "gatewayctl/" + version.Current,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := session.Options{
		Endpoint:      cfg.Endpoint,
		Format:        cfg.Format,
		Transactional: cfg.Transactional,
		PageSize:      cfg.PageSize,
		EmptyRetries:  cfg.EmptyRetries,
		Logger:        logger,
	}
	if o.trace {
		opts.Tracer = &logging.Tracer{Log: logger}
	}

	ctx := logging.WithLogger(cmd.Context(), logger)
	var s *session.Session
	if cfg.SessionID != "" {
		s, err = session.ConnectSessionID(ctx, client, cfg.SessionID, cfg.SenderID, cfg.SenderPassword, opts)
	} else {
		s, err = session.Connect(ctx, client, session.Credentials{
			CompanyID:      cfg.CompanyID,
			UserID:         cfg.UserID,
			Password:       cfg.Password,
			SenderID:       cfg.SenderID,
			SenderPassword: cfg.SenderPassword,
			EntityType:     cfg.EntityType,
			EntityID:       cfg.EntityID,
		}, opts)
	}
	if err != nil {
		return nil, nil, err
	}
	cmd.SetContext(ctx)
	return s, logger, nil
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: --file is required", core.ErrArgument)
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func readRecords(cmd *cobra.Command, path string) ([]core.Record, error) {
	b, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	return core.ParseRecords(b)
}

// exitCode maps errors to process exit codes: 2 for usage and config
// problems, 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, core.ErrArgument) || errors.Is(err, core.ErrLimitExceeded) {
		return 2
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
