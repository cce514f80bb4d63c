package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/content"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakePipe/internal/util"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakePipe state data
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultAppDBFileName is the default SQLite database filename for intake sessions
	DefaultAppDBFileName = "intakepipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultSessionTTL is how long an idle session is kept before the purge job removes it
	DefaultSessionTTL = 7 * 24 * time.Hour
	// shutdownTimeout bounds graceful shutdown of the API server and scheduler
	shutdownTimeout = 15 * time.Second
)

// Transport names accepted by -transport and $INTAKEPIPE_TRANSPORT.
const (
	TransportNone     = "none"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe", "state_dir", *flags.stateDir, "transport", *flags.transport, "api_addr", *flags.apiAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	APIAddr          string
	ContentFile      string
	Transport        string
	OpenAIKey        string
	SessionTTL       time.Duration
	PurgeCron        string
	LogLevel         string
	CORSOrigins      []string
	Restart          string
	NumericCode      bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	whatsappDBDSN *string
	appDBDSN      *string
	openaiKey     *string
	apiAddr       *string
	contentFile   *string
	transport     *string
	sessionTTL    *time.Duration
	purgeCron     *string
	restart       *string
	corsOrigins   []string
	logLevel      string
}

// initializeLogger sets up structured logging; unknown levels fall back to debug.
func initializeLogger(level string) {
	var lvl slog.Level
	if level == "" || lvl.UnmarshalText([]byte(level)) != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("INTAKEPIPE_STATE_DIR"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		APIAddr:          os.Getenv("API_ADDR"),
		ContentFile:      os.Getenv("INTAKEPIPE_CONTENT_FILE"),
		Transport:        strings.ToLower(strings.TrimSpace(os.Getenv("INTAKEPIPE_TRANSPORT"))),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		SessionTTL:       util.ParseDurationEnv("INTAKEPIPE_SESSION_TTL", DefaultSessionTTL),
		PurgeCron:        os.Getenv("INTAKEPIPE_PURGE_CRON"),
		LogLevel:         os.Getenv("INTAKEPIPE_LOG_LEVEL"),
		CORSOrigins:      util.ParseListEnv("INTAKEPIPE_CORS_ORIGINS"),
		NumericCode:      util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		Restart:          messaging.DefaultRestartKeyword,
	}
	if v, ok := os.LookupEnv("INTAKEPIPE_RESTART_KEYWORD"); ok {
		config.Restart = v
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_URL is accepted when DATABASE_DSN is not set
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No application database DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.Transport == "" {
		config.Transport = TransportNone
	}
	if config.PurgeCron == "" {
		config.PurgeCron = scheduler.DefaultPurgeSchedule
	}

	slog.Debug("environment variables loaded",
		"INTAKEPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", os.Getenv("WHATSAPP_DB_DSN") != "",
		"DATABASE_DSN_SET", os.Getenv("DATABASE_DSN") != "" || os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"INTAKEPIPE_TRANSPORT", config.Transport,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"INTAKEPIPE_SESSION_TTL", config.SessionTTL,
		"INTAKEPIPE_PURGE_CRON", config.PurgeCron)

	return config
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write login QR code"),
		numeric:       fs.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for IntakePipe data (overrides $INTAKEPIPE_STATE_DIR)"),
		whatsappDBDSN: fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp device store (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:      fs.String("db-dsn", config.ApplicationDBDSN, "database DSN for intake sessions (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key for clinician summaries (overrides $OPENAI_API_KEY)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		contentFile:   fs.String("content-file", config.ContentFile, "YAML or JSON content file (overrides $INTAKEPIPE_CONTENT_FILE)"),
		transport:     fs.String("transport", config.Transport, "chat transport: none, whatsapp or twilio (overrides $INTAKEPIPE_TRANSPORT)"),
		sessionTTL:    fs.Duration("session-ttl", config.SessionTTL, "idle time after which sessions are purged (overrides $INTAKEPIPE_SESSION_TTL)"),
		purgeCron:     fs.String("purge-cron", config.PurgeCron, "cron schedule for the stale-session purge (overrides $INTAKEPIPE_PURGE_CRON)"),
		restart:       fs.String("restart-keyword", config.Restart, "chat keyword that restarts an intake, empty to disable"),
		corsOrigins:   config.CORSOrigins,
		logLevel:      config.LogLevel,
	}

	if err := fs.Parse(args); err != nil {
		slog.Error("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"appDBDSN_set", *flags.appDBDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)

	// Default DSNs follow an overridden state directory
	if *flags.stateDir != config.StateDir {
		if *flags.appDBDSN == defaultAppDSN(config.StateDir) {
			*flags.appDBDSN = defaultAppDSN(*flags.stateDir)
			slog.Debug("Updated application DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.whatsappDBDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsappDBDSN = defaultWhatsAppDSN(*flags.stateDir)
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates the parent directories of file-based databases
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.appDBDSN, *flags.whatsappDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dir := filepath.Dir(path)
		slog.Debug("Creating directory for file-based database", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
	}
	if flags.logLevel != "" {
		waOpts = append(waOpts, whatsapp.WithLogLevel(strings.ToUpper(flags.logLevel)))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.appDBDSN != "" {
		if store.DetectDSNType(*flags.appDBDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.appDBDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.appDBDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.appDBDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if len(flags.corsOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithCORSOrigins(flags.corsOrigins...))
	}
	return apiOpts
}

// buildServiceOptions attaches an LLM-backed summarizer when an OpenAI key is configured.
func buildServiceOptions(flags Flags) []flow.ServiceOption {
	if *flags.openaiKey == "" {
		slog.Debug("No OpenAI API key, summaries use rule-based text only")
		return nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Warn("GenAI client unavailable, summaries use rule-based text only", "error", err)
		return nil
	}
	return []flow.ServiceOption{flow.WithSummarizer(flow.NewSummarizer(client))}
}

func loadContent(path string) *content.Pack {
	if path == "" {
		slog.Debug("No content file configured, using embedded default content")
		return content.Default()
	}
	return content.Load(path)
}

// transport is a started chat transport and the hook that tears it down.
type transport struct {
	service messaging.Service
	close   func()
}

// startTransport connects the configured chat transport. For Twilio the inbound webhook is
// mounted on the API server through the returned options.
func startTransport(ctx context.Context, flags Flags, apiOpts []api.Option) (*transport, []api.Option, error) {
	switch strings.ToLower(*flags.transport) {
	case "", TransportNone:
		slog.Info("No chat transport configured, serving HTTP API only")
		return nil, apiOpts, nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, apiOpts, fmt.Errorf("failed to start WhatsApp transport: %w", err)
		}
		svc := messaging.NewWhatsAppService(client)
		return &transport{service: svc, close: client.Disconnect}, apiOpts, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, apiOpts, fmt.Errorf("failed to start Twilio transport: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return &transport{service: svc, close: func() {}}, append(apiOpts, api.WithTwilioWebhook(svc.TwilioWebhookHandler)), nil
	default:
		return nil, apiOpts, fmt.Errorf("unknown transport %q (want %s, %s or %s)", *flags.transport, TransportNone, TransportWhatsApp, TransportTwilio)
	}
}

// logReceipts drains delivery receipts so transports never block on a full channel.
func logReceipts(svc messaging.Service) {
	for r := range svc.Receipts() {
		slog.Debug("delivery receipt", "to", r.To, "status", r.Status)
	}
}

func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := ensureDirectoriesExist(flags); err != nil {
		return fmt.Errorf("failed to create required directories: %w", err)
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	rules, err := flow.NewRuleEngine(flow.DefaultRules)
	if err != nil {
		return fmt.Errorf("invalid rule table: %w", err)
	}
	intake := flow.NewIntakeFlow(st, loadContent(*flags.contentFile), rules)
	svc := flow.NewSessionService(intake, st, buildServiceOptions(flags)...)

	t, apiOpts, err := startTransport(ctx, flags, buildAPIOptions(flags))
	if err != nil {
		return err
	}
	if t != nil {
		defer t.close()
		if err := t.service.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer t.service.Stop()
		go logReceipts(t.service)

		responder := messaging.NewIntakeResponder(svc, t.service,
			messaging.WithDedup(st), messaging.WithRestartKeyword(*flags.restart))
		responder.Start(ctx)
	}

	sched := scheduler.NewScheduler()
	if err := sched.SchedulePurge(*flags.purgeCron, *flags.sessionTTL, svc); err != nil {
		return fmt.Errorf("failed to schedule session purge: %w", err)
	}
	if err := sched.SchedulePurge(*flags.purgeCron, *flags.sessionTTL, scheduler.PurgerFunc(st.PurgeInboundBefore)); err != nil {
		return fmt.Errorf("failed to schedule dedup purge: %w", err)
	}

	server := api.NewServer(svc, apiOpts...)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("API server shutdown failed", "error", err)
	}
	sched.Stop(shutdownCtx)
	return nil
}
