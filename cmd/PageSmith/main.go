package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/PageSmith/PageSmith/internal/api"
	"github.com/PageSmith/PageSmith/internal/attachments"
	"github.com/PageSmith/PageSmith/internal/genai"
	"github.com/PageSmith/PageSmith/internal/lockfile"
	"github.com/PageSmith/PageSmith/internal/messaging"
	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/renderer"
	"github.com/PageSmith/PageSmith/internal/scheduler"
	"github.com/PageSmith/PageSmith/internal/session"
	"github.com/PageSmith/PageSmith/internal/store"
	"github.com/PageSmith/PageSmith/internal/twiliowhatsapp"
	"github.com/PageSmith/PageSmith/internal/util"
	"github.com/PageSmith/PageSmith/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PageSmith state data
	DefaultStateDir = "/var/lib/pagesmith"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pagesmith.db"
	// DefaultReapInterval is how often the idle reaper sweeps the registry
	DefaultReapInterval = 30 * time.Minute
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Acquire the state directory lock so two instances never share a store
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping PageSmith with configured modules")
	if err := run(flags, config); err != nil {
		slog.Error("PageSmith failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PageSmith exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	OpenAIKey     string
	APIAddr       string
	Backend       string
	IdleThreshold time.Duration
	ReapInterval  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	backend       *string
	idleThreshold *time.Duration
	reapInterval  *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		StateDir:      os.Getenv("PAGESMITH_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Backend:       os.Getenv("MESSAGING_BACKEND"),
		IdleThreshold: util.ParseDurationEnv("IDLE_THRESHOLD", session.DefaultIdleThreshold),
		ReapInterval:  util.ParseDurationEnv("REAP_INTERVAL", DefaultReapInterval),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PAGESMITH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("PAGESMITH_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.Backend == "" {
		config.Backend = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"PAGESMITH_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend,
		"IDLE_THRESHOLD", config.IdleThreshold,
		"REAP_INTERVAL", config.ReapInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for PageSmith data (overrides $PAGESMITH_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for session and WhatsApp stores (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:       flag.String("messaging-backend", config.Backend, "messaging backend: whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		idleThreshold: flag.Duration("idle-threshold", config.IdleThreshold, "idle duration after which sessions are reaped (overrides $IDLE_THRESHOLD)"),
		reapInterval:  flag.Duration("reap-interval", config.ReapInterval, "how often the idle reaper sweeps (overrides $REAP_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"idleThreshold", *flags.idleThreshold,
		"reapInterval", *flags.reapInterval)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	// Ensure the directory holding a file-based DSN exists too
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dbDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the session store from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildGateway constructs the GenAI gateway, nil when no API key is available.
func buildGateway(flags Flags) genai.ClientInterface {
	if *flags.openaiKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("No OpenAI API key configured, running with deterministic extraction only")
		return nil
	}
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("Failed to create GenAI client, running with deterministic extraction only", "error", err)
		return nil
	}
	return client
}

// buildMessagingService constructs the configured chat transport.
func buildMessagingService(flags Flags, inboxDir string) (messaging.Service, error) {
	switch strings.ToLower(*flags.backend) {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client, inboxDir), nil
	default:
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client, inboxDir), nil
	}
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags, config Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	storage, err := attachments.NewStorage(filepath.Join(*flags.stateDir, "attachments"))
	if err != nil {
		return err
	}

	rend, err := renderer.NewHTMLRenderer(filepath.Join(*flags.stateDir, "pages"))
	if err != nil {
		return err
	}

	msgService, err := buildMessagingService(flags, filepath.Join(*flags.stateDir, "inbox"))
	if err != nil {
		return err
	}

	gateway := buildGateway(flags)
	registry := session.NewRegistry()
	manager := session.NewManager(registry, st, gateway, storage, rend, msgService)
	defer manager.Stop()

	// Resume persisted dialogues before accepting new traffic
	if err := manager.RecoverSessions(ctx); err != nil {
		slog.Error("Session recovery failed", "error", err)
	}

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	// Idle reaper on a fixed sweep interval
	reaper := session.NewReaper(manager, *flags.idleThreshold)
	sched := scheduler.NewScheduler()
	sched.AddInterval(*flags.reapInterval, reaper.Sweep)
	defer sched.Stop()

	// Ops API
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(manager, msgService, apiOpts...)
	apiErrCh := server.Start()
	defer server.Stop()

	// Inbound turns run on per-user queues: one user's slow gateway call must
	// not delay other users, while each user's messages keep arrival order.
	dispatcher := session.NewDispatcher(func(event models.InboundEvent) {
		reply, err := manager.HandleEvent(ctx, event)
		if err != nil {
			slog.Error("Failed to handle inbound message", "error", err, "userID", event.UserID)
			return
		}
		if reply.Text == "" {
			return
		}
		if err := msgService.SendMessage(ctx, event.UserID, reply.Text); err != nil {
			slog.Error("Failed to send reply", "error", err, "to", event.UserID)
		}
	})
	defer dispatcher.Stop()

	go func() {
		for resp := range msgService.Responses() {
			userID, err := msgService.ValidateAndCanonicalizeRecipient(resp.From)
			if err != nil {
				slog.Warn("Dropping inbound message with invalid sender", "error", err, "from", resp.From)
				continue
			}
			dispatcher.Dispatch(models.InboundEvent{UserID: userID, Text: resp.Body, Attachments: resp.Attachments})
		}
	}()

	// Drain receipts so the channel never blocks the transport
	go func() {
		for receipt := range msgService.Receipts() {
			slog.Debug("Delivery receipt", "to", receipt.To, "status", receipt.Status)
		}
	}()

	// Block until a shutdown signal or an API serve failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-apiErrCh:
		if err != nil {
			return err
		}
	}
	cancel()
	return nil
}
