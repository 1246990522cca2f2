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

	"github.com/GuestPipe/GuestPipe/internal/api"
	"github.com/GuestPipe/GuestPipe/internal/flow"
	"github.com/GuestPipe/GuestPipe/internal/guest"
	"github.com/GuestPipe/GuestPipe/internal/lockfile"
	"github.com/GuestPipe/GuestPipe/internal/messaging"
	"github.com/GuestPipe/GuestPipe/internal/store"
	"github.com/GuestPipe/GuestPipe/internal/twiliowhatsapp"
	"github.com/GuestPipe/GuestPipe/internal/util"
	"github.com/GuestPipe/GuestPipe/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GuestPipe state data
	DefaultStateDir = "/var/lib/guestpipe"
	// DefaultAppDBFileName is the default SQLite database filename for
	// flows, sessions and overlays
	DefaultAppDBFileName = "guestpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for
	// the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Messenger backend names accepted by -messenger.
const (
	MessengerWhatsApp = "whatsapp"
	MessengerTwilio   = "twilio"
	MessengerNone     = "none"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Utility mode: print a check-in deep link QR for a hotel and exit.
	if *flags.hotelQR != "" {
		printHotelQR(*flags.hotelQR)
		return
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard against concurrent instances sharing the same state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	slog.Info("Bootstrapping GuestPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"app_dsn_set", *flags.appDBDSN != "",
		"redis_dsn_set", *flags.redisDSN != "",
		"messenger", *flags.messenger,
		"default_hotel", *flags.defaultHotel,
		"api_addr", *flags.apiAddr)

	if err := run(flags); err != nil {
		slog.Error("GuestPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GuestPipe exited successfully")
}

// run wires the store, engine, messenger and API server together and blocks
// until the process receives SIGINT or SIGTERM.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, locker, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	if util.ParseBoolEnv("GUESTPIPE_SEED_FLOWS", true) {
		if err := store.SeedDefaultFlows(st); err != nil {
			return err
		}
	}

	engine := flow.NewEngine(st, st, guest.NewStoreProvider(st))

	svc, twilioSvc, err := buildMessenger(flags)
	if err != nil {
		return err
	}

	procOpts := []messaging.ProcessorOption{}
	if svc != nil {
		procOpts = append(procOpts, messaging.WithSender(svc))
	}
	if *flags.defaultHotel != "" {
		procOpts = append(procOpts, messaging.WithDefaultHotel(*flags.defaultHotel))
	}
	processor := messaging.NewProcessor(st, locker, engine, procOpts...)

	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				slog.Warn("Failed to stop messaging service", "error", err)
			}
		}()
		go func() {
			if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Inbound processor stopped", "error", err)
			}
		}()
	}

	srv := api.NewServer(st, processor, buildAPIOptions(flags)...)
	if twilioSvc != nil {
		srv.AttachTwilioWebhook(twilioSvc)
	}
	return srv.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	RedisDSN         string
	Messenger        string
	DefaultHotelID   string
	APIAddr          string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	hotelQR       *string
	stateDir      *string
	appDBDSN      *string
	whatsappDBDSN *string
	redisDSN      *string
	messenger     *string
	defaultHotel  *string
	apiAddr       *string
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
		StateDir:         os.Getenv("GUESTPIPE_STATE_DIR"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		RedisDSN:         os.Getenv("REDIS_DSN"),
		Messenger:        os.Getenv("GUESTPIPE_MESSENGER"),
		DefaultHotelID:   os.Getenv("GUESTPIPE_DEFAULT_HOTEL"),
		APIAddr:          os.Getenv("API_ADDR"),
	}

	// Legacy fallback for deployments that only set DATABASE_URL.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
		if config.ApplicationDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GUESTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("GUESTPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}

	if config.Messenger == "" {
		config.Messenger = MessengerNone
	}

	slog.Debug("environment variables loaded",
		"GUESTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"REDIS_DSN_SET", config.RedisDSN != "",
		"GUESTPIPE_MESSENGER", config.Messenger,
		"GUESTPIPE_DEFAULT_HOTEL", config.DefaultHotelID,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		hotelQR:       flag.String("hotel-qr", "", "print the check-in deep link QR code for the given hotel id and exit"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for GuestPipe data (overrides $GUESTPIPE_STATE_DIR)"),
		appDBDSN:      flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for flows, sessions and overlays (overrides $DATABASE_DSN or $DATABASE_URL)"),
		whatsappDBDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp device store (overrides $WHATSAPP_DB_DSN)"),
		redisDSN:      flag.String("redis-dsn", config.RedisDSN, "Redis DSN for shared sessions and leases (overrides $REDIS_DSN)"),
		messenger:     flag.String("messenger", config.Messenger, "message delivery backend: whatsapp, twilio or none (overrides $GUESTPIPE_MESSENGER)"),
		defaultHotel:  flag.String("default-hotel", config.DefaultHotelID, "hotel id assumed for inbound messages without a deep link (overrides $GUESTPIPE_DEFAULT_HOTEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"appDBDSN_set", *flags.appDBDSN != "",
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"redisDSN_set", *flags.redisDSN != "",
		"messenger", *flags.messenger,
		"defaultHotel", *flags.defaultHotel,
		"apiAddr", *flags.apiAddr)

	// Update database DSNs if not explicitly set but state directory is provided
	if *flags.stateDir != config.StateDir {
		if *flags.appDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.appDBDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
			slog.Debug("Updated app DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.whatsappDBDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.whatsappDBDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.appDBDSN, *flags.whatsappDBDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
		slog.Debug("Creating state directory for file-based database", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStore opens the application store selected by the DSN and, when a
// Redis DSN is configured, routes sessions, dedup records and leases through
// Redis so multiple nodes can share them.
func buildStore(flags Flags) (store.Store, store.Locker, error) {
	var base store.Store
	switch store.DetectDSNType(*flags.appDBDSN) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		st, err := store.NewPostgresStore(store.WithDSN(*flags.appDBDSN))
		if err != nil {
			return nil, nil, err
		}
		base = st
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.appDBDSN)
		st, err := store.NewSQLiteStore(store.WithDSN(*flags.appDBDSN))
		if err != nil {
			return nil, nil, err
		}
		base = st
	}

	if *flags.redisDSN == "" {
		return base, store.NewKeyedMutex(), nil
	}

	rs, err := store.NewRedisSessionStore(store.WithDSN(*flags.redisDSN))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using Redis for sessions, dedup and leases", "dsn_set", true)
	return store.NewSplitStore(base, rs, rs), rs, nil
}

// buildMessenger constructs the configured delivery backend. The second
// return value is non-nil only for Twilio, whose inbound path is an HTTP
// webhook that must be mounted on the API server.
func buildMessenger(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch *flags.messenger {
	case MessengerWhatsApp:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case MessengerTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case MessengerNone, "":
		slog.Info("No messenger configured, inbound messages arrive via the HTTP webhook only")
		return nil, nil, nil
	default:
		slog.Warn("Unknown messenger backend, falling back to none", "messenger", *flags.messenger)
		return nil, nil, nil
	}
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
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// printHotelQR renders the deep link code guests scan at the front desk to
// start check-in for the given hotel.
func printHotelQR(hotelID string) {
	code := flow.DeepLinkCode(hotelID)
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	slog.Info("Hotel check-in code generated", "hotel_id", hotelID, "code", code)
}
