package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/directory"
	"github.com/gatekey-io/gatekey/internal/flow"
	"github.com/gatekey-io/gatekey/internal/janitor"
	"github.com/gatekey-io/gatekey/internal/notify"
	"github.com/gatekey-io/gatekey/internal/oidcclient"
	"github.com/gatekey-io/gatekey/internal/repositories"
	"github.com/gatekey-io/gatekey/internal/returnurl"
	"github.com/gatekey-io/gatekey/internal/session"
	"github.com/gatekey-io/gatekey/internal/settings"
	"github.com/gatekey-io/gatekey/internal/verifier"
	"github.com/gatekey-io/gatekey/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr  string
	dbDriver  string
	dbDSN     string
	siteURL   string
	secretKey string
	logLevel  string
	dataDir   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "gatekey",
		Short: "Gatekey — OIDC login gateway",
		Long: `Gatekey puts an OpenID Connect login flow in front of a web site.
It drives the authorization-code round trip against a single configured
identity provider, carries validated return destinations across it, and
optionally binds logins to local accounts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("GATEKEY_HTTP_ADDR", ":8080"), "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("GATEKEY_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("GATEKEY_DB_DSN", "./gatekey.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.siteURL, "site-url", envOrDefault("GATEKEY_SITE_URL", ""), "Absolute URL of the site home, e.g. https://intranet.example.org/ (required)")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("GATEKEY_SECRET_KEY", ""), "Master secret key for encrypting settings at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("GATEKEY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("GATEKEY_DATA_DIR", "./data"), "Directory for server data (RSA session keys)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatekey %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or GATEKEY_SECRET_KEY")
	}
	site, err := url.Parse(cfg.siteURL)
	if err != nil || !site.IsAbs() || site.Host == "" {
		return fmt.Errorf("site url is required and must be absolute — set --site-url or GATEKEY_SITE_URL")
	}
	secure := site.Scheme == "https"

	logger.Info("starting gatekey",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("site_url", cfg.siteURL),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// EncryptedString fields need the key before the first DB operation.
	if err := db.InitEncryption([]byte(cfg.secretKey)); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	database, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	settingsRepo := repositories.NewSettingsRepository(database)
	settingsSvc := settings.NewService(settingsRepo, logger)

	resolver, err := returnurl.NewResolver(cfg.siteURL, verifier.New(settingsSvc), logger)
	if err != nil {
		return err
	}

	tokens, err := buildTokenManager(cfg.dataDir, logger)
	if err != nil {
		return err
	}
	dir := directory.NewService(repositories.NewAccountRepository(database), tokens, logger)
	notify.NewService(settingsRepo, logger).Register(dir)

	store := session.NewStore(repositories.NewSessionRepository(database), session.DefaultTTL, logger)

	callbackURL := site.ResolveReference(&url.URL{Path: web.PathCallback}).String()
	fl := flow.New(settingsSvc, resolver, dir, oidcclient.New, callbackURL, logger)

	jan, err := janitor.New(store, janitor.DefaultInterval, logger)
	if err != nil {
		return err
	}
	if err := jan.Start(); err != nil {
		return err
	}
	defer jan.Stop() //nolint:errcheck

	router := web.NewRouter(web.RouterConfig{
		Flow:      fl,
		Store:     store,
		Settings:  settingsSvc,
		Directory: dir,
		Tokens:    tokens,
		Metrics:   web.NewMetrics(),
		Logger:    logger,
		HomeURL:   resolver.Home(),
		Secure:    secure,
	})

	server := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gatekey")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildTokenManager loads the RSA session key pair from the data directory
// when both PEM files exist, and generates an ephemeral pair otherwise.
// Ephemeral keys invalidate all session credentials on restart, which is fine
// for development and single-instance setups.
func buildTokenManager(dataDir string, logger *zap.Logger) (*directory.TokenManager, error) {
	privPath := filepath.Join(dataDir, "session_private.pem")
	pubPath := filepath.Join(dataDir, "session_public.pem")

	if fileExists(privPath) && fileExists(pubPath) {
		logger.Info("loading session keys", zap.String("private", privPath))
		return directory.NewTokenManagerFromFiles(privPath, pubPath, "gatekey")
	}

	logger.Warn("no session key pair found, generating an ephemeral one",
		zap.String("data_dir", dataDir))
	return directory.NewTokenManagerGenerated("gatekey")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
