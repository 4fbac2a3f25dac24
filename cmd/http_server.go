package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/auth"
	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
	"github.com/sunutaxe/payment-service/internal/core/events"
	"github.com/sunutaxe/payment-service/internal/payment"
	paymentpostgres "github.com/sunutaxe/payment-service/internal/payment/postgres"
	"github.com/sunutaxe/payment-service/internal/provider/orangemoney"
	"github.com/sunutaxe/payment-service/internal/provider/wave"
	"github.com/sunutaxe/payment-service/internal/receipt"
	"github.com/sunutaxe/payment-service/internal/transport"
	"github.com/sunutaxe/payment-service/internal/transport/rest"
	"github.com/sunutaxe/payment-service/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and provider callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	Logger         *slog.Logger
	Repo           *paymentpostgres.LedgerRepository
	PaymentService *payment.Service
	AuthHandler    *auth.Handler
	AuthService    *auth.Service
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	ReceiptHandler *receipt.Handler
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.AuthHandler, deps.AuthService,
		deps.PaymentHandler, deps.WebhookHandler, deps.ReceiptHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	repo := paymentpostgres.NewLedgerRepository(gormDB)

	adapters := payment.AdapterRegistry{
		paymentmodel.ProviderWave: wave.New(wave.Config{
			BaseURL:          config.Wave.BaseURL,
			APIKey:           config.Wave.APIKey,
			WebhookSecret:    config.Wave.WebhookSecret,
			Timeout:          config.Wave.Timeout,
			WebhookTolerance: config.Wave.WebhookTolerance,
		}, lg),
		paymentmodel.ProviderOrangeMoney: orangemoney.New(orangemoney.Config{
			BaseURL:       config.OrangeMoney.BaseURL,
			ClientID:      config.OrangeMoney.ClientID,
			ClientSecret:  config.OrangeMoney.ClientSecret,
			MerchantKey:   config.OrangeMoney.MerchantKey,
			WebhookSecret: config.OrangeMoney.WebhookSecret,
			Timeout:       config.OrangeMoney.Timeout,
		}, lg),
	}

	var directory receipt.PayerDirectory
	if config.Receipts.DirectoryBaseURL != "" {
		directory = receipt.NewHTTPPayerDirectory(receipt.DirectoryConfig{
			BaseURL: config.Receipts.DirectoryBaseURL,
			APIKey:  config.Receipts.DirectoryAPIKey,
			Timeout: config.Receipts.DirectoryTimeout,
		}, lg)
	} else {
		lg.Warn("payer directory not configured, receipts will carry ledger fields only")
	}

	receiptService := receipt.NewService(repo, directory, receipt.Config{
		Secret:       config.Receipts.Secret,
		NumberPrefix: config.Receipts.NumberPrefix,
		BaseURL:      config.Receipts.BaseURL,
	}, lg)

	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(lg).RegisterEventHandlers(eventBus)

	paymentService := payment.NewService(repo, adapters, receiptService, eventBus, payment.ServiceConfig{
		MinAmount:       config.Payments.MinAmount,
		MaxAmount:       config.Payments.MaxAmount,
		DefaultProvider: paymentmodel.Provider(config.Payments.DefaultProvider),
		DefaultCurrency: "XOF",
		SuccessURL:      config.Wave.SuccessURL,
		ErrorURL:        config.Wave.ErrorURL,
		Retry: payment.RetryPolicy{
			MaxAttempts:  config.Payments.RetryMaxAttempts,
			InitialDelay: config.Payments.RetryInitialDelay,
			Multiplier:   config.Payments.RetryMultiplier,
			MaxDelay:     config.Payments.RetryMaxDelay,
		},
	}, lg)

	secretHashes := make(map[string]string, len(config.Security.Clients))
	for _, client := range config.Security.Clients {
		secretHashes[client.ID] = client.SecretHash
	}
	tokenGenerator := auth.NewJWTTokenGenerator(config.Security.JWTSecret, config.Security.TokenDuration)
	authService := auth.NewService(secretHashes, tokenGenerator, config.Security.BCryptCost)

	return &Dependencies{
		Config:         config,
		DB:             db,
		Router:         chi.NewRouter(),
		Logger:         lg,
		Repo:           repo,
		PaymentService: paymentService,
		AuthHandler:    auth.NewHandler(authService),
		AuthService:    authService,
		PaymentHandler: payment.NewHandler(paymentService, lg),
		WebhookHandler: payment.NewWebhookHandler(transport.NewBaseHandler(lg), paymentService, lg),
		ReceiptHandler: receipt.NewHandler(receiptService, lg),
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
