package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/auth"
	"github.com/proconfianza/server/internal/config"
	"github.com/proconfianza/server/internal/db"
	httphandler "github.com/proconfianza/server/internal/http"
	"github.com/proconfianza/server/internal/http/handlers"
	"github.com/proconfianza/server/internal/jobs"
	"github.com/proconfianza/server/internal/logging"
	"github.com/proconfianza/server/internal/middleware"
	"github.com/proconfianza/server/internal/repo"
	"github.com/proconfianza/server/internal/sms"
)

const (
	appName         = "proconfianza-api"
	rateLimitWindow = 10 * time.Minute
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logging.New(appName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	phoneFormat, err := auth.NewPhoneFormat(cfg.PhoneCountryCode, cfg.PhoneNationalDigits)
	if err != nil {
		log.WithError(err).Fatal("Invalid phone format configuration")
	}

	store := repo.NewStore(database)
	authService := auth.NewService(store, newSMSSender(cfg, log), auth.Config{
		Phone:            phoneFormat,
		OTPSalt:          cfg.OTPSalt,
		CodeTTL:          cfg.VerificationCodeTTL,
		MaxAttempts:      cfg.VerificationMaxAttempts,
		SMSTimeout:       cfg.SMSSendTimeout,
		DevMode:          cfg.OTPDevMode,
		AllowUserInvites: cfg.AllowUserInvites,
	}, log)

	if err := authService.Bootstrap(ctx, cfg.BootstrapAdminPhone, cfg.BootstrapInvitationCode); err != nil {
		log.WithError(err).Fatal("Failed to seed bootstrap data")
	}
	if cfg.OTPDevMode {
		log.Warn("OTP_DEV_MODE is enabled: verification codes are returned in API responses")
	}

	cleanup, err := jobs.Schedule(cfg.CleanupSchedule, jobs.NewCleanup(store.Verifications, log))
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule cleanup")
	}
	cleanup.Start()
	defer cleanup.Stop()

	router := httphandler.NewRouter(httphandler.Handlers{
		Registration: handlers.NewRegistrationHandler(authService,
			middleware.NewRateLimiter(ctx, rateLimitWindow, cfg.RateLimitSendPerPhone), log),
		Users:  handlers.NewUserHandler(authService, log),
		Admin:  handlers.NewAdminHandler(authService, log),
		Health: handlers.NewHealthHandler(store, log),
	}, httphandler.Limits{
		SendPerIP:   middleware.NewRateLimiter(ctx, rateLimitWindow, cfg.RateLimitSendPerIP),
		VerifyPerIP: middleware.NewRateLimiter(ctx, rateLimitWindow, cfg.RateLimitVerifyPerIP),
	}, cfg.AdminAPIKey, log)

	co := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           co.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second + cfg.SMSSendTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	log.Info("Server exited")
}

func newSMSSender(cfg *config.Config, log logrus.FieldLogger) auth.SMSSender {
	if cfg.SMSProvider == config.SMSProviderTwilio {
		log.Info("SMS provider: twilio")
		return sms.NewTwilioGateway(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromPhone, log)
	}
	log.Warn("SMS provider: log (codes are not delivered)")
	return sms.NewLogGateway(log)
}
