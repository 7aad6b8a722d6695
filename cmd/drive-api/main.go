package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/captcha"
	"github.com/ooblik/drive-backend/internal/cleanup"
	"github.com/ooblik/drive-backend/internal/config"
	"github.com/ooblik/drive-backend/internal/database"
	"github.com/ooblik/drive-backend/internal/logging"
	"github.com/ooblik/drive-backend/internal/mailer"
	"github.com/ooblik/drive-backend/internal/server"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/storage"
	"github.com/ooblik/drive-backend/internal/upload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drive-api",
		Short: "File transfer platform backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newCreateAdminCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Deployment environment (development, production)")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Public base URL of this API")
	cmd.PersistentFlags().String("frontend-url", defaults.GetString("frontend.url"), "Frontend URL for post-consume redirects")
	cmd.PersistentFlags().String("hcaptcha-secret", "", "hCaptcha secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "frontend.url", "frontend-url")
	bindFlag(cmd, "hcaptcha.secret", "hcaptcha-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	auditRecorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	settingsStore, err := settings.NewStore(db)
	if err != nil {
		return err
	}

	sender, err := mailer.NewSender(mailer.SenderConfig{
		Settings:   settingsStore,
		APIBaseURL: appConfig.APIBaseURL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var captchaVerifier auth.CaptchaVerifier
	hcaptcha := captcha.NewVerifier(captcha.VerifierConfig{
		Secret: appConfig.HCaptchaSecret,
		Logger: logger,
	})
	if hcaptcha.Enabled() {
		captchaVerifier = hcaptcha
	} else if appConfig.IsProduction() {
		return fmt.Errorf("hcaptcha.secret is required in production")
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Database:     db,
		Audit:        auditRecorder,
		Mailer:       sender,
		Captcha:      captchaVerifier,
		Logger:       logger,
		ExposeTokens: !appConfig.IsProduction(),
	})
	if err != nil {
		return err
	}

	consumer, err := auth.NewConsumer(auth.ConsumerConfig{
		Database: db,
		Audit:    auditRecorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	adminService, err := admin.NewService(admin.ServiceConfig{
		Database: db,
		Audit:    auditRecorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	broker, err := upload.NewBroker(upload.BrokerConfig{
		Database: db,
		Settings: settingsStore,
		Audit:    auditRecorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := cleanup.NewScheduler(cleanup.SchedulerConfig{
		Database: db,
		Audit:    auditRecorder,
		Settings: settingsStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Database:    db,
		Issuer:      issuer,
		Consumer:    consumer,
		Verifier:    verifier,
		Admin:       adminService,
		Broker:      broker,
		Settings:    settingsStore,
		Audit:       auditRecorder,
		Mailer:      sender,
		Storage:     storage.NewDiagnostic(0, logger),
		Scheduler:   scheduler,
		FrontendURL: appConfig.FrontendURL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newCreateAdminCommand bootstraps the first back-office account. Admin
// accounts cannot be created over HTTP.
func newCreateAdminCommand() *cobra.Command {
	var username, password, email string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Provision a back-office admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			auditRecorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, Logger: logger})
			if err != nil {
				return err
			}

			adminService, err := admin.NewService(admin.ServiceConfig{
				Database: db,
				Audit:    auditRecorder,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			info, err := adminService.CreateUser(cmd.Context(), username, password, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (%s)\n", info.Username, info.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Admin username")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (at least 6 characters)")
	cmd.Flags().StringVar(&email, "email", "", "Admin contact email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
