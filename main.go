package main

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdusco/shorty/internal/auth"
	"github.com/abdusco/shorty/internal/db"
	"github.com/abdusco/shorty/internal/handler"
	"github.com/abdusco/shorty/internal/logger"
	"github.com/abdusco/shorty/internal/metrics"
	"github.com/abdusco/shorty/internal/ratelimit"
	"github.com/abdusco/shorty/internal/repo"
	"github.com/abdusco/shorty/internal/service"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type Config struct {
	Host             string
	Port             string
	DBPath           string
	JWTSecret        string `json:"-"`
	BaseURL          string
	LogLevel         string
	Debug            bool
	RateLimitDisable bool
}

func newConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:             cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:             cmp.Or(os.Getenv("PORT"), "8080"),
		DBPath:           cmp.Or(os.Getenv("DB_PATH"), "shorty.db"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		BaseURL:          os.Getenv("BASE_URL"),
		LogLevel:         cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:            os.Getenv("DEBUG") == "1",
		RateLimitDisable: os.Getenv("RATE_LIMIT_DISABLED") == "1",
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		log.Warn().Msg("using a random JWT_SECRET - sessions will not survive a restart, set JWT_SECRET for production")
	}

	return cfg, nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("application error")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg Config

	serveFn := func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	}

	rootCmd := &cobra.Command{
		Use:           "shorty",
		Short:         "A URL shortener with expiring links and visit analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = newConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to parse configuration from environment: %w", err)
			}
			return logger.Setup(cfg.LogLevel, cfg.Debug)
		},
		RunE: serveFn,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		RunE:  serveFn,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write every link as JSON to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return export(cmd.Context(), cfg.DBPath, cmd.OutOrStdout())
		},
	})

	return rootCmd
}

func serve(ctx context.Context, cfg Config) error {
	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg)
}

func run(ctx context.Context, cfg Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	dbInstance, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbInstance.Close()

	e := newServer(cfg, dbInstance)
	defer e.Close()

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	log.Info().Str("address", addr).Msg("server starting")

	// Run server and handle graceful shutdown
	runServer(ctx, e, addr)

	return nil
}

func newServer(cfg Config, conn *sql.DB) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Validator = handler.NewValidator()

	e.Use(logger.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	var limit func(ratelimit.Policy) echo.MiddlewareFunc
	if !cfg.RateLimitDisable {
		limit = ratelimit.Middleware
	}

	m := metrics.New()

	authenticator := auth.NewAuthenticator(repo.NewUsersRepo(conn), cfg.JWTSecret)

	linkService := service.NewLinkService(
		repo.NewLinksRepo(conn),
		repo.NewVisitsRepo(conn),
		service.WithRecorder(m),
	)

	handler.Register(e, handler.Routes{
		Links:       handler.NewLinkHandler(linkService, cfg.BaseURL),
		Auth:        handler.NewAuthHandler(authenticator),
		RequireUser: auth.NewAuthMiddleware(authenticator),
		Limit:       limit,
		Metrics:     m.Handler(),
		Health: func(c echo.Context) error {
			if err := conn.PingContext(c.Request().Context()); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable").SetInternal(err)
			}
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		},
	})

	return e
}

func runServer(ctx context.Context, e *echo.Echo, addr string) {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(addr)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM)
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func export(ctx context.Context, dbPath string, w io.Writer) error {
	conn, err := db.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	links, err := repo.NewLinksRepo(conn).ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(links); err != nil {
		return fmt.Errorf("failed to encode links: %w", err)
	}

	log.Info().Int("count", len(links)).Msg("links exported")
	return nil
}
