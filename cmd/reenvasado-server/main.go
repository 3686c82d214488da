package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reenvasado/reenvasado/internal/config"
	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/domain/repackaging"
	"github.com/reenvasado/reenvasado/internal/domain/staff"
	"github.com/reenvasado/reenvasado/internal/platform/auth"
	"github.com/reenvasado/reenvasado/internal/platform/db"
	"github.com/reenvasado/reenvasado/internal/platform/middleware"
	"github.com/reenvasado/reenvasado/internal/platform/reporting"
	"github.com/reenvasado/reenvasado/internal/platform/telemetry"
	"github.com/reenvasado/reenvasado/internal/platform/webhook"
	"github.com/reenvasado/reenvasado/internal/platform/websocket"
	"github.com/reenvasado/reenvasado/migrations"
)

const tokenIssuer = "reenvasado"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reenvasado-server",
		Short: "Hospital pharmacy repackaging API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(reexpiryCmd())
	rootCmd.AddCommand(seedCmd())
	return rootCmd
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openPool loads the configuration and connects to the database.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			roleName, _ := cmd.Flags().GetString("role")
			name, _ := cmd.Flags().GetString("name")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := staff.NewService(staff.NewProfileRepoPG(pool), cfg.LoginEmailDomain, newLogger(cfg.IsDev()))
			p, err := svc.CreateUser(ctx, staff.NewUser{
				Email:    svc.LoginEmail(email),
				Password: password,
				Name:     name,
				Role:     role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) with id %s\n", p.Email, p.Role, p.UserID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email; a bare name gets the institutional domain")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("role", string(auth.RoleTechnician), "admin, farmaceutico or tecnico")
	createCmd.Flags().String("name", "", "Display name")
	cmd.AddCommand(createCmd)

	return cmd
}

func reexpiryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reexpiry",
		Short: "Re-expiry rule tools",
	}

	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Compute the re-expiry date for a repackaged unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			originalFlag, _ := cmd.Flags().GetString("original")
			method, _ := cmd.Flags().GetInt("method")
			nowFlag, _ := cmd.Flags().GetString("now")

			original, err := reexpiry.ParseDate(originalFlag)
			if err != nil {
				return fmt.Errorf("invalid --original: %w", err)
			}
			now := time.Now()
			if nowFlag != "" {
				if now, err = reexpiry.ParseDate(nowFlag); err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
			}

			// The calculator runs without a database; only the rule keys matter.
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			policy, err := cfg.ReexpiryPolicy()
			if err != nil {
				return err
			}

			writeSuggestion(cmd.OutOrStdout(), policy.Suggest(original, reexpiry.MethodID(method), now))
			return nil
		},
	}
	suggestCmd.Flags().String("original", "", "Original expiry (YYYY-MM-DD)")
	suggestCmd.Flags().Int("method", int(reexpiry.MethodBlister), "Repackaging method id")
	suggestCmd.Flags().String("now", "", "Reference date (YYYY-MM-DD), defaults to today")
	_ = suggestCmd.MarkFlagRequired("original")
	cmd.AddCommand(suggestCmd)

	return cmd
}

func writeSuggestion(w io.Writer, s reexpiry.Suggestion) {
	if !s.OK {
		fmt.Fprintf(w, "no suggestion (method class: %s)\n", s.Class)
		return
	}
	fmt.Fprintf(w, "%s (%s, %d months)\n", s.NewExpiry.Format(reexpiry.DateLayout), s.Class, s.Months)
}

// resolveSigningKey returns the configured token signing key, or a random
// 32-byte key in development. The second return value is true when the key
// was generated; tokens then do not survive a restart.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, false, err
	}
	if len(key) > 0 {
		return key, false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", cfg.Env)
	}
	key = make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	policy, err := cfg.ReexpiryPolicy()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid re-expiry policy")
	}
	reportLoc, err := cfg.ReportLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid report timezone")
	}
	signingKey, generated, err := resolveSigningKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, tokens will not survive a restart")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	txRunner := db.PoolTxRunner{Pool: pool}

	metrics := telemetry.New()
	metrics.RegisterPool(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	revocations := auth.NewSessionRevocations(cfg.AuthTokenTTL)
	defer revocations.Close()
	jwtCfg := auth.JWTConfig{
		SigningKey:  signingKey,
		Issuer:      tokenIssuer,
		Skipper:     auth.AuthSkipper,
		Revocations: revocations,
	}
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.Audit(logger))

	tokens, err := auth.NewTokenIssuer(signingKey, tokenIssuer, cfg.AuthTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}

	// Staff
	staffSvc := staff.NewService(staff.NewProfileRepoPG(pool), cfg.LoginEmailDomain, logger)
	staffSvc.SetRevoker(revocations)
	if cfg.IsDev() {
		if err := staffSvc.EnsureDevProfile(ctx, uuid.MustParse(auth.DevUserID)); err != nil {
			logger.Warn().Err(err).Msg("could not create development profile; run migrate up first")
		}
	}
	staff.NewHandler(staffSvc, tokens).RegisterRoutes(apiV1)

	// Catalog
	catalogSvc := catalog.NewService(catalog.NewMedicationRepoPG(pool), catalog.NewMethodRepoPG(pool), txRunner, logger)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	// Realtime
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub, cfg.CORSOrigins, func(c echo.Context) string {
		return auth.UserIDFromContext(c.Request().Context())
	}).RegisterRoutes(apiV1)

	// Repackaging workflow
	engine := reexpiry.NewEngine(policy)
	repackSvc := repackaging.NewService(
		repackaging.NewTaskRepoPG(pool),
		repackaging.NewActivityRepoPG(pool),
		catalogSvc,
		staffSvc,
		engine,
		txRunner,
		logger,
	)
	publishers := websocket.Publishers{hub}
	if urls, events := cfg.Webhooks(); len(urls) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(urls))
		for _, u := range urls {
			endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret, Events: events})
		}
		dispatcher, err := webhook.NewDispatcher(endpoints, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook configuration")
		}
		defer dispatcher.Close()
		publishers = append(publishers, dispatcher)
		logger.Info().Int("endpoints", len(endpoints)).Msg("webhook delivery enabled")
	}
	repackSvc.SetPublisher(publishers)
	repackSvc.SetMetrics(metrics)
	repackaging.NewHandler(repackSvc).RegisterRoutes(apiV1)

	// Reports
	reporting.NewHandler(repackSvc, reportLoc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
