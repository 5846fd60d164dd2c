package main

import (
	"context"
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
	"go.opentelemetry.io/otel"

	"github.com/ehr/opd/internal/config"
	"github.com/ehr/opd/internal/domain/billing"
	"github.com/ehr/opd/internal/domain/doctor"
	"github.com/ehr/opd/internal/domain/patient"
	"github.com/ehr/opd/internal/domain/queue"
	"github.com/ehr/opd/internal/domain/scheduling"
	"github.com/ehr/opd/internal/domain/vitals"
	"github.com/ehr/opd/internal/platform/auth"
	"github.com/ehr/opd/internal/platform/cache"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/internal/platform/events"
	"github.com/ehr/opd/internal/platform/middleware"
	"github.com/ehr/opd/internal/platform/telemetry"
	"github.com/ehr/opd/internal/platform/websocket"
	"github.com/ehr/opd/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "opd-server",
		Short:        "Outpatient queue, vitals and consultation billing API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(facilityCmd())
	root.AddCommand(doctorsCmd())
	return root
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

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "opd-server").Logger()
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect facility schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			to, _ := cmd.Flags().GetInt("to")

			ctx := cmd.Context()
			cfg, pool, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if facility == "" {
				facility = cfg.DefaultFacility
			}

			schema := db.SchemaName(facility)
			migrator := db.NewMigrator(pool, migrations.FS)
			var n int
			if to > 0 {
				n, err = migrator.UpTo(ctx, schema, to)
			} else {
				n, err = migrator.Up(ctx, schema)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", schema, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", n, schema)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Facility id (defaults to DEFAULT_FACILITY)")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")

			ctx := cmd.Context()
			cfg, pool, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if facility == "" {
				facility = cfg.DefaultFacility
			}

			schema := db.SchemaName(facility)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration status for %s: %w", schema, err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Facility id (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-8s %-32s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-8d %-32s %-8s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facility schemas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create a facility schema and apply all migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.CreateFacilitySchema(ctx, pool, args[0], db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Facility %s ready in schema %s.\n", args[0], db.SchemaName(args[0]))
			return nil
		},
	})
	return cmd
}

func doctorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctors",
		Short: "Doctor directory maintenance",
	}

	flushCmd := &cobra.Command{
		Use:   "flush-cache",
		Short: "Drop cached directory entries after doctor rows were edited",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			ids, _ := cmd.Flags().GetStringSlice("doctor")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is not set; the in-memory cache expires with DOCTOR_CACHE_TTL")
			}
			if facility == "" {
				facility = cfg.DefaultFacility
			}

			ctx := cmd.Context()
			store, err := cache.NewRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := flushDoctorCache(ctx, store, facility, ids); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed doctor cache for facility %s.\n", facility)
			return nil
		},
	}
	flushCmd.Flags().String("facility", "", "Facility id (defaults to DEFAULT_FACILITY)")
	flushCmd.Flags().StringSlice("doctor", nil, "Doctor ids whose cached entries are dropped")
	cmd.AddCommand(flushCmd)

	return cmd
}

// flushDoctorCache drops the facility's cached active list and the given
// doctors' entries.
func flushDoctorCache(ctx context.Context, store cache.Store, facility string, rawIDs []string) error {
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("doctor id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	ctx = context.WithValue(ctx, db.FacilityIDKey, facility)
	return doctor.NewCachedDirectory(nil, store, 0, nil, zerolog.Nop()).Invalidate(ctx, ids...)
}

func openStore(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up telemetry")
	}
	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := db.CreateFacilitySchema(ctx, pool, cfg.DefaultFacility, db.NewMigrator(pool, migrations.FS)); err != nil {
		logger.Fatal().Err(err).Str("facility", cfg.DefaultFacility).Msg("failed to migrate default facility")
	}
	logger.Info().Str("facility", cfg.DefaultFacility).Msg("connected to database")

	// Doctor directory cache
	var store cache.Store = cache.NewMemory()
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		store = rc
		logger.Info().Msg("doctor directory cached in redis")
	}

	// Queue events: websocket boards, plus JetStream when configured
	hub := websocket.NewHub(logger)
	publishers := events.Fanout{hub}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		js, err := events.NewJetStreamPublisher(ctx, nc, cfg.NATSStream)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up jetstream")
		}
		publishers = append(publishers, js)
		logger.Info().Str("stream", cfg.NATSStream).Msg("publishing queue events to jetstream")
	}

	// Services
	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	queueSvc := queue.NewService(queue.NewRepoPG(pool), patientSvc, publishers, metrics, logger, queue.WithLocation(loc))
	doctors := doctor.NewCachedDirectory(doctor.NewRepoPG(pool), store, cfg.DoctorCacheTTL, metrics, logger)
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), scheduling.WithLocation(loc))
	dispatcher := billing.NewDispatcher(billing.NewRepoPG(pool), metrics, billing.WithLocation(loc))
	coordinator := vitals.NewCoordinator(patientSvc, queueSvc, doctors, schedulingSvc, dispatcher, metrics, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSigningKey),
		}))
	}
	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(db.FacilityMiddleware(pool, cfg.DefaultFacility))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	apiV1.Use(middleware.Audit(logger))

	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)
	vitals.NewHandler(coordinator).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	doctor.NewHandler(doctors).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	billing.NewHandler(dispatcher).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, logger).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
