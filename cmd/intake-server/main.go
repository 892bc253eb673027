package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/intake/intake/internal/config"
	"github.com/intake/intake/internal/domain/analytics"
	"github.com/intake/intake/internal/domain/intake"
	"github.com/intake/intake/internal/domain/survey"
	usage "github.com/intake/intake/internal/platform/analytics"
	"github.com/intake/intake/internal/platform/db"
	"github.com/intake/intake/internal/platform/flowstate"
	"github.com/intake/intake/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Patient Intake Survey API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Write a forward migration instead, or restore the database from a backup.")
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo survey configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := survey.NewService(survey.NewConfigRepoPG(pool), logger)
			if !force {
				existing, err := svc.GetActive(ctx)
				if err == nil {
					fmt.Printf("Active survey %q (id %d) already present; use --force to seed anyway.\n",
						existing.Name, existing.ID)
					return nil
				}
			}

			created, err := svc.Create(ctx, demoSurveyDoc())
			if err != nil {
				return fmt.Errorf("seed demo survey: %w", err)
			}

			fmt.Printf("Seeded survey %q (id %d, version %s).\n", created.Name, created.ID, created.Version)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Seed even when an active survey already exists")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, rdb, err := buildIntakeService(pool, cfg, logger)
			if err != nil {
				return err
			}
			defer rdb.Close()

			runSweep(ctx, svc, cfg, logger)
			return nil
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis flow state
	intakeSvc, rdb, err := buildIntakeService(pool, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Msg("connected to redis")

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
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "10M"))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	// Request usage tracking for the operational stats endpoints
	tracker := usage.NewUsageTracker(10000)
	apiV1.Use(usage.UsageMiddleware(tracker))

	// Response cache: the active survey config is the one hot, shared
	// read. Editor writes clear it so publishes show up immediately.
	cacheStore := middleware.NewInMemoryCacheStore()

	// Patient intake surface
	intakeGroup := apiV1.Group("/intake")
	intakeGroup.Use(middleware.ETagMiddleware(middleware.DefaultCacheConfig()))
	intakeHandler := intake.NewHandler(intakeSvc)
	intakeHandler.RegisterRoutes(intakeGroup, middleware.ResponseCacheMiddleware(cacheStore, 30*time.Second))

	// Editor surface
	editorSvc := survey.NewService(survey.NewConfigRepoPG(pool), logger)
	editorGroup := apiV1.Group("/editor")
	editorGroup.Use(middleware.CacheInvalidate(cacheStore))
	editorHandler := survey.NewHandler(editorSvc)
	editorHandler.RegisterRoutes(editorGroup)

	// Analytics surface
	analyticsSvc := analytics.NewService(analytics.NewRepoPG(pool), survey.NewConfigRepoPG(pool), logger)
	analyticsGroup := apiV1.Group("/analytics")
	analyticsHandler := analytics.NewHandler(analyticsSvc)
	analyticsHandler.RegisterRoutes(analyticsGroup)
	usageHandler := usage.NewUsageHandler(tracker)
	usageHandler.RegisterRoutes(analyticsGroup)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Background retention sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval(cfg.SweepIntervalMinutes))
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				runSweep(sweepCtx, intakeSvc, cfg, logger)
			}
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		if cfg.TLSEnabled {
			logger.Info().Str("addr", addr).Msg("starting server with TLS")
			if err := e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server error")
			}
			return
		}
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

// buildIntakeService wires the intake service onto Postgres and Redis.
// The caller owns both the pool and the returned Redis client.
func buildIntakeService(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) (*intake.Service, *backend.Client, error) {
	opts, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := backend.NewClient(opts)

	flow := flowstate.NewFromClient(rdb,
		flowstate.WithTTL(time.Duration(cfg.SessionTTL)*time.Second))
	locks := flowstate.NewLocker(rdb, "intake:flow:")

	svc := intake.NewService(intake.NewRepositoriesPG(pool), flow, locks, intake.Settings{
		SessionTTL: time.Duration(cfg.SessionExpireHours) * time.Hour,
	}, logger)
	return svc, rdb, nil
}

// runSweep runs one pass of the retention jobs: abandon stale sessions,
// trim the audit log, and purge sessions past the data retention window.
func runSweep(ctx context.Context, svc *intake.Service, cfg *config.Config, logger zerolog.Logger) {
	now := time.Now().UTC()

	expired, err := svc.ExpireStale(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("sweep: expire stale sessions failed")
	}

	auditCutoff := now.Add(-time.Duration(cfg.AuditRetentionHours) * time.Hour)
	pruned, err := svc.PruneAudit(ctx, auditCutoff)
	if err != nil {
		logger.Error().Err(err).Msg("sweep: audit prune failed")
	}

	dataCutoff := now.Add(-time.Duration(cfg.DataRetentionHours) * time.Hour)
	purged, err := svc.PurgeOldData(ctx, dataCutoff)
	if err != nil {
		logger.Error().Err(err).Msg("sweep: data purge failed")
	}

	logger.Info().
		Int64("expired", expired).
		Int64("audit_pruned", pruned).
		Int64("purged", purged).
		Msg("retention sweep complete")
}

// sweepInterval converts the configured minutes to a duration, falling
// back to hourly when the value is missing or nonsense.
func sweepInterval(minutes int) time.Duration {
	if minutes <= 0 {
		return time.Hour
	}
	return time.Duration(minutes) * time.Minute
}

// parseRedisURL accepts both full redis:// URLs and bare host:port
// addresses, since deployments tend to hand us either form.
func parseRedisURL(raw string) (*backend.Options, error) {
	if raw == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if strings.Contains(raw, "://") {
		return backend.ParseURL(raw)
	}
	return &backend.Options{Addr: raw}, nil
}

// demoSurveyDoc returns the built-in branching pain intake used by the
// seed command: location routing, a severity slider, red-flag screening
// and clinical analysis rules over the combined answers.
func demoSurveyDoc() json.RawMessage {
	return json.RawMessage(demoSurveyJSON)
}

const demoSurveyJSON = `{
  "name": "Pain intake (demo)",
  "version": "1.0",
  "description": "Branching demo: complaint routing, severity scale, red-flag screening.",
  "start_node": "welcome",
  "groups": [
    {"id": "complaint", "name": "Chief complaint"},
    {"id": "screening", "name": "Screening"}
  ],
  "nodes": [
    {
      "id": "welcome",
      "type": "info_screen",
      "question_text": "Welcome. The next questions help your clinician prepare for your visit.",
      "logic": [{"next_node": "pain_location", "default": true}]
    },
    {
      "id": "pain_location",
      "type": "single_choice",
      "question_text": "Where is your pain?",
      "group_id": "complaint",
      "options": [
        {"id": "loc_back", "text": "Back", "value": "back"},
        {"id": "loc_neck", "text": "Neck", "value": "neck"},
        {"id": "loc_head", "text": "Head", "value": "head"},
        {"id": "loc_abdomen", "text": "Abdomen", "value": "abdomen"}
      ],
      "logic": [
        {"condition": "selected == 'back'", "next_node": "back_pain_radiates"},
        {"condition": "selected == 'head'", "next_node": "headache_severity"},
        {"next_node": "pain_duration", "default": true}
      ]
    },
    {
      "id": "back_pain_radiates",
      "type": "single_choice",
      "question_text": "Does the pain radiate down your leg?",
      "group_id": "complaint",
      "options": [
        {"id": "rad_yes", "text": "Yes", "value": "yes"},
        {"id": "rad_no", "text": "No", "value": "no"}
      ],
      "logic": [{"next_node": "pain_duration", "default": true}]
    },
    {
      "id": "headache_severity",
      "type": "slider",
      "question_text": "How severe are your headaches, 0 to 10?",
      "group_id": "complaint",
      "min_value": 0,
      "max_value": 10,
      "logic": [
        {"condition": "value >= 8", "next_node": "red_flags"},
        {"next_node": "pain_duration", "default": true}
      ]
    },
    {
      "id": "pain_duration",
      "type": "single_choice",
      "question_text": "How long have you had this pain?",
      "group_id": "complaint",
      "options": [
        {"id": "dur_days", "text": "A few days", "value": "under_week"},
        {"id": "dur_weeks", "text": "One to four weeks", "value": "weeks"},
        {"id": "dur_months", "text": "More than a month", "value": "over_month"}
      ],
      "logic": [{"next_node": "red_flags", "default": true}]
    },
    {
      "id": "red_flags",
      "type": "multi_choice",
      "question_text": "Have you noticed any of the following?",
      "group_id": "screening",
      "options": [
        {"id": "rf_fever", "text": "Fever", "value": "fever"},
        {"id": "rf_numbness", "text": "Numbness or tingling", "value": "numbness"},
        {"id": "rf_weight", "text": "Unexplained weight loss", "value": "weight_loss"},
        {"id": "rf_none", "text": "None of these", "value": "none"}
      ],
      "logic": [{"next_node": "notes", "default": true}]
    },
    {
      "id": "notes",
      "type": "text_input",
      "question_text": "Anything else we should know?",
      "group_id": "screening",
      "required": false,
      "placeholder": "Optional",
      "max_length": 2000,
      "logic": [{"next_node": "summary", "default": true}]
    },
    {
      "id": "summary",
      "type": "info_screen",
      "question_text": "Thank you. Your intake is complete.",
      "is_final": true
    }
  ],
  "analysis_rules": [
    {
      "name": "Severe headache",
      "message": "Headache severity 8 or above. Consider same-day evaluation.",
      "color": "red",
      "triggers": [{"node_id": "headache_severity", "option_value": "8", "match_mode": "gte"}]
    },
    {
      "name": "Red-flag symptoms",
      "message": "Red-flag symptom reported alongside the pain complaint.",
      "color": "red",
      "triggers": [
        {"node_id": "red_flags", "option_value": "fever"},
        {"node_id": "red_flags", "option_value": "numbness"},
        {"node_id": "red_flags", "option_value": "weight_loss"}
      ]
    },
    {
      "name": "Sciatica pattern",
      "message": "Back pain radiating down the leg.",
      "color": "yellow",
      "trigger_mode": "all",
      "triggers": [
        {"node_id": "pain_location", "option_value": "back"},
        {"node_id": "back_pain_radiates", "option_value": "yes"}
      ]
    },
    {
      "name": "Chronic course",
      "message": "Pain persisting for more than a month.",
      "color": "yellow",
      "triggers": [{"node_id": "pain_duration", "option_value": "over_month"}]
    }
  ]
}`
