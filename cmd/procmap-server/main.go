package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/procmap/internal/config"
	"github.com/ehr/procmap/internal/domain/mapping"
	"github.com/ehr/procmap/internal/platform/db"
	"github.com/ehr/procmap/internal/platform/logging"
	"github.com/ehr/procmap/internal/platform/middleware"
	"github.com/ehr/procmap/internal/platform/openapi"
	"github.com/ehr/procmap/internal/platform/telemetry"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "procmap-server",
		Short:   "Procedure name to SNOMED mapping API",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(pingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mapping API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a single mapping search and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			return runSearch(ctx, cmd.OutOrStdout(), st, args[0], limit)
		},
	}
	cmd.Flags().Int("limit", mapping.DefaultLimit, "Maximum number of results (1-50)")
	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the mapping store is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			return runPing(ctx, cmd.OutOrStdout(), st, cfg)
		},
	}
}

// runSearch prints the JSON response of one search.
func runSearch(ctx context.Context, w io.Writer, st *store, query string, limit int) error {
	resp, err := mapping.NewService(st.repo).Search(ctx, query, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runPing(ctx context.Context, w io.Writer, st *store, cfg *config.Config) error {
	if err := st.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s store: %w", cfg.DBDriver, err)
	}
	fmt.Fprintf(w, "%s store reachable, table %s\n", cfg.DBDriver, cfg.MappingTable)
	return nil
}

// store bundles the repository for the configured driver with the hooks
// the health endpoints need.
type store struct {
	repo   mapping.Repository
	pinger db.Pinger
	stats  func() *db.PoolStats
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	table, err := mapping.ParseTable(cfg.MappingTable)
	if err != nil {
		return nil, err
	}

	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:   mapping.NewMappingRepoPG(pool, table),
			pinger: pool,
			stats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
			close:  pool.Close,
		}, nil
	default:
		sqlDB, err := db.OpenFabric(ctx, db.FabricConfig{
			Server:       cfg.FabricServer,
			Database:     cfg.FabricDatabase,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TenantID:     cfg.TenantID,
		}, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:   mapping.NewMappingRepoMSSQL(sqlDB, table),
			pinger: db.PingerFunc(sqlDB.PingContext),
			stats:  func() *db.PoolStats { return db.SQLPoolStats(sqlDB.Stats()) },
			close:  func() { sqlDB.Close() },
		}, nil
	}
}

// newServer assembles the HTTP surface: middleware, probes and the
// mapping API.
func newServer(cfg *config.Config, logger zerolog.Logger, st *store) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	extractIP, err := middleware.ClientIPExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	e.IPExtractor = extractIP

	metrics := telemetry.NewProvider("procmap-server", version, st.stats)

	// Global middleware. Recovery sits inside Logger and metrics so that
	// recovered panics are logged and counted as 500s.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader, "If-None-Match"},
		ExposeHeaders: []string{middleware.RequestIDHeader, "ETag", "Retry-After", "X-RateLimit-Limit"},
	}))

	// Probes
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", db.ReadyHandler(st.pinger))
	e.GET("/health/db", db.HealthHandler(st.pinger, st.stats))
	e.GET("/metrics", metrics.PrometheusHandler())

	// Mapping API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/mappings",
		middleware.Sanitize(middleware.DefaultSanitizeConfig(), logger),
		middleware.RateLimit(rateLimitCfg),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.ETag(middleware.DefaultETagConfig()),
	)
	mapping.NewHandler(mapping.NewService(st.repo)).RegisterRoutes(api)

	// API docs
	openapi.NewGenerator(version, openapi.SearchLimits{
		MinQueryLength: mapping.MinQueryLength,
		DefaultLimit:   mapping.DefaultLimit,
		MaxLimit:       mapping.MaxLimit,
	}).RegisterRoutes(e)

	return e, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger, logCloser := logging.New(logging.Options{
		Level: cfg.LogLevel,
		Dev:   cfg.IsDev(),
		File:  cfg.LogFile,
	})
	defer logCloser.Close()

	// Store
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to mapping store")
	}
	defer st.close()
	logger.Info().Str("driver", cfg.DBDriver).Str("table", cfg.MappingTable).Msg("connected to mapping store")

	e, err := newServer(cfg, logger, st)
	if err != nil {
		return err
	}

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
