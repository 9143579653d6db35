// Command coordinator runs the resource-collection coordinator: it
// accepts worker and manager connections on the wire protocol and serves
// Prometheus metrics plus a health check on a separate HTTP address.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fghso/camps-dct/internal/config"
	"github.com/fghso/camps-dct/internal/coordinator"
	"github.com/fghso/camps-dct/internal/filter"
	"github.com/fghso/camps-dct/internal/handler"
	"github.com/fghso/camps-dct/internal/httpapi"
	"github.com/fghso/camps-dct/internal/logging"
	"github.com/fghso/camps-dct/internal/metrics"
	"github.com/fghso/camps-dct/internal/store"
	"github.com/fghso/camps-dct/internal/store/dbstore"
	"github.com/fghso/camps-dct/internal/store/file"
	"github.com/fghso/camps-dct/internal/store/memory"
	"github.com/fghso/camps-dct/internal/store/rollover"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configFile string
	httpAddr   string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Distributed resource-collection coordinator",
		Long: `coordinator dispatches AVAILABLE resources to connected workers over a
length-prefixed JSON wire protocol, tracks their progress, and exposes a
management channel for operational commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configFile, "config", envOrDefault("COORDINATOR_CONFIG", "coordinator.yaml"), "Path to the coordinator's YAML configuration file")
	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("COORDINATOR_HTTP_ADDR", ":9091"), "Metrics/health HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("COORDINATOR_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coordinator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cliCfg *cliConfig) error {
	logger, err := logging.Build(cliCfg.logLevel)
	if err != nil {
		return fmt.Errorf("coordinator: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(cliCfg.configFile)
	if err != nil {
		return fmt.Errorf("coordinator: load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	persist, err := buildStore(ctx, cfg.Server.Persistence, logger)
	if err != nil {
		return fmt.Errorf("coordinator: build persistence store: %w", err)
	}

	registry := buildFilterRegistry(logger)

	newPipeline := func() (*filter.Pipeline, error) {
		pipeline := &filter.Pipeline{}
		for _, spec := range cfg.Server.Filtering.Filter {
			f, err := registry.Build(spec.Class, filter.Spec{
				Name:     spec.Name,
				Parallel: spec.Parallel,
				Config:   filterConfigMap(spec),
			})
			if err != nil {
				return nil, err
			}
			if spec.Parallel {
				pipeline.Parallel = append(pipeline.Parallel, f)
			} else {
				pipeline.Sequential = append(pipeline.Sequential, f)
			}
		}
		return pipeline, nil
	}

	reg := prometheus.NewRegistry()
	promMetrics := metrics.New(reg)

	co := coordinator.New(coordinator.Config{
		Address:     fmt.Sprintf("%s:%d", cfg.Global.Connection.Address, cfg.Global.Connection.Port),
		Store:       persist,
		NewPipeline: newPipeline,
		LoopForever: cfg.Server.LoopForever,
		Feedback:    cfg.Global.Feedback,
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:         cliCfg.httpAddr,
		Handler:      httpapi.NewRouter(reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", cliCfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	go reportCounts(ctx, co, promMetrics, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- handler.Serve(ctx, co)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down coordinator")
	case err := <-serveErr:
		if err != nil {
			logger.Error("accept loop stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}

	return nil
}

// reportCounts polls the store's counts and the lifecycle state into the
// Prometheus gauges every few seconds until ctx is done.
func reportCounts(ctx context.Context, co *coordinator.Coordinator, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := co.Counts(ctx)
			if err != nil {
				logger.Warn("failed to gather counts for metrics", zap.Error(err))
				continue
			}
			m.SetCounts(counts.Total, counts.Succeeded, counts.InProgress, counts.Available, counts.Failed, counts.Error)
			m.WorkersConnected.Set(float64(co.ActiveConnections()))
			m.LifecycleState.Set(float64(co.Lifecycle()))
		}
	}
}

func buildStore(ctx context.Context, cfg config.Persistence, logger *zap.Logger) (store.Store, error) {
	return buildStoreFromHandlerConfig(ctx, persistenceConfigMap(cfg), logger)
}

// buildStoreFromHandlerConfig constructs a store.Store from a raw
// handler-config map, the same shape server.persistence and a
// SaveResourcesFilter's "handler" block both use, so either one can name
// any supported persistence class.
func buildStoreFromHandlerConfig(ctx context.Context, cfg map[string]any, logger *zap.Logger) (store.Store, error) {
	class, _ := cfg["class"].(string)
	switch class {
	case "", "memory":
		return memory.New(memory.Config{
			UniqueResourceID:  boolOpt(cfg, "uniqueResourceId"),
			OnDuplicateUpdate: boolOpt(cfg, "onDuplicateUpdate"),
		}), nil

	case "file":
		var format file.Format
		switch stringOpt(cfg, "filetype") {
		case "json":
			format = file.JSONFormat{}
		case "csv", "":
			format = file.CSVFormat{}
		}
		return file.New(file.Config{
			Config: memory.Config{
				UniqueResourceID:  boolOpt(cfg, "uniqueResourceId"),
				OnDuplicateUpdate: boolOpt(cfg, "onDuplicateUpdate"),
			},
			Path:   stringOpt(cfg, "filename"),
			Format: format,
			Schema: file.ColumnSchema{
				IDColumn:     stringOpt(cfg, "resourceIdColumn"),
				StatusColumn: stringOpt(cfg, "statusColumn"),
			},
			SaveTimeDelta: time.Duration(intOpt(cfg, "saveTimeDelta")) * time.Second,
			Logger:        logger,
		})

	case "rollover":
		var format file.Format
		switch stringOpt(cfg, "filetype") {
		case "json":
			format = file.JSONFormat{}
		case "csv", "":
			format = file.CSVFormat{}
		}
		return rollover.New(rollover.Config{
			BasePath: stringOpt(cfg, "filename"),
			FileConfig: file.Config{
				Config: memory.Config{
					UniqueResourceID:  boolOpt(cfg, "uniqueResourceId"),
					OnDuplicateUpdate: boolOpt(cfg, "onDuplicateUpdate"),
				},
				Format: format,
				Schema: file.ColumnSchema{
					IDColumn:     stringOpt(cfg, "resourceIdColumn"),
					StatusColumn: stringOpt(cfg, "statusColumn"),
				},
				SaveTimeDelta: time.Duration(intOpt(cfg, "saveTimeDelta")) * time.Second,
				Logger:        logger,
			},
			MaxSizeBytes: int64(intOpt(cfg, "sizeThreshold")),
			MaxResources: intOpt(cfg, "amountThreshold"),
		})

	case "dbstore":
		driver := dbstore.DriverSQLite
		if stringOpt(cfg, "driver") == "postgres" {
			driver = dbstore.DriverPostgres
		}
		return dbstore.New(ctx, dbstore.Config{
			Driver:            driver,
			DSN:               stringOpt(cfg, "connargs"),
			Table:             stringOpt(cfg, "table"),
			PKColumn:          stringOpt(cfg, "primaryKeyColumn"),
			IDColumn:          stringOpt(cfg, "resourceIdColumn"),
			StatusColumn:      stringOpt(cfg, "statusColumn"),
			UniqueResourceID:  boolOpt(cfg, "uniqueResourceId"),
			OnDuplicateUpdate: boolOpt(cfg, "onDuplicateUpdate"),
			SelectCacheSize:   intOpt(cfg, "selectCacheSize"),
			Logger:            logger,
		})

	default:
		return nil, fmt.Errorf("coordinator: unknown persistence class %q", class)
	}
}

func buildFilterRegistry(logger *zap.Logger) *filter.Registry {
	registry := filter.NewRegistry()
	registry.Register("SaveResourcesFilter", filter.NewSaveResourcesFilterFactory(func(handlerCfg map[string]any) (store.Store, error) {
		return buildStoreFromHandlerConfig(context.Background(), handlerCfg, logger)
	}))
	return registry
}

func persistenceConfigMap(cfg config.Persistence) map[string]any {
	return map[string]any{
		"class":             cfg.Class,
		"filename":          cfg.Filename,
		"filetype":          cfg.Filetype,
		"resourceIdColumn":  cfg.ResourceIDColumn,
		"statusColumn":      cfg.StatusColumn,
		"saveTimeDelta":     cfg.SaveTimeDelta,
		"uniqueResourceId":  cfg.UniqueResourceID,
		"onDuplicateUpdate": cfg.OnDuplicateUpdate,
		"sizeThreshold":     cfg.SizeThreshold,
		"amountThreshold":   cfg.AmountThreshold,
		"connargs":          cfg.ConnArgs,
		"table":             cfg.Table,
		"primaryKeyColumn":  cfg.PrimaryKeyColumn,
		"selectCacheSize":   cfg.SelectCacheSize,
	}
}

func filterConfigMap(spec config.Filter) map[string]any {
	out := make(map[string]any, len(spec.Options)+3)
	for k, v := range spec.Options {
		out[k] = v
	}
	out["name"] = spec.Name
	out["parallel"] = spec.Parallel
	return out
}

func boolOpt(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

func stringOpt(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func intOpt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
