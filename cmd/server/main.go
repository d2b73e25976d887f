package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tablecomposer/internal/api"
	"tablecomposer/internal/canvas"
	"tablecomposer/internal/db"
	_ "tablecomposer/internal/db/extractors"
	"tablecomposer/internal/logger"
	"tablecomposer/internal/store"
	"tablecomposer/pkg/config"
)

const defaultPort = 8080

type options struct {
	configPath string
	driver     string
	dsn        string
	port       int
	timeout    int
	webDir     string
	storePath  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "tablecomposer",
		Short:        "Compose target tables from source database fields",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", filepath.Join(".", "configs", "example.yaml"), "path to config YAML")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "db driver override (postgres,mysql,sqlite,sqlserver,godror)")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "dsn override")
	root.PersistentFlags().IntVar(&opts.timeout, "timeout", 10, "db timeout seconds")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serve.Flags().IntVar(&opts.port, "port", 0, fmt.Sprintf("http port (overrides config, default %d)", defaultPort))
	serve.Flags().StringVar(&opts.webDir, "web", filepath.Join(".", "web"), "web ui directory")
	serve.Flags().StringVar(&opts.storePath, "store", "", "sqlite file for saved canvases (overrides config)")

	tables := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the source database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(cmd, opts)
		},
	}

	root.AddCommand(serve, tables)
	return root
}

// loadConfig reads the config file (optional) and applies CLI overrides.
func loadConfig(opts *options) (config.AppConfig, error) {
	var appCfg config.AppConfig
	if opts.configPath != "" {
		logger.Info("config file %s", opts.configPath)
		if c, err := config.LoadFile(opts.configPath); err == nil {
			appCfg = c
		} else {
			logger.Error("error reading config file: %v", err)
		}
	}
	if opts.driver != "" && opts.dsn != "" {
		appCfg.Database = config.DBConfig{Type: opts.driver, DSN: opts.dsn}
	}
	if opts.storePath != "" {
		appCfg.Store.Path = opts.storePath
	}
	appCfg.ApplyDefaults()
	if err := appCfg.Validate(); err != nil {
		return appCfg, err
	}
	if !logger.SetLevel(appCfg.Log.Level) {
		logger.Warn("unknown log level %q", appCfg.Log.Level)
	}
	return appCfg, nil
}

// openSource connects to the configured source database, if any.
func openSource(appCfg config.AppConfig, timeout int) (*db.Source, error) {
	if appCfg.Database.Type == "" {
		return nil, nil
	}
	driver, dsn, err := config.BuildDriverAndDSN(appCfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error building DSN: %w", err)
	}
	return db.Open(driver, dsn, timeout)
}

func runServe(ctx context.Context, opts *options) error {
	appCfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	port := cmp.Or(opts.port, appCfg.Server.Port, defaultPort)

	var catalog api.Catalog
	source, err := openSource(appCfg, opts.timeout)
	if err != nil {
		logger.Error("source database unavailable: %v", err)
	} else if source != nil {
		defer source.Close()
		catalog = source
	}

	var persister canvas.Persister
	if appCfg.Store.Path != "" {
		st, err := store.Open(appCfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		persister = st
	}

	srv := api.NewServer(appCfg.Canvas, catalog, persister, api.NewMetrics("tablecomposer"))
	router := srv.Routes()
	router.Handle("/*", http.FileServer(http.Dir(opts.webDir)))

	addr := fmt.Sprintf(":%d", port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening on %s, serving %s", addr, opts.webDir)
	logger.Info("registered dialects: %v", db.RegisteredDialects())
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Sync()
	return nil
}

func runTables(cmd *cobra.Command, opts *options) error {
	appCfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	source, err := openSource(appCfg, opts.timeout)
	if err != nil {
		return err
	}
	if source == nil {
		return errors.New("no source database configured; use --driver and --dsn or the config file")
	}
	defer source.Close()

	tables, err := source.ListTables(cmd.Context())
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Fprintln(cmd.OutOrStdout(), t.ID())
	}
	return nil
}
