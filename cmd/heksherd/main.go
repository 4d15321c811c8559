// Package main contains the cli implementation of the Heksher service. It
// uses cobra for cli tool implementation, with a root command (serve by
// default) plus serve/migrate/version subcommands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"heksher/internal/config"
	"heksher/internal/dbstore"
	"heksher/internal/features"
	"heksher/internal/health"
	"heksher/internal/httpapi"
	"heksher/internal/logging"
	"heksher/internal/query"
	"heksher/internal/rules"
	"heksher/internal/schemabootstrap"
	"heksher/internal/settings"
)

type rootFlags struct {
	configFile string
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "heksherd",
		Short: "Heksher context-settings service",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a TOML config file")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default action)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
}

func migrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create Heksher's own schema if it does not exist yet, then exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrate(flags)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the heksherd version",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

// Version is the heksherd build version, reported by the version
// subcommand and the /api/health response.
const Version = "dev"

func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if flags.configFile != "" {
		var err error
		cfg, err = config.LoadFile(cfg, flags.configFile)
		if err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.LoadEnv(cfg)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runMigrate(flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.DocOnly {
		fmt.Println("DOC_ONLY mode: nothing to migrate")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sql.Open("mysql", cfg.DBConnectionString)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	missing, err := schemabootstrap.Plan(ctx, db)
	_ = db.Close()
	if err != nil {
		return fmt.Errorf("migrate: plan: %w", err)
	}
	if len(missing) == 0 {
		fmt.Println("schema already up to date")
		return nil
	}
	for _, name := range missing {
		fmt.Printf("will create table %s\n", name)
	}

	if err := schemabootstrap.Bootstrap(ctx, cfg.DBConnectionString, os.Stdout); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("schema up to date")
	return nil
}

// featureInUseHolder breaks the features<->settings import cycle: it is
// constructed before the settings.Store exists and back-filled once the
// store is wired, since features.New needs an InUseChecker before
// settings.New can accept the features.Registry it produced.
type featureInUseHolder struct {
	settings *settings.Store
}

func (h *featureInUseHolder) FeatureInUse(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	if h.settings == nil {
		return false, nil
	}
	return h.settings.FeatureInUse(ctx, tx, name)
}

// settingResolverHolder is rules.New's other half of the same cycle:
// rules.Store needs a SettingResolver before settings.Store (which
// implements it) can be constructed, because settings.New itself needs
// the rules.Store.
type settingResolverHolder struct {
	settings *settings.Store
}

func (h *settingResolverHolder) ResolveForRule(ctx context.Context, tx *sql.Tx, name string) (rules.SettingRef, error) {
	if h.settings == nil {
		return rules.SettingRef{}, fmt.Errorf("heksherd: settings store not wired yet")
	}
	return h.settings.ResolveForRule(ctx, tx, name)
}

func runServe(flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.LevelInfo)

	srv := &httpapi.Server{
		Logger:         logger,
		DocOnly:        cfg.DocOnly,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}

	if cfg.DocOnly {
		logger.Warn("starting in DOC_ONLY mode", "listen_addr", cfg.ListenAddr)
		return listenAndServe(cfg, srv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := dbstore.Open(ctx, cfg.DBConnectionString)
	cancel()
	if err != nil {
		return fmt.Errorf("heksherd: connect: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := schemabootstrap.Bootstrap(context.Background(), cfg.DBConnectionString, os.Stderr); err != nil {
		return fmt.Errorf("heksherd: bootstrap schema: %w", err)
	}

	inUse := &featureInUseHolder{}
	featuresRegistry := features.New(db, inUse)

	resolver := &settingResolverHolder{}
	rulesStore := rules.New(db, featuresRegistry, resolver)

	settingsStore := settings.New(db, featuresRegistry, rulesStore)
	inUse.settings = settingsStore
	resolver.settings = settingsStore

	reconcileCtx, reconcileCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = features.Reconcile(reconcileCtx, featuresRegistry, cfg.StartupContextFeatures, nil)
	reconcileCancel()
	if err != nil {
		return fmt.Errorf("heksherd: reconcile context features: %w", err)
	}

	sentinel := health.New(db, Version)
	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	go sentinel.Run(healthCtx)

	srv.Features = featuresRegistry
	srv.Rules = rulesStore
	srv.Settings = settingsStore
	srv.Query = query.New(db, featuresRegistry)
	srv.Health = sentinel

	logger.Info("starting", "listen_addr", cfg.ListenAddr)
	return listenAndServe(cfg, srv)
}

func listenAndServe(cfg config.Config, srv *httpapi.Server) error {
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
