package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/depotjobs/internal/api"
	"github.com/seantiz/depotjobs/internal/config"
	"github.com/seantiz/depotjobs/internal/datastore"
	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/jobs/purge"
	"github.com/seantiz/depotjobs/internal/jobs/recompress"
	"github.com/seantiz/depotjobs/internal/jobs/report"
	"github.com/seantiz/depotjobs/internal/runner"
)

const stopTimeout = 30 * time.Second

var flagConfigFilePath string // value of --config flag

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", os.Getenv("DEPOTJOBS_CONFIG_FILE"), "YAML config file to load")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("depotjobs failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "depotjobs",
	Short:        "Asynchronous job service with a job data depot",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the job engine and HTTP API",
	RunE:  doServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("depotjobs: version info not available")
			return
		}

		fmt.Printf("depotjobs: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			}
		}
	},
}

func doServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFrom(flagConfigFilePath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("depotjobs: starting",
		"listen_addr", cfg.ListenAddr,
		"storage", cfg.Storage.Backend,
		"workers", cfg.Engine.Workers,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := cfg.Storage.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}()

	reg := runner.NewRegistry()
	eng := engine.NewEngine(reg, datastore.New(backend, logger), logger, cfg.Engine.Options())
	reg.MustRegister(report.NewRunner(eng), purge.NewRunner(eng), recompress.NewRunner())

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := api.NewServer(cfg.ListenAddr, eng, reg, logger)
	serveErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("stop engine", "error", err)
	}

	return serveErr
}
