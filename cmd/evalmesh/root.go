package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/artifact/s3"
	"github.com/hupe1980/evalmesh/config"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/metrics"
)

// app holds the state shared by all subcommands.
type app struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
	metrics    string

	cfg       *config.Config
	logger    *logging.StructuredLogger
	collector *metrics.Collector
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "evalmesh",
		Short:         "Run code translation tasks against LLM providers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML catalog merged over the built-in models")
	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading credentials")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override the configured log format (text, json)")
	cmd.PersistentFlags().StringVar(&a.metrics, "metrics-addr", "", "serve Prometheus metrics on this address while tasks run")

	cmd.AddCommand(runCmd(a))
	cmd.AddCommand(batchCmd(a))
	cmd.AddCommand(modelsCmd(a))
	return cmd
}

func (a *app) load() error {
	if err := config.LoadEnv(a.envFiles...); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.metrics != "" {
		cfg.MetricsAddr = a.metrics
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger().WithComponent("evalmesh")
	return nil
}

// dispatcher builds the dispatcher, observed by the metrics collector when
// metrics are enabled.
func (a *app) dispatcher() *dispatch.Dispatcher {
	if a.collector == nil {
		return a.cfg.NewDispatcher(a.logger)
	}
	return a.cfg.NewDispatcher(a.logger, func(o *config.ProviderOptions) { o.Observer = a.collector })
}

// observer returns the collector as a loop observer, or nil without metrics.
func (a *app) observer() agent.Observer {
	if a.collector == nil {
		return nil
	}
	return a.collector
}

// serveMetrics starts the metrics endpoint if an address is configured. The
// returned function shuts it down.
func (a *app) serveMetrics() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}
	if a.collector == nil {
		a.collector = metrics.New(nil)
	}

	srv := metrics.NewServer(a.cfg.MetricsAddr, nil)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics.server.failed", "addr", srv.Addr, "error", err.Error())
		}
	}()
	a.logger.Info("metrics.server.started", "addr", srv.Addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// storeFlags selects where transcripts are written.
type storeFlags struct {
	bucket string
	prefix string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.bucket, "s3-bucket", "", "write transcripts to this S3 bucket instead of the output directory")
	cmd.Flags().StringVar(&f.prefix, "s3-prefix", "", "key prefix inside the S3 bucket")
}

func (f *storeFlags) open(ctx context.Context, outputDir string) (artifact.Store, error) {
	if f.bucket == "" {
		return artifact.NewFileStore(outputDir), nil
	}
	store, err := s3.NewStore(ctx, f.bucket, func(o *s3.Options) { o.Prefix = f.prefix })
	if err != nil {
		return nil, fmt.Errorf("open s3 store: %w", err)
	}
	return store, nil
}
