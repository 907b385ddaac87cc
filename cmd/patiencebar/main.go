package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/config"
	"github.com/ivoronin/patiencebar/internal/logging"
	"github.com/ivoronin/patiencebar/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
)

// closeTimeout bounds how long a command waits for the bar to render
// the events still queued when its work is done.
const closeTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()

	root := &cobra.Command{
		Use:          "patiencebar",
		Short:        "Terminal progress bar fed by concurrent producers",
		Version:      version + " (" + commit + ")",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a config file (yaml, json or toml)")
	root.PersistentFlags().Bool("debug", false, "Enable development logging on stderr")
	root.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9100)")

	root.AddCommand(newDemoCmd(a))
	root.AddCommand(newHashCmd(a))
	root.AddCommand(newPipeCmd(a))
	root.AddCommand(newWorkerCmd(a))

	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// app carries what every command shares once flags are parsed.
type app struct {
	configPath string
	output     io.Writer // bar output; stdout when nil

	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
	server   *metrics.Server
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.recorder, err = metrics.NewRecorder(a.registry)
	return err
}

// serveMetrics starts the metrics endpoint if an address is configured.
func (a *app) serveMetrics() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	a.server = metrics.NewServer(a.cfg.Metrics.Addr, a.registry, logging.Named(a.logger, "metrics"))
	return a.server.Start()
}

// barOptions returns the configured bar options plus logging and metrics.
// Options appended by the caller take precedence.
func (a *app) barOptions(extra ...bar.Option) []bar.Option {
	opts := append(a.cfg.BarOptions(),
		bar.WithLogger(logging.Named(a.logger, "bar")),
		bar.WithObserver(a.recorder),
	)
	if a.output != nil {
		opts = append(opts, bar.WithOutput(a.output))
	}
	return append(opts, extra...)
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
