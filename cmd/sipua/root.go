package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tanbro/sipua/internal/logging"
	"github.com/tanbro/sipua/pkg/sip/config"
	"github.com/tanbro/sipua/pkg/sip/stack"
)

// app is the state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configPath string

	cfg     config.Config
	log     *slog.Logger
	closers []io.Closer

	registry *prometheus.Registry
	server   *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "sipua",
		Short: "sipua - SIP user agent",
		Long: `sipua places and answers SIP calls, registers with a registrar and
exchanges MESSAGE requests. Settings come from a YAML file, SIPUA_*
environment variables and the flags below, in increasing precedence.`,
		Version:           config.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, dev, json, text)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("metrics.address", flags.Lookup("metrics-addr"))

	root.AddCommand(
		newListenCmd(a),
		newCallCmd(a),
		newRegisterCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration, builds the logger and starts the metrics
// endpoint when an address was given on the command line.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWith(a.v, a.configPath)
	if err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Changed {
		cfg.Metrics.Enabled = true
	}
	a.cfg = cfg

	log, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	a.log = log
	a.closers = append(a.closers, closer)
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		a.serveMetrics()
	}
	return nil
}

func (a *app) serveMetrics() {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "address", a.cfg.Metrics.Address, "error", err)
		}
	}()
	a.log.Info("serving metrics", "address", a.cfg.Metrics.Address)
}

func (a *app) teardown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// newStack builds a Context for l, registering its metrics when enabled.
func (a *app) newStack(l stack.Listener) (*stack.Context, error) {
	opts := []stack.Option{stack.WithLogger(a.log)}
	if a.registry != nil {
		opts = append(opts, stack.WithRegisterer(a.registry))
	}
	return stack.New(a.cfg, l, opts...)
}
