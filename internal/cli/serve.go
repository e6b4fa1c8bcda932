package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/changefeed/internal/engine"
	"github.com/roach88/changefeed/internal/metrics"
)

// shutdownTimeout bounds how long the metrics server may take to drain.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string
	Interval    time.Duration
	BatchSize   int

	// ready, when set, receives the metrics listener address once serving
	// (empty when metrics are disabled). Used by tests.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background promotion loop",
		Long: `Run the promotion loop until interrupted.

Every interval, each shard with staged entries is drained into the feed in
batches. Prometheus metrics are served on /metrics unless the metrics address
is empty. SIGINT or SIGTERM stops the loop after the current batch.

Example:
  changefeed serve --db ./changefeed.db
  changefeed serve --interval 200ms --batch-size 500 --metrics-addr 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "metrics listen address (defaults to metrics.addr, empty string disables)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "promotion interval (defaults to promotion.interval)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "promotion batch size (defaults to promotion.batch_size)")

	return cmd
}

func serve(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	interval := s.cfg.Promotion.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	batchSize := s.cfg.Promotion.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}
	addr := s.cfg.Metrics.Addr
	if cmd.Flags().Changed("metrics-addr") {
		addr = opts.MetricsAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promoter := engine.NewPromoter(s.store,
		engine.WithLogger(s.logger),
		engine.WithMetrics(metrics.NewPrometheus(reg)),
	)
	runner := engine.NewRunner(promoter, interval, batchSize)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	serverErr := make(chan error, 1)
	listening := ""
	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		listening = ln.Addr().String()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
		s.logger.Info("metrics listening", "addr", listening)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Promoting every %s in batches of %d. Press Ctrl-C to stop.\n", interval, batchSize)
	if opts.ready != nil {
		opts.ready <- listening
	}

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	select {
	case err := <-serverErr:
		cancel()
		<-runErr
		return WrapExitError(ExitFailure, "metrics server failed", err)
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "promotion runner failed", err)
		}
	}

	s.logger.Info("promotion runner stopped gracefully")
	return nil
}
