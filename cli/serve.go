package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/agentrelay/daemon"
	relayotel "github.com/petal-labs/agentrelay/otel"
	"github.com/petal-labs/agentrelay/server"
	"github.com/petal-labs/agentrelay/ui"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP server",
		RunE:  runServe,
	}

	addConfigFlags(cmd)
	cmd.Flags().IntP("port", "p", daemon.DefaultPort, "Listen port")
	cmd.Flags().String("host", daemon.DefaultHost, "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", server.DefaultMaxBody, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 180*time.Second, "HTTP write timeout (event streams are exempt)")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	cmd.Flags().Bool("no-ui", false, "Do not serve the web console at /")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	if err != nil {
		return err
	}
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}

	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := relayotel.Setup(ctx, relayotel.SetupConfig{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	meter := otelapi.GetMeterProvider().Meter("agentrelay/agent")
	observer, err := relayotel.NewDispatchObserver(meter, otelapi.GetTracerProvider().Tracer("agentrelay/agent"))
	if err != nil {
		return exitError(exitRuntime, "initializing dispatch observability: %v", err)
	}

	rt, err := newAgentRuntime(cfg, logger, observer)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() { _ = rt.Close() }()

	gauge, err := relayotel.RegisterObserverGauge(meter, rt.broadcaster.Len)
	if err != nil {
		return exitError(exitRuntime, "registering observer gauge: %v", err)
	}
	defer func() { _ = gauge.Unregister() }()

	if cfg.Summarize.Endpoint == "" {
		logger.Warn("summarize endpoint not configured; summarize calls will fail", "env", daemon.EnvSummarizeEndpoint)
	}

	var console fs.FS
	if noUI, _ := cmd.Flags().GetBool("no-ui"); !noUI {
		if console, err = ui.DistFS(); err != nil {
			return exitError(exitRuntime, "loading web console: %v", err)
		}
	}

	srv := server.NewServer(server.ServerConfig{
		Dispatcher:  rt.dispatcher,
		Registry:    rt.registry,
		Broadcaster: rt.broadcaster,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxBody:     cfg.Server.MaxBody,
		Logger:      logger,
		UI:          console,
	})

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return exitError(exitRuntime, "listen on %s: %v", cfg.Addr(), err)
	}

	httpServer := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "agentrelay listening on %s\n", listener.Addr())
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		// Event streams only return once their observers are closed. Close
		// does not wait for in-flight writes.
		_ = rt.broadcaster.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return exitError(exitRuntime, "shutdown error: %v", err)
			}
			logger.Warn("graceful shutdown timed out; closing remaining connections", "timeout", shutdownTimeout)
			_ = httpServer.Close()
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// applyServeFlags lets explicitly set flags override file and env config.
func applyServeFlags(cmd *cobra.Command, cfg *daemon.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Listen.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Listen.Host, _ = flags.GetString("host")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBody, _ = flags.GetInt64("max-body")
	}
}
