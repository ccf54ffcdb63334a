package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/agentrelay/agent"
	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/daemon"
	"github.com/petal-labs/agentrelay/tool"
)

// agentRuntime is the in-process wiring shared by serve and act.
type agentRuntime struct {
	registry    *tool.Registry
	broadcaster *bus.Broadcaster
	dispatcher  *agent.Dispatcher
}

func newAgentRuntime(cfg daemon.Config, logger *slog.Logger, observer agent.Observer) (*agentRuntime, error) {
	registry, err := tool.NewBuiltinRegistry(cfg.BuiltinTools())
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}
	broadcaster := bus.NewBroadcaster(bus.BroadcasterConfig{
		HeartbeatInterval: cfg.Events.HeartbeatInterval,
		Logger:            logger,
	})
	dispatcher, err := agent.NewDispatcher(agent.Config{
		Registry: registry,
		Events:   broadcaster,
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		_ = broadcaster.Close()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return &agentRuntime{
		registry:    registry,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
	}, nil
}

func (r *agentRuntime) Close() error {
	return r.broadcaster.Close()
}

// addConfigFlags registers the flags every command uses to locate config and
// pick a log level.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to agentrelay.yaml (default: ./agentrelay.yaml, then ~/.agentrelay/config.yaml)")
	cmd.Flags().String("log-level", "", "Log level: debug | info | warn | error (overrides config)")
}

// loadConfig resolves configuration for cmd. Config errors are validation
// failures.
func loadConfig(cmd *cobra.Command) (daemon.Config, string, error) {
	explicitPath, _ := cmd.Flags().GetString("config")
	cfg, path, err := daemon.Load(explicitPath)
	if err != nil {
		return daemon.Config{}, "", exitError(exitValidation, "loading config: %v", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); strings.TrimSpace(level) != "" {
		cfg.Log.Level = level
	}
	return cfg, path, nil
}

// newLogger returns a text logger writing to w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func parseLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	clean := strings.TrimSpace(level)
	if clean == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(clean)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}
