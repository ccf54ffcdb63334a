package cli

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/petal-labs/agentrelay/agent"
	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/tool"
)

// NewActCmd creates the "act" subcommand, which dispatches one action
// in-process.
func NewActCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "act <action>",
		Short: "Run one action and print its result envelope",
		Args:  cobra.ExactArgs(1),
		RunE:  runAct,
	}

	addConfigFlags(cmd)
	cmd.Flags().String("input", "", "Action input as a JSON object")
	cmd.Flags().String("input-file", "", "Read action input JSON from a file")
	cmd.Flags().Bool("events", false, "Print lifecycle events to stderr")

	return cmd
}

type actEnvelope struct {
	OK        bool   `json:"ok"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func runAct(cmd *cobra.Command, args []string) error {
	input, err := readActInput(cmd)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	if err != nil {
		return err
	}

	rt, err := newAgentRuntime(cfg, logger, nil)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() { _ = rt.Close() }()

	var obs *bus.Observer
	if printEvents, _ := cmd.Flags().GetBool("events"); printEvents {
		var mu sync.Mutex
		enc := json.NewEncoder(cmd.ErrOrStderr())
		obs = rt.broadcaster.Subscribe(bus.WriterFunc(func(e bus.Event) error {
			if e.Type == bus.EventHello || e.Type == bus.EventHeartbeat {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(e)
		}))
	}

	res := rt.dispatcher.Dispatch(cmd.Context(), agent.Request{
		Action: args[0],
		Input:  input,
	})
	// Flushes queued lifecycle events before the result is printed.
	rt.broadcaster.Unsubscribe(obs)

	envelope := actEnvelope{OK: res.OK(), RequestID: res.RequestID}
	if res.OK() {
		envelope.Result = res.Output
	} else {
		envelope.Error = res.Failure.Message
		envelope.Code = res.Failure.Code
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope); err != nil {
		return exitError(exitRuntime, "writing result: %v", err)
	}

	if res.OK() {
		return nil
	}
	code := exitRuntime
	if res.UnknownAction() || res.Failure.Code == tool.ToolErrorCodeValidationFailed {
		code = exitValidation
	}
	return exitError(code, "%s", res.Failure.Message)
}

func readActInput(cmd *cobra.Command) (any, error) {
	raw, _ := cmd.Flags().GetString("input")
	path, _ := cmd.Flags().GetString("input-file")
	if raw != "" && path != "" {
		return nil, exitError(exitInputParse, "--input and --input-file are mutually exclusive")
	}
	if path != "" {
		// #nosec G304 -- path is an explicit CLI argument.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exitError(exitInputParse, "reading input file: %v", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var input any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, exitError(exitInputParse, "invalid input JSON: %v", err)
	}
	if _, ok := input.(map[string]any); !ok && input != nil {
		return nil, exitError(exitInputParse, "input must be a JSON object, got %T", input)
	}
	return input, nil
}
