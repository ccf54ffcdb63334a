package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/agentrelay/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available actions and their inputs",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	addConfigFlags(cmd)
	cmd.Flags().Bool("json", false, "Print tool descriptors as JSON")
	return cmd
}

type toolListing struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Inputs      map[string]tool.FieldSpec `json:"inputs"`
}

func runTools(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	registry, err := tool.NewBuiltinRegistry(cfg.BuiltinTools())
	if err != nil {
		return exitError(exitRuntime, "building tool registry: %v", err)
	}
	descriptors := registry.List()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		listing := make([]toolListing, 0, len(descriptors))
		for _, desc := range descriptors {
			listing = append(listing, toolListing{Name: desc.Name, Description: desc.Description, Inputs: desc.Inputs})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tINPUTS\tDESCRIPTION")
	for _, desc := range descriptors {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", desc.Name, describeInputs(desc.Inputs), desc.Description)
	}
	return writer.Flush()
}

// describeInputs renders an input contract compactly, e.g.
// "max_tokens:integer[64..2048]=256,text:string!".
func describeInputs(inputs map[string]tool.FieldSpec) string {
	if len(inputs) == 0 {
		return "-"
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		spec := inputs[name]
		var b strings.Builder
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(spec.Type)
		if spec.Format != "" {
			b.WriteString("(" + spec.Format + ")")
		}
		if spec.Min != nil || spec.Max != nil {
			fmt.Fprintf(&b, "[%s..%s]", formatBound(spec.Min), formatBound(spec.Max))
		}
		if spec.Default != nil {
			fmt.Fprintf(&b, "=%v", spec.Default)
		}
		if spec.Required {
			b.WriteString("!")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ",")
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
