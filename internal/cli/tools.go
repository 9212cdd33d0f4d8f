package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/toolregistry"
)

var toolsJSON bool

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools this gateway exposes",
		Long:  `List the tools exposed after the configured allow and deny lists are applied.`,
		RunE:  runTools,
	}
	cmd.Flags().BoolVar(&toolsJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	registry := toolregistry.NewDefault(&toolregistry.Policy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny})
	tools := registry.List()
	out := cmd.OutOrStdout()

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROVIDER\tCATEGORY\tAPPROVAL\tREQUIRED")
	for _, t := range tools {
		approval := "no"
		if t.ApprovalRequired {
			approval = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Provider, t.Category, approval, strings.Join(t.RequiredParams(), ","))
	}
	return w.Flush()
}
