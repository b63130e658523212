package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/squidspace/sqs/engine/filter/builtin"
)

// ExplainCmd prints the documentation of the built-in filters.
func ExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain [filter]",
		Short: "Describe the built-in filters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := builtin.MustRegistry()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, kind := range reg.Kinds() {
					f, err := reg.Lookup(string(kind))
					if err != nil {
						return err
					}
					summary, _, _ := strings.Cut(f.Doc(), "\n")
					fmt.Fprintf(out, "%-14s %s\n", kind, summary)
				}
				return nil
			}
			f, err := reg.Lookup(args[0])
			if err != nil {
				return fmt.Errorf("unknown filter %q (known: %s)", args[0], joinKinds(reg.Kinds()))
			}
			fmt.Fprintln(out, strings.TrimSpace(f.Doc()))
			return nil
		},
	}
}

func joinKinds[K ~string](kinds []K) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
