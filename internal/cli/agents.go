package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/spf13/cobra"
)

func newAgentsCmd(a *app) *cobra.Command {
	var showKinds bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent roster debates select from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showKinds {
				for _, k := range agent.DefaultRegistry().Kinds() {
					cmd.Println(k)
				}
				return nil
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			roster := rosterOf(cfg)
			source := "config"
			if len(cfg.Agents) == 0 {
				source = "built-in"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tROLE\tKIND\tEXPERTISE")
			for _, s := range roster {
				kind := s.Kind
				if kind == "" {
					kind = agent.KindModel
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Role, kind, strings.Join(s.Expertise, ", "))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			cmd.PrintErrf("%d agents (%s roster)\n", len(roster), source)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showKinds, "kinds", false, "list the registered agent kinds instead")
	return cmd
}
