package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newToolsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server]",
		Short: "List the tools offered by one server, or by all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := newConnectedRuntime(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout(v))
			defer cancel()

			byServer, err := rt.ListTools(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if _, ok := byServer[args[0]]; !ok {
					return fmt.Errorf("no connected server named %q", args[0])
				}
			}

			names := make([]string, 0, len(byServer))
			for name := range byServer {
				if len(args) == 1 && name != args[0] {
					continue
				}
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
			for _, name := range names {
				for _, tool := range byServer[name] {
					fmt.Fprintf(w, "%s\t%s\t%s\n", name, tool.Name, tool.Description)
				}
			}
			return w.Flush()
		},
	}
}
