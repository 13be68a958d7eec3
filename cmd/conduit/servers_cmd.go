package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServersCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect to the configured servers and print a health table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, results, err := newConnectedRuntime(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, result := range results {
				if result.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%v)\n", result.Name, result.Outcome, result.Err)
				}
			}

			rt.CheckHealth(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tSTATUS\tUPTIME\tREQUESTS\tSUCCESS\tAVG LATENCY")
			for _, m := range rt.HealthMetrics() {
				uptime := "-"
				if m.Uptime > 0 {
					uptime = humanize.RelTime(time.Now().Add(-m.Uptime), time.Now(), "", "")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
					m.Name, m.Status, uptime, m.TotalRequests, m.SuccessRate*100, m.AvgLatency.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
}
