package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newResourceCommand(v *viper.Viper) *cobra.Command {
	var showStats bool

	cmd := &cobra.Command{
		Use:   "resource <server> <uri>",
		Short: "Read one resource through the cache and print its contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := newConnectedRuntime(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout(v))
			defer cancel()

			result, err := rt.GetResource(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, contents := range result.Contents {
				if contents.Text != "" {
					fmt.Fprintln(cmd.OutOrStdout(), contents.Text)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s blob, %s]\n",
					contents.MimeType, humanize.Bytes(uint64(len(contents.Blob))))
			}
			if showStats {
				fmt.Fprintf(cmd.ErrOrStderr(), "cache: %s\n", rt.CacheStats())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showStats, "stats", false, "print cache statistics after the read")
	return cmd
}
