package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduitproj/conduit/client"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the conduit version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "conduit %s\n", client.Version)
			return err
		},
	}
}
