package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCallCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "call <server> <tool> [json-args]",
		Short: "Invoke one tool and print its content",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]interface{}
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
					return fmt.Errorf("parse tool arguments: %w", err)
				}
			}

			rt, _, err := newConnectedRuntime(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout(v))
			defer cancel()

			result, err := rt.CallTool(ctx, args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			if result.IsError {
				fmt.Fprintln(cmd.ErrOrStderr(), "tool reported an error:")
			}
			for _, content := range result.Content {
				switch content.Type {
				case "text":
					fmt.Fprintln(cmd.OutOrStdout(), content.Text)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "[%s content, %d bytes]\n", content.Type, len(content.Data))
				}
			}
			return nil
		},
	}
}
