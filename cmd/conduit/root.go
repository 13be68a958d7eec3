package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/runtime"
)

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "conduit",
		Short:         "MCP client runtime: connect to, health-check and invoke MCP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to the mcpServers config file (default mcp_servers.json)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Duration("timeout", 30*time.Second, "per-operation timeout")
	v.BindPFlag("config", flags.Lookup("config"))
	v.BindPFlag("verbose", flags.Lookup("verbose"))
	v.BindPFlag("timeout", flags.Lookup("timeout"))
	v.SetEnvPrefix("CONDUIT")
	v.AutomaticEnv()

	cmd.AddCommand(
		newServersCommand(v),
		newToolsCommand(v),
		newCallCommand(v),
		newResourceCommand(v),
		newVersionCommand(),
	)
	return cmd
}

func newLogger(v *viper.Viper) logx.Logger {
	logger := logx.NewLoggerWithPrefix("conduit")
	if v.GetBool("verbose") {
		logger.SetLevel(logx.LevelDebug)
	} else {
		logger.SetLevel(logx.LevelWarn)
	}
	return logger
}

func loadConfigs(v *viper.Viper) ([]client.ServerConfig, error) {
	path := v.GetString("config")
	if path == "" {
		path = "mcp_servers.json"
	}
	configs, err := client.LoadServerConfigs(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return configs, nil
}

// newConnectedRuntime builds a runtime and eagerly connects every
// auto-connect server from the config file.
func newConnectedRuntime(ctx context.Context, v *viper.Viper) (*runtime.Runtime, []runtime.ConnectResult, error) {
	configs, err := loadConfigs(v)
	if err != nil {
		return nil, nil, err
	}

	auto := make([]client.ServerConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.ShouldAutoConnect() {
			auto = append(auto, cfg)
		}
	}

	rt := runtime.New(runtime.Options{Logger: newLogger(v)})
	rt.Start()
	results := rt.Connect(ctx, auto)
	return rt, results, nil
}

func opTimeout(v *viper.Viper) time.Duration {
	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return timeout
}
