package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/conduitproj/conduit/logx"
)

// ServerConfig describes how to reach one MCP server. Exactly one of Command
// or URL must be set. A config is immutable once read; it is the source of
// truth for every (re)connection attempt.
type ServerConfig struct {
	Name        string            `json:"-" mapstructure:"-"`
	Command     string            `json:"command,omitempty" mapstructure:"command"`
	Args        []string          `json:"args,omitempty" mapstructure:"args"`
	Env         map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL         string            `json:"url,omitempty" mapstructure:"url"`
	AutoConnect *bool             `json:"autoConnect,omitempty" mapstructure:"autoConnect"`
}

// ShouldAutoConnect reports whether the server takes part in eager and
// background connection batches. Unset means true.
func (c ServerConfig) ShouldAutoConnect() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// Validate checks that the config selects exactly one transport.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server config has no name")
	}
	hasCommand := c.Command != ""
	hasURL := c.URL != ""
	switch {
	case hasCommand && hasURL:
		return fmt.Errorf("server %s: exactly one of command or url expected, got both", c.Name)
	case !hasCommand && !hasURL:
		return fmt.Errorf("server %s: exactly one of command or url expected, got neither", c.Name)
	}
	if hasURL {
		parsed, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("server %s: invalid url: %w", c.Name, err)
		}
		switch parsed.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("server %s: unsupported url scheme %q", c.Name, parsed.Scheme)
		}
	}
	return nil
}

// configFile is the on-disk shape: a map of server name to definition.
type configFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// LoadServerConfigs loads server configurations from a JSON config file in
// the conventional mcpServers format. Results are sorted by name so callers
// see a deterministic order.
func LoadServerConfigs(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return configsFromMap(file.MCPServers)
}

// DecodeServerConfigs decodes a map-shaped configuration (from viper or any
// other loose source) into validated server configs.
func DecodeServerConfigs(raw map[string]interface{}) ([]ServerConfig, error) {
	servers := make(map[string]ServerConfig, len(raw))
	for name, value := range raw {
		var cfg ServerConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(value); err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		servers[name] = cfg
	}
	return configsFromMap(servers)
}

// configsFromMap names, validates and orders the config set.
func configsFromMap(servers map[string]ServerConfig) ([]ServerConfig, error) {
	configs := make([]ServerConfig, 0, len(servers))
	for name, cfg := range servers {
		cfg.Name = name
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// NewTransport builds the right transport for a server config: stdio for
// command servers, WebSocket for ws(s) URLs, SSE for http(s) URLs.
func NewTransport(cfg ServerConfig, logger logx.Logger, options ...TransportOption) (ClientTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Command != "" {
		opts := options
		if len(cfg.Env) > 0 {
			opts = append(append([]TransportOption{}, options...), WithEnv(cfg.Env))
		}
		return NewStdioTransport(cfg.Command, cfg.Args, logger, opts...), nil
	}

	parsed, _ := url.Parse(cfg.URL)
	if strings.HasPrefix(parsed.Scheme, "ws") {
		return NewWebSocketTransport(cfg.URL, logger, options...)
	}
	return NewSSETransport(cfg.URL, logger, options...)
}
