// Package config loads engine configuration from defaults, an optional
// config file, and CLI flags, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrHelpRequested is returned by Load when -h/--help was passed, after
// Load has printed usage; the caller should exit 0 rather than treating
// it as failure.
var ErrHelpRequested = errors.New("help requested")

// Config holds runtime configuration for the engine.
type Config struct {
	// Verbose enables debug-level logging (server/verbose, -v/--verbose).
	Verbose bool
	// RulesDir is the directory scanned for *.rule files at startup and
	// written to on ADD/DELETE (server/rules, -r/--rules).
	RulesDir string
	// AssetsPattern is the topic name the asset stream consumer reads;
	// empty selects the built-in default topic (server/assets_pattern).
	AssetsPattern string
	// MetricsPattern is the topic name the regular metrics consumer reads;
	// empty selects the built-in default topic (server/metrics_pattern).
	MetricsPattern string
	// Endpoint is the message bus endpoint. Named after the original
	// agent's malamute/endpoint key; here it is the Kafka bootstrap
	// broker list (malamute/endpoint, -e/--endpoint).
	Endpoint string
	// MailboxAddr is the HTTP listen address for the mailbox protocol
	// surface (LIST/LIST2/GET/ADD/DELETE) and the /health, /metrics
	// endpoints.
	MailboxAddr string
	// PollingIntervalSeconds is the periodic ticker interval (§4.F).
	PollingIntervalSeconds int
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		Verbose:                false,
		RulesDir:               "./rules",
		AssetsPattern:          "",
		MetricsPattern:         "",
		Endpoint:               "localhost:9092",
		MailboxAddr:            ":8181",
		PollingIntervalSeconds: 30,
	}
}

// Load builds a Config from defaults, an optional config file, and CLI
// flags in args (not including argv[0]). CLI values always win over the
// config file, which always wins over the defaults above.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("flexalert", pflag.ContinueOnError)
	help := fs.BoolP("help", "h", false, "show usage and exit")
	verbose := fs.BoolP("verbose", "v", false, "enable verbose logging")
	endpoint := fs.StringP("endpoint", "e", "", "message bus endpoint")
	rulesDir := fs.StringP("rules", "r", "", "directory containing *.rule files")
	configPath := fs.StringP("config", "c", "", "path to config file")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: flexalert [flags]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if *help {
		fs.Usage()
		return nil, ErrHelpRequested
	}

	v := viper.New()
	def := Default()
	v.SetDefault("server.verbose", def.Verbose)
	v.SetDefault("server.rules", def.RulesDir)
	v.SetDefault("server.assets_pattern", def.AssetsPattern)
	v.SetDefault("server.metrics_pattern", def.MetricsPattern)
	v.SetDefault("malamute.endpoint", def.Endpoint)
	v.SetDefault("server.mailbox_addr", def.MailboxAddr)
	v.SetDefault("server.polling_interval", def.PollingIntervalSeconds)

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", *configPath, err)
		}
	}

	cfg := &Config{
		Verbose:                v.GetBool("server.verbose"),
		RulesDir:               v.GetString("server.rules"),
		AssetsPattern:          v.GetString("server.assets_pattern"),
		MetricsPattern:         v.GetString("server.metrics_pattern"),
		Endpoint:               v.GetString("malamute.endpoint"),
		MailboxAddr:            v.GetString("server.mailbox_addr"),
		PollingIntervalSeconds: v.GetInt("server.polling_interval"),
	}

	// CLI flags override the config file/defaults.
	if fs.Changed("verbose") {
		cfg.Verbose = *verbose
	}
	if fs.Changed("endpoint") {
		cfg.Endpoint = *endpoint
	}
	if fs.Changed("rules") {
		cfg.RulesDir = *rulesDir
	}

	if strings.TrimSpace(cfg.RulesDir) == "" {
		return nil, fmt.Errorf("rules directory must not be empty")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}

	return cfg, nil
}

// Brokers splits Endpoint into a Kafka bootstrap broker list.
func (c *Config) Brokers() []string {
	parts := strings.Split(c.Endpoint, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
