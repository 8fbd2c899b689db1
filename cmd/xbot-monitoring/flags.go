package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig is everything the process learns from flags and their
// XBOT_* environment fallbacks before the config file is loaded.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// An empty config path runs on built-in defaults plus environment
	// overrides, which is the common case on the robot itself.
	configDefault := envOr("XBOT_CONFIG", "")
	flag.StringVar(&cfg.ConfigPath, "config", configDefault,
		"Path to configuration file, empty for defaults (env: XBOT_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c", configDefault, "Shorthand for -config")

	flag.StringVar(&cfg.LogLevel, "log-level", envOr("XBOT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: XBOT_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format", envOr("XBOT_LOG_FORMAT", "json"),
		"Log format: json, text (env: XBOT_LOG_FORMAT)")
	flag.BoolVar(&cfg.Debug, "debug", envBool("XBOT_DEBUG", false),
		"Enable debug logging (env: XBOT_DEBUG)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration("XBOT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: XBOT_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - robot telemetry gateway

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with built-in defaults (local NATS and MQTT broker)
  %[1]s

  # Run with custom config
  %[1]s --config=/etc/xbot/gateway.yaml

  # Run with debug logging
  %[1]s --log-level=debug --log-format=text

  # Run with environment variables
  export XBOT_CONFIG=/etc/xbot/gateway.yaml
  export XBOT_LOG_LEVEL=debug
  %[1]s

  # Validate configuration only
  %[1]s --config=/etc/xbot/gateway.yaml --validate

Version: %s
Build: %s
`, os.Args[0], Version, BuildTime)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
