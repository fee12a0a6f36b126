// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/gateway"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging flags
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "zipbridge",
	Short: "Gateway and tooling for the Zip robot serial link",
	Long: `Zipbridge - gateway, teleoperation and diagnostics for the Zip robot.

Talks the robot's mixed text/binary line protocol over a serial port or a
WebSocket bridge, manages the boot handshake, correlates tagged replies and
rate-limits streamed motion setpoints.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the ZIPBRIDGE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

All connection flags can also be supplied through ZIPBRIDGE_* environment
variables; flags take precedence.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig merges the environment configuration with command-line
// flag overrides.
func loadConfig(cmd *cobra.Command) (gateway.Config, error) {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		return gateway.Config{}, err
	}
	if cmd.Flags().Changed("port") || cfg.Port == "" {
		cfg.Port = portName
	}
	if cmd.Flags().Changed("baud") {
		cfg.Baud = baudRate
	}
	if cmd.Flags().Changed("url") || (cfg.URL == "" && wsURL != "") {
		cfg.URL = wsURL
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = wsUsername
	}
	if wsNoSSLVerify {
		cfg.NoSSLVerify = true
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// newLogger builds the process logger: human-readable output on stderr,
// optionally fanned out to a JSON log file.
func newLogger(cfg gateway.Config, console io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}
	cleanup := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		cleanup = func() { f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), cleanup, nil
}
