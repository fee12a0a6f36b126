// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/device"
	"github.com/steffenpharai/zipbridge/pkg/gateway"
)

var (
	serveListen string
	serveSim    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket session server",
	Long: `Run the session server: connect to the robot and expose the session to
WebSocket clients on /ws, with a JSON request/response envelope. A health
endpoint on /healthz reports link readiness.

With --sim, no robot is needed: an in-process simulated device is wired to
the session over a pipe. This is useful for client development and for
exercising the full command path without hardware.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default :8530 or ZIPBRIDGE_LISTEN)")
	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "Serve an in-process simulated device instead of real hardware")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = serveListen
	}

	logger, cleanup, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conn gateway.Connection
	var connInfo string
	if serveSim {
		gwEnd, devEnd := net.Pipe()
		sim := device.New(devEnd, device.NewSimMotor(), device.NewSimServo(), device.NewSimSensors(), device.Config{
			Logger: logger.With("component", "sim-device"),
		})
		go func() {
			if err := sim.Run(ctx); err != nil {
				logger.Error("simulated device exited", "error", err)
			}
			devEnd.Close()
		}()
		conn = gwEnd
		connInfo = "in-process simulated device"
	} else {
		conn, connInfo, err = gateway.Open(cfg)
		if err != nil {
			return err
		}
	}

	session := gateway.NewSession(conn, cfg, gateway.WithLogger(logger.With("component", "session")))
	defer session.Close()

	server := gateway.NewServer(session, logger.With("component", "server"))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("session server starting", "listen", cfg.ListenAddr, "connection", connInfo)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
