// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/gateway"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request round-trip time over the link",
	Long: `Send tagged battery queries and measure the reply round-trip time.

This verifies the full request path end to end:
  - the transport is up (serial or WebSocket)
  - the boot handshake completed
  - tagged replies are being correlated
  - the device command dispatcher is responsive

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	session, connInfo, err := gateway.Dial(cfg, gateway.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer session.Close()

	fmt.Printf("Zipbridge - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
	err = session.WaitReady(waitCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Handshake failed: %v\n", err)
		os.Exit(2)
	}

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
		startTime := time.Now()
		mv, err := session.BatteryMillivolts(ctx)
		rtt := time.Since(startTime)
		cancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			continue
		}

		fmt.Printf("reply in %v (battery %d mV)\n", rtt.Round(time.Microsecond), mv)
		successCount++

		if i < pingCount {
			time.Sleep(time.Second)
		}
	}

	fmt.Printf("\n%d/%d pings successful\n", successCount, pingCount)
	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
