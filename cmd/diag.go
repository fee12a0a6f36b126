// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/gateway"
	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

var diagSensors bool

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Dump device diagnostics and link statistics",
	Long: `Request the device's diagnostic dump and print it together with the
gateway's own receive statistics. With --sensors, also query each sensor
individually over the tagged request path.`,
	RunE: runDiag,
}

func init() {
	rootCmd.AddCommand(diagCmd)
	diagCmd.Flags().BoolVar(&diagSensors, "sensors", false, "Also query each sensor individually")
}

func runDiag(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("connection error: %w", err)
	}
	defer session.Close()

	fmt.Printf("Zipbridge - Diagnostics\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.WaitReady(ctx); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	lines, err := session.Diagnostics(ctx)
	if err != nil {
		return fmt.Errorf("diagnostics request failed: %w", err)
	}
	fmt.Println("Device diagnostics:")
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}

	if diagSensors {
		fmt.Println("\nSensor readings:")

		if mv, err := session.BatteryMillivolts(ctx); err == nil {
			fmt.Printf("  battery:    %d mV\n", mv)
		} else {
			fmt.Printf("  battery:    error: %v\n", err)
		}

		if cm, err := session.DistanceCm(ctx); err == nil {
			fmt.Printf("  distance:   %d cm\n", cm)
		} else {
			fmt.Printf("  distance:   error: %v\n", err)
		}

		if ahead, err := session.ObstacleAhead(ctx); err == nil {
			fmt.Printf("  obstacle:   %v\n", ahead)
		} else {
			fmt.Printf("  obstacle:   error: %v\n", err)
		}

		for _, ch := range []int{zipwire.LineLeft, zipwire.LineMiddle, zipwire.LineRight} {
			if v, err := session.LineSensor(ctx, ch); err == nil {
				fmt.Printf("  line[%d]:    %d\n", ch, v)
			} else {
				fmt.Printf("  line[%d]:    error: %v\n", ch, err)
			}
		}
	}

	fmt.Printf("\nGateway receive statistics:\n  %s\n", session.Stats().String())
	return nil
}
