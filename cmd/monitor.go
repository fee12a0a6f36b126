// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steffenpharai/zipbridge/pkg/gateway"
	"github.com/steffenpharai/zipbridge/pkg/zipwire"
)

var monitorStatsInterval int

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and print raw link traffic",
	Long: `Passively decode the robot's mixed text/binary stream and print every
line and frame in human-readable form. No handshake is performed and
nothing is written to the link, so this can run alongside a misbehaving
device to diagnose framing or CRC problems.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats", 10, "Print receive statistics every N seconds (0 disables)")
}

func formatFrame(f *zipwire.Frame) string {
	ts := f.Timestamp().Format("15:04:05.000")
	name := "UNKNOWN"
	switch f.Type() {
	case zipwire.FrameHello:
		name = "HELLO"
	case zipwire.FrameCommand:
		name = "COMMAND"
	case zipwire.FrameAck:
		name = "ACK"
	case zipwire.FrameTelemetry:
		name = "TELEMETRY"
	case zipwire.FrameFault:
		name = "FAULT"
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d", ts, name, f.Type(), f.Seq(), len(f.Payload()))
	if m := f.PayloadMap(); m != nil {
		result += fmt.Sprintf(" %v", m)
	} else if len(f.Payload()) > 0 {
		result += " payload="
		for _, b := range f.Payload() {
			result += fmt.Sprintf("%02X ", b)
		}
	}
	return result
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conn, connInfo, err := gateway.Open(cfg)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer conn.Close()

	fmt.Printf("Zipbridge - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	demux := zipwire.NewDemux()

	var statsTick <-chan time.Time
	if monitorStatsInterval > 0 {
		ticker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	type chunk struct {
		data []byte
		err  error
	}
	readCh := make(chan chunk, 4)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			data := make([]byte, n)
			copy(data, buf[:n])
			readCh <- chunk{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Printf("\n%s\n", demux.Stats().String())
			return nil

		case <-statsTick:
			fmt.Printf("%s\n", demux.Stats().String())

		case c := <-readCh:
			for _, b := range c.data {
				frame, line, ok := demux.Feed(b)
				if !ok {
					continue
				}
				if frame != nil {
					fmt.Println(formatFrame(frame))
				} else {
					ts := time.Now().Format("15:04:05.000")
					fmt.Printf("[%s] %s\n", ts, line)
				}
			}
			if c.err != nil {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", c.err)
				fmt.Printf("%s\n", demux.Stats().String())
				return nil
			}
		}
	}
}
