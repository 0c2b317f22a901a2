// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

var monitorPoll time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display VESC frames in human-readable format",
	Long: `Continuously decode and display VESC frames as they arrive.

Each frame is printed with a timestamp, its command and decoded values.
With --poll the monitor also sends COMM_GET_VALUES at that interval, which
turns it into a minimal host for a controller or a running simulator.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorPoll, "poll", 0, "Send COMM_GET_VALUES at this interval (0 = listen only)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	opener, err := newConnOpener(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Printf("vescsim - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", opener)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if monitorPoll > 0 {
		go func() {
			ticker := time.NewTicker(monitorPoll)
			defer ticker.Stop()
			request := vesc.MustEncodeFrame(vesc.GetValuesRequest)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := conn.Write(request); err != nil {
						log.Printf("Write error: %v", err)
					}
				}
			}
		}()
	}

	decoder := vesc.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			payload, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if payload != nil {
				fmt.Print(vesc.FormatPayload(time.Now(), payload))
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A closed bridge never recovers
			if errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			return err
		}
	}
}
