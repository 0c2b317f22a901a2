// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Poll a VESC endpoint once and print the replies",
	Long: `Act as a host: send COMM_GET_VALUES and a float package poll, then wait
for a valid reply to each until timeout.

Point it at a real controller, or at a running simulator through a serial
loopback pair or bridge, to check the link end to end. Invalid bytes and
frames with a bad CRC are reported and skipped.

Exit codes:
  0 - Both replies received before timeout
  1 - Timeout reached without a reply to every request
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 5, "Timeout in seconds to wait for each reply")
}

func runProbe(cmd *cobra.Command, args []string) error {
	opener, err := newConnOpener(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	conn, err := opener.Open(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("vescsim - Probe\n")
	fmt.Printf("Connection: %s\n", opener)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	replies := make(chan []byte, 4)
	errChan := make(chan error, 1)
	go readReplies(conn, replies, errChan)

	timeout := time.Duration(probeTimeout) * time.Second
	for _, req := range [][]byte{vesc.GetValuesRequest, vesc.FloatPollRequest} {
		want := vesc.ParseCommand(req).Kind
		if _, err := conn.Write(vesc.MustEncodeFrame(req)); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Sent %s\n", want)

		if err := awaitReply(want, timeout, replies, errChan); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			if errors.Is(err, errProbeTimeout) {
				os.Exit(1)
			}
			os.Exit(2)
		}
	}

	fmt.Printf("SUCCESS: all requests answered\n")
	return nil
}

var errProbeTimeout = errors.New("TIMEOUT: no valid reply received")

// awaitReply prints replies until one of kind want arrives
func awaitReply(want vesc.CommandKind, timeout time.Duration, replies <-chan []byte, errChan <-chan error) error {
	deadline := time.After(timeout)
	for {
		select {
		case payload := <-replies:
			fmt.Print(vesc.FormatPayload(time.Now(), payload))
			if vesc.ParseCommand(payload).Kind == want && len(payload) > 3 {
				return nil
			}
		case err := <-errChan:
			return fmt.Errorf("read error: %w", err)
		case <-deadline:
			return errProbeTimeout
		}
	}
}

// readReplies decodes frames from conn until a read error
func readReplies(conn io.Reader, replies chan<- []byte, errChan chan<- error) {
	decoder := vesc.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			payload, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				fmt.Printf("[ERROR] %v\n", decodeErr)
				continue
			}
			if payload != nil {
				replies <- payload
			}
		}
		if err != nil {
			errChan <- err
			return
		}
	}
}
