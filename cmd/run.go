// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/vescsim/internal/config"
	"github.com/Thermoquad/vescsim/internal/control"
	"github.com/Thermoquad/vescsim/internal/logging"
	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/internal/mirror"
	"github.com/Thermoquad/vescsim/internal/session"
	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/internal/tick"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve simulated telemetry until interrupted",
	Long: `Serve the simulated controller on the configured transport.

Replies to COMM_GET_VALUES and float package poll requests with the current
simulated values. A terminal panel shows the values, link statistics and an
event log; arrow keys step the selected value and Tab switches to direct
entry. Without a terminal, or with --tui=false, the simulator runs headless
and logs to stderr.

Optional surfaces:
  --control        HTTP/websocket control API (control.addr)
  mqtt.broker      mirror telemetry to an MQTT topic

Fault injection (--fault) corrupts a share of replies with a wrong CRC or
garbage bytes so host error handling can be exercised.`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(runCmd)
	// vescsim with no subcommand behaves like vescsim run
	rootCmd.RunE = runSimulator

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		// Local flags so both the root and run commands accept them
		fs := c.Flags()
		fs.Bool("fault", false, "Enable reply fault injection")
		fs.Bool("sweep", false, "Drive RPM along a triangle sweep")
		fs.Bool("tui", true, "Show the interactive panel when attached to a terminal")
		fs.Bool("control", false, "Serve the HTTP/websocket control API")
	}
}

func runSimulator(c *cobra.Command, args []string) error {
	opener, err := newConnOpener(cfg)
	if err != nil {
		return err
	}

	useTUI := cfg.TUI && term.IsTerminal(int(os.Stdout.Fd()))
	logger, closeLog, err := logging.New(cfg.Logging, logging.Options{FileOnly: useTUI})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLog()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	st := state.New()
	stats := session.NewStatistics()
	faults := session.NewFaultInjector(faultConfig(cfg.Fault))
	events := make(chan session.Event, 256)

	runner := &session.Runner{
		Opener:     opener,
		Dispatcher: session.NewDispatcher(st, faults, logger, m),
		Backoff: session.Backoff{
			Initial:    cfg.Session.ReconnectInitial,
			Multiplier: cfg.Session.ReconnectMultiplier,
			Max:        cfg.Session.ReconnectMax,
			MaxRetries: cfg.Session.MaxRetries,
		},
		ReadBufferSize:        cfg.Session.ReadBufferSize,
		FrameErrorLogInterval: cfg.Session.FrameErrorLogInterval,
		Logger:                logger,
		Metrics:               m,
		Stats:                 stats,
	}
	if useTUI {
		runner.Events = events
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting simulator",
		zap.String("transport", opener.String()),
		zap.Bool("fault_injection", faults.Enabled()),
		zap.Bool("sweep", cfg.Tick.Sweep))

	var wg sync.WaitGroup

	driver := &tick.Driver{
		State:       st,
		Interval:    cfg.Tick.Interval,
		Mirror:      cfg.Tick.Mirror,
		Sweep:       cfg.Tick.Sweep,
		SweepRPM:    cfg.Tick.SweepRPM,
		SweepPeriod: cfg.Tick.SweepPeriod,
		Logger:      logger.Named("tick"),
	}
	wg.Go(func() { driver.Run(ctx) })

	if cfg.Control.Enabled {
		srv := control.New(cfg.Control, st, stats, metrics.Handler(reg), logger.Named("control"))
		wg.Go(func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("control server failed", zap.Error(err))
			}
		})
	}

	if cfg.MQTT.Broker != "" {
		pub := mirror.NewPahoPublisher(cfg.MQTT, logger.Named("mqtt"))
		mir := mirror.New(cfg.MQTT, st, pub, logger.Named("mirror"), m)
		wg.Go(func() {
			defer pub.Close()
			mir.Run(ctx)
		})
	}

	var program *tea.Program
	if useTUI {
		program = tea.NewProgram(newPanelModel(st, stats, opener.String(), faults.Enabled()),
			tea.WithAltScreen(), tea.WithContext(ctx))
		wg.Go(func() { forwardEvents(ctx, events, program) })
	}

	var runErr error
	wg.Go(func() {
		runErr = runner.Run(ctx)
		if runErr != nil {
			logger.Error("session runner stopped", zap.Error(runErr))
			if program != nil {
				program.Send(runnerDoneMsg{err: runErr})
				program.Quit()
			}
		}
		if program == nil {
			cancel()
		}
	})

	if program != nil {
		_, err := program.Run()
		cancel()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, context.Canceled) {
			wg.Wait()
			return fmt.Errorf("TUI error: %w", err)
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	if runErr == nil {
		fmt.Fprintln(os.Stderr, stats.Snapshot().String())
	}
	return runErr
}

// forwardEvents batches runner events into the panel at a fixed rate
func forwardEvents(ctx context.Context, events <-chan session.Event, p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var batch sessionBatchMsg
		drainLoop:
			for {
				select {
				case ev := <-events:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}
			if len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}

func faultConfig(c config.FaultConfig) session.FaultConfig {
	return session.FaultConfig{
		Enabled:            c.Enabled,
		BadCRCProbability:  c.BadCRCProbability,
		BadCRC:             c.BadCRC,
		RandomCRC:          c.RandomCRC,
		GarbageProbability: c.GarbageProbability,
		MaxGarbage:         c.MaxGarbage,
		Seed:               c.Seed,
	}
}
