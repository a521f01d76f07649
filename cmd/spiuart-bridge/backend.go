package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dslink/go-spiuart/internal/hostserial"
	"github.com/dslink/go-spiuart/internal/hub"
	"github.com/dslink/go-spiuart/internal/hw"
	"github.com/dslink/go-spiuart/internal/logging"
	"github.com/dslink/go-spiuart/internal/metrics"
	"github.com/dslink/go-spiuart/internal/sim"
	"github.com/dslink/go-spiuart/internal/transport"
	"github.com/dslink/go-spiuart/internal/uart"
)

// ErrTxOverflow reports a chunk dropped because the TX funnel is full.
var ErrTxOverflow = errors.New("link tx overflow")

// openSerialCard is a hook for tests.
var openSerialCard = hostserial.Open

// initBackend selects the link backend, opens the link, starts its RX loop
// and returns a chunk sender plus cleanup. An error is returned instead of
// exiting so the caller can handle it gracefully.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func([]byte) error, func(), error) {
	var card hw.Exchanger
	switch cfg.backend {
	case "loopback":
		c := sim.NewCard()
		c.EchoPayload = true
		card = c
		l.Info("loopback_backend")
	case "serial":
		c, err := openSerialCard(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open serial: %w", err)
		}
		card = c
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use loopback|serial)", cfg.backend)
	}

	// The software board supplies interrupt dispatch and pacing timers for
	// either card; on the serial backend the real hardware timing lives on
	// the far side of the shim.
	board := sim.NewBoard(nil)
	lk, err := uart.Open(hw.Board{Card: card, IRQ: board, Timers: board})
	if err != nil {
		card.Disable()
		return nil, func() {}, fmt.Errorf("open link: %w", err)
	}
	if cfg.pumpRate != defaultRate {
		lk.SetClockRate(uint32(cfg.pumpRate))
		l.Info("pump_rate", "requested", cfg.pumpRate, "effective", lk.ClockRate())
	}
	if cfg.waterHighPct > 0 || cfg.waterLowPct > 0 {
		lk.SetWatermarks(cfg.waterHighPct, cfg.waterLowPct)
		l.Info("watermarks", "high_pct", cfg.waterHighPct, "low_pct", cfg.waterLowPct)
	}

	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrLinkWrite)
			logging.L().Error("link_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrLinkOverrun)
			return ErrTxOverflow
		},
	}
	tx := transport.NewAsyncTx(ctx, txQueueSize, func(p []byte) error {
		lk.Send(string(p))
		return nil
	}, hooks)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("link_rx_end")
		buf := make([]byte, rxChunkSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n := lk.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				h.Broadcast(chunk)
				continue
			}
			lk.Wait()
		}
	}()

	cleanup := func() {
		tx.Close()
		lk.Close()
		// wake the RX loop out of Wait so it can observe the cancelled ctx
		board.Raise(hw.SourceCardLine)
	}
	return tx.Send, cleanup, nil
}
