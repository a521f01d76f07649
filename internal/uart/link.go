// Package uart implements a software UART multiplexed over a synchronous
// full-duplex byte-exchange peripheral. One interrupt - peer-initiated card
// line or local periodic timer - pumps exactly one byte in each direction.
// Three logical streams share the physical channel: escaped payload, escape
// markers, and raw priority/command bytes spliced ahead of ordinary output.
//
// All buffer state is owned by a single Link and is touched from exactly two
// contexts: the interrupt dispatch context (the pump) and mainline callers.
// Mainline mutation is shielded by masking only the two interrupt sources the
// link owns, leaving the rest of the machine serviceable.
package uart

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dslink/go-spiuart/internal/hw"
	"github.com/dslink/go-spiuart/internal/logging"
)

// linkOpen enforces the at-most-one-open rule for the peripheral.
var linkOpen atomic.Bool

// Link is an open connection to the adapter. Obtain one with Open; all
// methods are mainline-context unless noted otherwise.
type Link struct {
	card hw.Exchanger
	irq  hw.InterruptController
	clk  clock.Clock

	timer    hw.Timer
	timerSrc hw.Source

	speed        hw.SpeedClass
	probeTimeout time.Duration

	// input buffer; InMargin headroom is reachable only via Requeue
	in    [InCapacity + InMargin]byte
	inLen int

	// output queue; OutMargin headroom only via priority splices
	out     [OutCapacity + OutMargin]byte
	outHead int // index of next unsent byte
	outLen  int

	// active priority transfer (at most one)
	prioDest []byte
	prioHead int
	prioLen  int
	prioMask uint32

	// escape filter state, persists across pump invocations
	gotEsc bool

	// watermark thresholds in bytes (0 = off) and the notice latch
	waterHigh int
	waterLow  int
	waterSent bool

	rate float64 // effective pump rate, for introspection
}

// Option tweaks Open behavior.
type Option func(*Link)

// WithClock substitutes the monotonic clock used for timeout bookkeeping.
func WithClock(c clock.Clock) Option { return func(l *Link) { l.clk = c } }

// WithProbeTimeout bounds each firmware probe attempt during Open.
func WithProbeTimeout(d time.Duration) Option { return func(l *Link) { l.probeTimeout = d } }

// WithSpeedClass selects the exchanger shift clock.
func WithSpeedClass(s hw.SpeedClass) Option { return func(l *Link) { l.speed = s } }

// Open brings up the link: it configures the exchanger, binds the card-line
// interrupt, claims a timer unit for the periodic pump clock and probes the
// adapter firmware. On any failure the bindings are released and the link
// stays closed. Only one link may be open at a time.
func Open(b hw.Board, opts ...Option) (*Link, error) {
	if !linkOpen.CompareAndSwap(false, true) {
		return nil, ErrAlreadyOpen
	}
	l := &Link{
		card:         b.Card,
		irq:          b.IRQ,
		clk:          clock.New(),
		speed:        hw.Speed524kHz,
		probeTimeout: time.Second,
	}
	for _, o := range opts {
		o(l)
	}

	l.card.Configure(l.speed, true)
	l.irq.Register(hw.SourceCardLine, l.pump)
	l.irq.Enable(hw.SourceCardLine)

	t, src, ok := b.Timers.Claim()
	if !ok {
		l.irq.Disable(hw.SourceCardLine)
		l.irq.Clear(hw.SourceCardLine)
		l.card.Disable()
		linkOpen.Store(false)
		return nil, ErrNoTimer
	}
	l.timer, l.timerSrc = t, src
	l.irq.Register(src, l.pump)
	l.irq.Enable(src)
	l.SetClockRate(defaultPumpRate)

	// Wait for the adapter to come up. 0x00 and 0xFF are what the probe
	// reads back from an absent or still-booting card.
	for i := 0; i < probeAttempts; i++ {
		ver := l.probeVersion()
		if ver != 0x00 && ver != noCardByte {
			logging.L().Info("uart_open", "firmware", ver, "pump_rate", l.rate)
			return l, nil
		}
	}
	l.Close()
	return nil, ErrNoPeer
}

// Close disables and releases the timer unit, unbinds the card-line interrupt
// and powers down the exchanger. Buffer contents are intentionally left as-is;
// a later Open starts with whatever stale data remained.
func (l *Link) Close() {
	if l.timer != nil {
		l.timer.Disable()
		l.irq.Disable(l.timerSrc)
		l.irq.Clear(l.timerSrc)
		l.timer.Release()
		l.timer = nil
	}
	l.irq.Disable(hw.SourceCardLine)
	l.irq.Clear(hw.SourceCardLine)
	l.card.Disable()
	logging.L().Info("uart_close")
	linkOpen.Store(false)
}

// exclusive masks the two interrupt sources owned by the link and returns the
// matching unmask. Every mainline buffer mutation runs inside this span; the
// pump itself never needs it because interrupt dispatch is serialized.
//
//	unlock := l.exclusive()
//	defer unlock()
func (l *Link) exclusive() func() {
	if l.timer == nil {
		return func() {}
	}
	l.irq.Disable(l.timerSrc)
	l.irq.Disable(hw.SourceCardLine)
	return func() {
		l.irq.Enable(hw.SourceCardLine)
		l.irq.Enable(l.timerSrc)
	}
}

// Wait blocks until the next owned interrupt (card line or pump timer) fires.
// This is the cooperative suspension point used by Send, SendByte and Flush.
func (l *Link) Wait() {
	if l.timer == nil {
		return
	}
	l.irq.Wait(hw.SourceCardLine, l.timerSrc)
}

func (l *Link) timerStart() {
	if l.timer != nil {
		l.timer.Enable()
	}
}

func (l *Link) timerStop() {
	if l.timer != nil {
		l.timer.Disable()
	}
}

// SetWatermarks configures flow-control thresholds as percentages of the
// input buffer capacity. Crossing the high mark emits one 'w' notice to the
// peer, crossing back below the low mark emits the all-clear; zero disables
// the respective side.
func (l *Link) SetWatermarks(highPct, lowPct int) {
	unlock := l.exclusive()
	defer unlock()
	l.waterHigh = InCapacity * highPct / 100
	l.waterLow = InCapacity * lowPct / 100
}
