// Package sim is a software board: an interrupt controller with serialized
// dispatch, a four-unit timer bank paced by an injectable clock, and a
// protocol-aware peer card. Tests drive it deterministically through Raise;
// the bridge's loopback backend lets the timers free-run on the wall clock.
package sim

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dslink/go-spiuart/internal/hw"
)

// busClockHz mirrors the timer input clock the units divide down from.
const busClockHz = 33513982.0

// Board implements hw.InterruptController and hw.TimerBank.
//
// dispatchMu is held for the whole of every handler invocation, which gives
// the controller contract its teeth: handlers are serialized and never
// reentrant, and Disable returns only once no handler is in flight.
type Board struct {
	dispatchMu sync.Mutex

	stateMu  sync.Mutex
	handlers map[hw.Source]func()
	enabled  map[hw.Source]bool
	pending  map[hw.Source]bool
	waiters  []*waiter

	clk    clock.Clock
	timers [4]*timerUnit
}

type waiter struct {
	srcs []hw.Source
	ch   chan struct{}
}

// NewBoard creates a board paced by clk; nil selects the wall clock. Pass a
// clock.Mock to keep the timer units dormant and drive dispatch via Raise.
func NewBoard(clk clock.Clock) *Board {
	if clk == nil {
		clk = clock.New()
	}
	b := &Board{
		handlers: make(map[hw.Source]func()),
		enabled:  make(map[hw.Source]bool),
		pending:  make(map[hw.Source]bool),
		clk:      clk,
	}
	for i := range b.timers {
		b.timers[i] = &timerUnit{board: b, idx: i}
	}
	return b
}

// Clock exposes the pacing clock (handy for tests sharing it with a link).
func (b *Board) Clock() clock.Clock { return b.clk }

// Register binds fn to src, replacing any previous handler.
func (b *Board) Register(src hw.Source, fn func()) {
	b.stateMu.Lock()
	b.handlers[src] = fn
	b.stateMu.Unlock()
}

// Enable unmasks src.
func (b *Board) Enable(src hw.Source) {
	b.stateMu.Lock()
	b.enabled[src] = true
	b.stateMu.Unlock()
}

// Disable masks src. It returns only once no handler invocation is running,
// so a caller holding both owned sources masked owns the shared state.
func (b *Board) Disable(src hw.Source) {
	b.dispatchMu.Lock()
	b.stateMu.Lock()
	b.enabled[src] = false
	b.stateMu.Unlock()
	b.dispatchMu.Unlock()
}

// Clear drops a pending (undelivered) request for src.
func (b *Board) Clear(src hw.Source) {
	b.stateMu.Lock()
	delete(b.pending, src)
	b.stateMu.Unlock()
}

// Wait blocks until one of the given sources is raised next.
func (b *Board) Wait(srcs ...hw.Source) {
	w := &waiter{srcs: srcs, ch: make(chan struct{})}
	b.stateMu.Lock()
	b.waiters = append(b.waiters, w)
	b.stateMu.Unlock()
	<-w.ch
}

// Raise delivers an interrupt request: the registered handler runs
// synchronously when the source is enabled, otherwise the request is left
// pending. Waiters on the source are released either way.
func (b *Board) Raise(src hw.Source) {
	b.dispatch(src)
	b.notify(src)
}

// dispatch runs the handler under dispatchMu. The unlock is deferred so a
// panicking handler cannot leave the lock held and wedge every later Disable.
func (b *Board) dispatch(src hw.Source) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	b.stateMu.Lock()
	h := b.handlers[src]
	en := b.enabled[src]
	if !en || h == nil {
		b.pending[src] = true
	}
	b.stateMu.Unlock()
	if en && h != nil {
		h()
	}
}

func (b *Board) notify(src hw.Source) {
	b.stateMu.Lock()
	kept := b.waiters[:0]
	for _, w := range b.waiters {
		hit := false
		for _, s := range w.srcs {
			if s == src {
				hit = true
				break
			}
		}
		if hit {
			close(w.ch)
		} else {
			kept = append(kept, w)
		}
	}
	b.waiters = kept
	b.stateMu.Unlock()
}

// Claim hands out the highest-numbered idle timer unit.
func (b *Board) Claim() (hw.Timer, hw.Source, bool) {
	for i := len(b.timers) - 1; i >= 0; i-- {
		u := b.timers[i]
		u.mu.Lock()
		if !u.claimed {
			u.claimed = true
			u.mu.Unlock()
			return u, hw.TimerSource(i), true
		}
		u.mu.Unlock()
	}
	return nil, 0, false
}

// TimerRunning reports whether unit idx is currently counting; tests use it
// to observe clock-suppress behavior.
func (b *Board) TimerRunning(idx int) bool {
	u := b.timers[idx]
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// timerUnit is one periodic interrupt source backed by a clock ticker.
type timerUnit struct {
	board *Board
	idx   int

	mu      sync.Mutex
	claimed bool
	running bool
	period  time.Duration
	stop    chan struct{}
}

// Program converts prescaler and tick count into the unit period. Takes
// effect immediately when the unit is running.
func (t *timerUnit) Program(div hw.Divider, ticks uint16) {
	if ticks == 0 {
		ticks = 1
	}
	period := time.Duration(float64(div) * float64(ticks) / busClockHz * float64(time.Second))
	if period <= 0 {
		period = time.Microsecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = period
	if t.running {
		close(t.stop)
		t.startLocked()
	}
}

func (t *timerUnit) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.startLocked()
}

func (t *timerUnit) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

func (t *timerUnit) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.running = false
		close(t.stop)
	}
	t.claimed = false
}

func (t *timerUnit) startLocked() {
	period := t.period
	if period <= 0 {
		period = time.Millisecond
	}
	stop := make(chan struct{})
	t.stop = stop
	src := hw.TimerSource(t.idx)
	go func() {
		tick := t.board.clk.Ticker(period)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				t.board.Raise(src)
			}
		}
	}()
}
