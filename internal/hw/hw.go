// Package hw declares the hardware collaborators the UART core drives: the
// full-duplex byte exchanger, the interrupt controller and the timer bank.
// Implementations live elsewhere (internal/sim for the software board,
// internal/hostserial for a host-side serial adapter); the core only sees
// these interfaces.
package hw

// Source identifies one interrupt request line.
type Source uint8

const (
	// SourceCardLine is the peer-initiated exchange request.
	SourceCardLine Source = iota
	SourceTimer0
	SourceTimer1
	SourceTimer2
	SourceTimer3
)

// TimerSource maps a timer unit index (0..3) to its interrupt source.
func TimerSource(unit int) Source { return SourceTimer0 + Source(unit) }

// SpeedClass selects the exchanger shift clock.
type SpeedClass uint8

const (
	Speed524kHz SpeedClass = iota
	Speed262kHz
	Speed131kHz
	Speed65kHz
)

// Exchanger is the synchronous full-duplex byte primitive. Exchange busy-waits
// at hardware speed; it never suspends the calling goroutine on a scheduler
// level and is only ever called from interrupt (dispatch) context.
type Exchanger interface {
	// Configure powers the peripheral and selects the shift clock. With hold
	// set the chip-select line stays asserted between exchanges.
	Configure(speed SpeedClass, hold bool)
	// Exchange clocks one byte out and returns the byte clocked in.
	Exchange(tx byte) byte
	// Disable releases the peripheral.
	Disable()
}

// InterruptController dispatches interrupt sources to registered handlers.
//
// Contract required by the UART core: handlers never run concurrently with
// each other or with themselves, and Disable(src) returns only once no
// handler invocation for src is in flight. That blocking Disable is what
// turns the core's selective mask into a critical section the Go memory
// model recognizes.
type InterruptController interface {
	Register(src Source, fn func())
	Enable(src Source)
	Disable(src Source)
	// Clear drops any pending (undelivered) request for src.
	Clear(src Source)
	// Wait blocks the caller until one of the given sources fires next.
	Wait(srcs ...Source)
}

// Divider is a timer prescaler value applied to the bus clock.
type Divider uint16

const (
	Div1    Divider = 1
	Div64   Divider = 64
	Div256  Divider = 256
	Div1024 Divider = 1024
)

// Timer is one periodic interrupt unit.
type Timer interface {
	// Program sets the prescaler and the number of divided ticks between
	// successive interrupt requests. Takes effect immediately, also while
	// the unit is running.
	Program(div Divider, ticks uint16)
	// Enable starts the unit; each period it raises the unit's source.
	Enable()
	// Disable pauses the unit without releasing it.
	Disable()
	// Release stops the unit and returns it to the bank.
	Release()
}

// TimerBank hands out idle timer units.
type TimerBank interface {
	// Claim returns an idle unit and its interrupt source, or ok=false when
	// every unit is busy.
	Claim() (t Timer, src Source, ok bool)
}

// Board bundles the collaborators a link needs.
type Board struct {
	Card   Exchanger
	IRQ    InterruptController
	Timers TimerBank
}
