package uart

import "github.com/dslink/go-spiuart/internal/hw"

// BusClockHz is the clock feeding the timer units before prescaling.
const BusClockHz = 33513982.0

// SetClockRate programs the claimed timer unit for roughly bps pump
// interrupts per second. The coarsest prescaler tier able to represent the
// rate is chosen so that the 16-bit tick count stays in range:
//
//	<= 32768 bps  -> /1024
//	<= 131072 bps -> /256
//	<= 524288 bps -> /64
//	otherwise     -> /1
func (l *Link) SetClockRate(bps uint32) {
	if l.timer == nil || bps == 0 {
		return
	}
	var div hw.Divider
	switch {
	case bps <= 32768:
		div = hw.Div1024
	case bps <= 131072:
		div = hw.Div256
	case bps <= 524288:
		div = hw.Div64
	default:
		div = hw.Div1
	}
	ticks := uint32(BusClockHz) / uint32(div) / bps
	if ticks == 0 {
		ticks = 1
	}
	if ticks > 0xFFFF {
		ticks = 0xFFFF
	}
	l.timer.Program(div, uint16(ticks))
	l.timer.Enable()
	l.rate = BusClockHz / float64(div) / float64(ticks)
}

// ClockRate reports the effective pump interrupt rate in exchanges per
// second, 0 when the link has no bound timer. The value is an estimate
// derived from the programmed prescaler and tick count.
func (l *Link) ClockRate() float64 {
	if l.timer == nil {
		return 0
	}
	return l.rate
}
