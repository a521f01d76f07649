package uart

import (
	"testing"

	"github.com/dslink/go-spiuart/internal/hw"
)

type recordingTimer struct {
	div     hw.Divider
	ticks   uint16
	enabled bool
}

func (r *recordingTimer) Program(div hw.Divider, ticks uint16) { r.div, r.ticks = div, ticks }
func (r *recordingTimer) Enable()                              { r.enabled = true }
func (r *recordingTimer) Disable()                             { r.enabled = false }
func (r *recordingTimer) Release()                             {}

func TestSetClockRateTiers(t *testing.T) {
	tests := []struct {
		bps       uint32
		wantDiv   hw.Divider
		wantTicks uint16
	}{
		{2000, hw.Div1024, 16},
		{32768, hw.Div1024, 1}, // divided clock too slow, floor at one tick
		{100000, hw.Div256, 1},
		{131072, hw.Div256, 1},
		{200000, hw.Div64, 2},
		{600000, hw.Div1, 55},
	}
	for _, tt := range tests {
		rt := &recordingTimer{}
		l := &Link{timer: rt}
		l.SetClockRate(tt.bps)
		if rt.div != tt.wantDiv || rt.ticks != tt.wantTicks {
			t.Errorf("SetClockRate(%d) programmed div=%d ticks=%d, want div=%d ticks=%d",
				tt.bps, rt.div, rt.ticks, tt.wantDiv, tt.wantTicks)
		}
		if !rt.enabled {
			t.Errorf("SetClockRate(%d) left the timer disabled", tt.bps)
		}
		if l.ClockRate() <= 0 {
			t.Errorf("ClockRate after SetClockRate(%d) = %v", tt.bps, l.ClockRate())
		}
	}
}

func TestSetClockRateZeroIgnored(t *testing.T) {
	rt := &recordingTimer{}
	l := &Link{timer: rt}
	l.SetClockRate(0)
	if rt.enabled || rt.ticks != 0 {
		t.Fatalf("SetClockRate(0) touched the timer: %+v", rt)
	}
}

func TestClockRateWithoutTimer(t *testing.T) {
	l := &Link{}
	if got := l.ClockRate(); got != 0 {
		t.Fatalf("ClockRate = %v, want 0 without a bound timer", got)
	}
	l.SetClockRate(2000) // must not panic
}
