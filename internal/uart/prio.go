package uart

import (
	"time"

	"github.com/dslink/go-spiuart/internal/metrics"
)

// prioPollInterval paces the completion poll in WaitPrio. Timeouts are
// coarse; second-level granularity is all the callers need.
const prioPollInterval = time.Millisecond

// WritePrio splices payload ahead of all pending output and arms raw receive
// redirection for the transfer: replies to payload positions >= 2 are written
// into capture (when non-nil, which must be at least len(payload) long)
// instead of entering the input buffer. The first two positions overlap
// ordinary payload and stay on the normal receive path.
//
// suppressMask disables the pump timer before selected bytes, indexed from
// the end of the payload (bit len-progress-2): the peer then paces those
// exchanges itself via the card line.
//
// A new call replaces any transfer still in flight. When the pending output
// plus payload exceed capacity, the oldest not-yet-sent bytes are discarded
// so that newer data always survives.
func (l *Link) WritePrio(payload, capture []byte, suppressMask uint32) error {
	unlock := l.exclusive()
	defer unlock()
	return l.splicePrio(payload, capture, suppressMask)
}

// splicePrio is WritePrio without the interrupt mask, for pump context where
// the sources are already quiet.
func (l *Link) splicePrio(payload, capture []byte, suppressMask uint32) error {
	const max = OutCapacity + OutMargin
	size := len(payload)
	if size > max {
		return ErrPrioTooLong
	}
	if capture != nil && len(capture) < size {
		return ErrShortCapture
	}

	pending := l.outLen - l.outHead
	if size+pending <= max {
		copy(l.out[size:], l.out[l.outHead:l.outLen])
	} else {
		// keep only the newest pending bytes that still fit behind payload
		keep := max - size
		copy(l.out[size:], l.out[l.outLen-keep:l.outLen])
		pending = keep
	}
	copy(l.out[:], payload)
	// the already-sent prefix was dropped implicitly by the move above
	l.outLen = size + pending
	l.outHead = 0

	l.prioDest = capture
	l.prioHead = 0
	l.prioLen = size
	l.prioMask = suppressMask
	metrics.IncPrioTransfer()
	return nil
}

// WaitPrio blocks until the active priority transfer completes, polling the
// monotonic clock; timeout 0 waits forever. On timeout the unsent remainder
// of the payload is abandoned - marked as drained from the queue's point of
// view - the transfer is cleared and the pump timer re-armed in case a
// suppress bit left it off. Reports whether the transfer completed. Safe to
// call again after a timeout; with no transfer active it returns true.
func (l *Link) WaitPrio(timeout time.Duration) bool {
	start := l.clk.Now()
	for {
		unlock := l.exclusive()
		if l.prioHead == l.prioLen {
			l.clearPrio()
			unlock()
			return true
		}
		unlock()
		if timeout > 0 && l.clk.Since(start) > timeout {
			break
		}
		l.clk.Sleep(prioPollInterval)
	}

	unlock := l.exclusive()
	l.outHead = l.prioLen
	if l.outHead > l.outLen {
		l.outHead = l.outLen
	}
	l.clearPrio()
	unlock()
	l.timerStart()
	metrics.IncPrioTimeout()
	return false
}

// clearPrio drops the transfer and the capture reference; the caller-owned
// capture buffer must not be written past the transfer's lifetime.
func (l *Link) clearPrio() {
	l.prioDest = nil
	l.prioHead = 0
	l.prioLen = 0
	l.prioMask = 0
}
