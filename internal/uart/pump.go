package uart

import "github.com/dslink/go-spiuart/internal/metrics"

// pump performs one full-duplex byte exchange. It runs in interrupt dispatch
// context only - once per card-line or timer interrupt, never reentrantly -
// and must not block or take the exclusive guard.
//
// Routing order is fixed and load-bearing: priority redirection first (raw
// command echoes must bypass framing entirely), then the escape filter, then
// the watermark check against the occupancy the consumer will observe, then
// the append.
func (l *Link) pump() {
	// pick the byte to send, idle fill if the queue is drained
	tx := byte(fillByte)
	if l.outHead < l.outLen {
		tx = l.out[l.outHead]
		l.outHead++
	} else {
		metrics.IncIdleFill()
	}

	rx := l.card.Exchange(tx)
	metrics.IncExchange()

	// keep the pump self-paced for the next byte even if a suppress bit
	// turned the timer off last time
	l.timerStart()

	if l.prioHead < l.prioLen {
		// Suppress bits are indexed from the end of the payload, offset by
		// the two overlap bytes: bit (len-progress-2) belongs to the byte
		// about to be answered. Near the end of the transfer the index goes
		// negative and no bit applies.
		if n := l.prioLen - l.prioHead - 2; n >= 0 && n < 32 && l.prioMask&(1<<uint(n)) != 0 {
			l.timerStop()
		}
		if l.prioHead < 2 {
			// The first two positions physically overlap ordinary payload
			// already counted in the output stream; their replies stay on
			// the normal receive path.
			l.prioHead++
		} else {
			if l.prioDest != nil {
				l.prioDest[l.prioHead] = rx
			}
			l.prioHead++
			return
		}
	}

	switch {
	case !l.gotEsc && rx == EscapeMarker:
		l.gotEsc = true
		return
	case l.gotEsc:
		// the escaped byte is literal payload, any value passes
		l.gotEsc = false
		metrics.IncEscapedLiteral()
	case rx == fillByte || rx == noCardByte:
		// line idle, or the floating bus of an absent card
		metrics.IncFillerDrop()
		return
	}

	// checked against the occupancy after this byte lands
	if l.waterHigh > 0 && l.inLen+1 >= l.waterHigh && !l.waterSent {
		l.sendWatermark(true)
		l.waterSent = true
	}
	if l.waterLow > 0 && l.inLen+1 <= l.waterLow && l.waterSent {
		l.sendWatermark(false)
		l.waterSent = false
	}

	if l.inLen >= InCapacity {
		// full, or requeued into the margin: drop the oldest block as a
		// unit so the append lands in bounds from any reachable occupancy
		copy(l.in[:l.inLen-evictBlock], l.in[evictBlock:l.inLen])
		l.inLen -= evictBlock
		metrics.IncEviction()
	}
	l.in[l.inLen] = rx
	l.inLen++
	metrics.SetLinkDepth(l.inLen, l.outLen-l.outHead)
}

// sendWatermark splices a flow-control notice ahead of pending output.
// Fire-and-forget: no capture, nobody waits on it. Pump context, so it calls
// the unguarded splice directly.
func (l *Link) sendWatermark(high bool) {
	msg := []byte{EscapeMarker, cmdWatermark, 0x00}
	if high {
		msg[2] = 0x01
	}
	_ = l.splicePrio(msg, nil, 0)
	metrics.IncWatermark(high)
}
