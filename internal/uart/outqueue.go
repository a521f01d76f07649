package uart

// Write escape-encodes buf and appends it to the output queue, returning how
// many source bytes were fully encoded. A byte whose two-slot escaped form no
// longer fits is not partially written. The already-sent prefix is compacted
// away first, so the nominal capacity is available to every call.
func (l *Link) Write(buf []byte) int {
	unlock := l.exclusive()
	defer unlock()

	if l.outHead > 0 {
		copy(l.out[:], l.out[l.outHead:l.outLen])
		l.outLen -= l.outHead
		l.outHead = 0
	}

	n := 0
	for _, b := range buf {
		switch b {
		case fillByte, EscapeMarker:
			if l.outLen+2 > OutCapacity {
				return n
			}
			l.out[l.outLen] = EscapeMarker
			l.out[l.outLen+1] = b
			l.outLen += 2
		default:
			if l.outLen+1 > OutCapacity {
				return n
			}
			l.out[l.outLen] = b
			l.outLen++
		}
		n++
	}
	return n
}

// Send queues the whole string, yielding to the pump between partial writes.
func (l *Link) Send(s string) {
	for sent := 0; sent < len(s); {
		sent += l.Write([]byte(s[sent:]))
		l.Wait()
	}
}

// SendByte queues a single byte, yielding until it is accepted.
func (l *Link) SendByte(b byte) {
	buf := []byte{b}
	for l.Write(buf) != 1 {
		l.Wait()
	}
}

// Flush blocks until the output queue has fully drained.
func (l *Link) Flush() {
	for {
		unlock := l.exclusive()
		drained := l.outHead >= l.outLen
		unlock()
		if drained {
			return
		}
		l.Wait()
	}
}
