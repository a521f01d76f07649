package uart

import (
	"bytes"

	"github.com/dslink/go-spiuart/internal/metrics"
)

// Available reports how many filtered bytes are waiting to be read.
func (l *Link) Available() int {
	unlock := l.exclusive()
	defer unlock()
	return l.inLen
}

// Read copies up to len(dest) bytes from the front of the input buffer,
// removes them and returns the count.
func (l *Link) Read(dest []byte) int {
	unlock := l.exclusive()
	defer unlock()

	n := len(dest)
	if l.inLen < n {
		n = l.inLen
	}
	copy(dest, l.in[:n])
	copy(l.in[:], l.in[n:l.inLen])
	l.inLen -= n
	return n
}

// ReadString reads up to len(dest)-1 bytes and zero-terminates dest,
// returning the byte count excluding the terminator.
func (l *Link) ReadString(dest []byte) int {
	if len(dest) == 0 {
		return 0
	}
	n := l.Read(dest[:len(dest)-1])
	dest[n] = 0
	return n
}

// ReadLine scans for delim. Without a match it returns 0 and consumes
// nothing. With a match at offset i it copies up to len(dest)-1 bytes ending
// at the delimiter - truncating from the front when the matched span is
// longer - zero-terminates dest, removes the whole span [0, i] from the
// buffer and returns the copied count excluding the terminator.
func (l *Link) ReadLine(dest []byte, delim byte) int {
	if len(dest) == 0 {
		return 0
	}
	unlock := l.exclusive()
	defer unlock()

	i := bytes.IndexByte(l.in[:l.inLen], delim)
	if i < 0 {
		return 0
	}

	n := len(dest) - 1
	if i+1 < n {
		n = i + 1
	}
	copy(dest, l.in[i+1-n:i+1])
	dest[n] = 0

	copy(l.in[:], l.in[i+1:l.inLen])
	l.inLen -= i + 1
	return n
}

// Requeue prepends previously read bytes back to the front of the input
// buffer, an "unread". It fails without mutating anything when src would not
// fit inside capacity plus margin - requeueing must never evict live data.
func (l *Link) Requeue(src []byte) bool {
	unlock := l.exclusive()
	defer unlock()

	if len(src)+l.inLen > InCapacity+InMargin {
		metrics.IncRequeueReject()
		return false
	}
	copy(l.in[len(src):], l.in[:l.inLen])
	copy(l.in[:], src)
	l.inLen += len(src)
	return true
}
