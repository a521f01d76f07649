package uart

// Wire protocol bytes. The escape marker introduces a literal: marker+0x00 is
// a literal null, marker+marker a literal marker, and any other escaped byte
// (including 0xFF) passes through verbatim. Unescaped 0x00 is the idle fill
// transmitted when a side has nothing queued; unescaped 0xFF is what the bus
// floats to with no adapter inserted. Both are discarded by the receive
// filter, which makes a literal 0xFF unrepresentable as plain payload - a
// protocol limitation of the fixed adapter firmware, not something to fix
// here.
const (
	// EscapeMarker is the reserved in-band escape byte ('\').
	EscapeMarker = 0x5C

	fillByte   = 0x00
	noCardByte = 0xFF

	cmdVersion   = 'v'
	cmdBitRate   = 'b'
	cmdWatermark = 'w'
)

// Buffer geometry, matching the adapter firmware's expectations.
const (
	// InCapacity is the nominal input buffer size; InMargin is reserved
	// headroom that only Requeue may use.
	InCapacity = 256
	InMargin   = 8
	// evictBlock is how many of the oldest input bytes are dropped as one
	// unit when the buffer is full.
	evictBlock = 8

	// OutCapacity is the nominal output queue size; OutMargin is headroom
	// reserved for priority payloads spliced ahead of pending data.
	OutCapacity = 256
	OutMargin   = 4
)

const (
	// defaultPumpRate paces the exchange timer until the caller picks a rate.
	defaultPumpRate = 2000
	// probeAttempts bounds the firmware identity probe during Open.
	probeAttempts = 10
)
