package sim

import (
	"sync"

	"github.com/dslink/go-spiuart/internal/hw"
)

// Adapter-side wire bytes. Kept separate from the link's own constants: this
// is the firmware on the far side of the cartridge bus, speaking the same
// protocol from the other end.
const (
	cardEscape   = 0x5C
	cardIdle     = 0x00
	cardNoCard   = 0xFF
	cardCmdVer   = 'v'
	cardCmdBPS   = 'b'
	cardCmdWater = 'w'
)

// DefaultVersion is the firmware identity a fresh Card reports.
const DefaultVersion = 0x42

// receive-side decoder states
const (
	stIdle = iota
	stEsc
	stVer   // 'v' seen, placeholder byte follows
	stBPS   // 'b' seen, four rate bytes follow
	stWater // 'w' seen, level byte follows
)

// Card simulates the adapter firmware: it answers identity queries,
// acknowledges bit-rate commands, records watermark notices and optionally
// echoes payload back as escaped wire data. It implements hw.Exchanger.
type Card struct {
	mu sync.Mutex

	// EchoPayload re-queues every received payload byte back toward the
	// link, escaped, making the card a protocol-level loopback.
	EchoPayload bool

	version  byte
	disabled bool

	state  int
	bpsBuf [4]byte
	bpsN   int

	tx       []byte // wire bytes queued toward the link, head first
	received []byte // decoded payload received from the link
	notices  []byte // watermark levels seen, in order
	bps      uint32
	speed    hw.SpeedClass
	hold     bool
	configs  int
}

// NewCard returns a powered card reporting DefaultVersion.
func NewCard() *Card { return &Card{version: DefaultVersion} }

// SetVersion overrides the firmware identity byte (0x00 and 0xFF simulate a
// dead or absent adapter).
func (c *Card) SetVersion(v byte) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

// Configure implements hw.Exchanger.
func (c *Card) Configure(speed hw.SpeedClass, hold bool) {
	c.mu.Lock()
	c.speed, c.hold, c.disabled = speed, hold, false
	c.configs++
	c.mu.Unlock()
}

// Disable implements hw.Exchanger; a disabled card floats the bus.
func (c *Card) Disable() {
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
}

// Exchange clocks one byte in each direction: the reply byte is whatever the
// card had queued before seeing tx, matching a real shift-register exchange
// where both bytes cross simultaneously.
func (c *Card) Exchange(tx byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return cardNoCard
	}
	rx := byte(cardIdle)
	if len(c.tx) > 0 {
		rx = c.tx[0]
		c.tx = c.tx[1:]
	}
	c.consume(tx)
	return rx
}

// consume runs the receive decoder for one wire byte from the link.
func (c *Card) consume(b byte) {
	switch c.state {
	case stEsc:
		switch b {
		case cardCmdVer:
			// load the identity now so it crosses on the placeholder byte's
			// exchange, where the querying side captures it
			c.tx = append(c.tx, c.version)
			c.state = stVer
		case cardCmdBPS:
			c.state = stBPS
			c.bpsN = 0
		case cardCmdWater:
			c.state = stWater
		default:
			// escaped literal payload (0x00, the marker itself, ...)
			c.state = stIdle
			c.payload(b)
		}
	case stVer:
		// placeholder byte, nothing to decode
		c.state = stIdle
	case stBPS:
		c.bpsBuf[c.bpsN] = b
		c.bpsN++
		c.tx = append(c.tx, b) // echo each rate byte as confirmation
		if c.bpsN == 4 {
			c.bps = uint32(c.bpsBuf[0])<<24 | uint32(c.bpsBuf[1])<<16 |
				uint32(c.bpsBuf[2])<<8 | uint32(c.bpsBuf[3])
			c.state = stIdle
		}
	case stWater:
		c.notices = append(c.notices, b)
		c.state = stIdle
	default:
		switch b {
		case cardEscape:
			c.state = stEsc
		case cardIdle, cardNoCard:
			// line idle
		default:
			c.payload(b)
		}
	}
}

func (c *Card) payload(b byte) {
	c.received = append(c.received, b)
	if c.EchoPayload {
		c.queueEscaped(b)
	}
}

func (c *Card) queueEscaped(b byte) {
	if b == cardIdle || b == cardEscape {
		c.tx = append(c.tx, cardEscape)
	}
	c.tx = append(c.tx, b)
}

// QueuePayload schedules payload bytes to be delivered to the link, escaped
// as the wire requires.
func (c *Card) QueuePayload(p []byte) {
	c.mu.Lock()
	for _, b := range p {
		c.queueEscaped(b)
	}
	c.mu.Unlock()
}

// QueueRaw schedules raw wire bytes verbatim, escapes and all. Tests use it
// to exercise the link's filter directly.
func (c *Card) QueueRaw(p []byte) {
	c.mu.Lock()
	c.tx = append(c.tx, p...)
	c.mu.Unlock()
}

// Received returns a copy of the decoded payload the card has accepted.
func (c *Card) Received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.received))
	copy(out, c.received)
	return out
}

// Notices returns the watermark levels seen so far (0x01 high, 0x00 low).
func (c *Card) Notices() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.notices))
	copy(out, c.notices)
	return out
}

// RemoteBPS returns the last bit rate commanded by the link.
func (c *Card) RemoteBPS() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bps
}

// PendingTX reports how many wire bytes wait to be clocked toward the link.
func (c *Card) PendingTX() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tx)
}
