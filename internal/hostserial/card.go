// Package hostserial adapts a host serial port to the duplex byte-exchange
// contract. The far side is expected to be an adapter shim that clocks one
// byte back for every byte written, so each Exchange is one write followed by
// one blocking read.
package hostserial

import (
	"time"

	"github.com/tarm/serial"

	"github.com/dslink/go-spiuart/internal/hw"
	"github.com/dslink/go-spiuart/internal/logging"
	"github.com/dslink/go-spiuart/internal/metrics"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// exchangeRetries bounds how many zero-byte reads (timeouts) one exchange
// tolerates before reporting the floating-bus value.
const exchangeRetries = 8

// Card is an hw.Exchanger backed by a host serial port.
type Card struct {
	port Port
}

// NewCard wraps an already-open port.
func NewCard(p Port) *Card { return &Card{port: p} }

// Open opens the named serial device and wraps it.
func Open(name string, baud int, readTimeout time.Duration) (*Card, error) {
	p, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
	if err != nil {
		return nil, err
	}
	logging.L().Info("hostserial_open", "device", name, "baud", baud)
	return &Card{port: p}, nil
}

// Configure implements hw.Exchanger. The shift clock is fixed by the host
// port settings, so the speed class is informational only.
func (c *Card) Configure(speed hw.SpeedClass, hold bool) {
	logging.L().Debug("hostserial_configure", "speed_class", int(speed), "hold", hold)
}

// Exchange writes one byte and blocks for the byte clocked back. On a write
// error or a persistently silent line it reports 0xFF, the same value a
// floating bus would read, which the link's filter discards.
func (c *Card) Exchange(tx byte) byte {
	buf := [1]byte{tx}
	if _, err := c.port.Write(buf[:]); err != nil {
		metrics.IncError(metrics.ErrSerialIO)
		return 0xFF
	}
	for i := 0; i < exchangeRetries; i++ {
		n, err := c.port.Read(buf[:])
		if n == 1 {
			return buf[0]
		}
		if err != nil {
			metrics.IncError(metrics.ErrSerialIO)
			return 0xFF
		}
	}
	return 0xFF
}

// Disable implements hw.Exchanger.
func (c *Card) Disable() { _ = c.port.Close() }
