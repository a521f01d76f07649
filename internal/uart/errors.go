package uart

import "errors"

// Sentinel errors; callers classify with errors.Is.
var (
	// ErrAlreadyOpen is returned by Open while another link is open.
	ErrAlreadyOpen = errors.New("uart: link already open")
	// ErrNoTimer is returned by Open when every timer unit is busy.
	ErrNoTimer = errors.New("uart: no idle timer unit")
	// ErrNoPeer is returned by Open when the adapter never answered the
	// firmware probe with a usable identity.
	ErrNoPeer = errors.New("uart: peer probe failed")
	// ErrPrioTooLong rejects priority payloads larger than the output queue.
	ErrPrioTooLong = errors.New("uart: priority payload exceeds output capacity")
	// ErrShortCapture rejects capture buffers shorter than the payload.
	ErrShortCapture = errors.New("uart: capture buffer shorter than payload")
)
