package uart

import "encoding/binary"

// FirmwareVersion queries the adapter's firmware identity over the priority
// channel and blocks until the reply byte arrives. The reply overwrites the
// third frame byte; 0x00 and 0xFF mean no adapter answered.
func (l *Link) FirmwareVersion() byte {
	msg := []byte{EscapeMarker, cmdVersion, 0x00}
	if err := l.WritePrio(msg, msg, 0); err != nil {
		return 0
	}
	l.WaitPrio(0)
	return msg[2]
}

// probeVersion is the Open-time variant with a bounded per-attempt wait, so a
// silent adapter cannot stall bring-up forever.
func (l *Link) probeVersion() byte {
	msg := []byte{EscapeMarker, cmdVersion, 0x00}
	if err := l.WritePrio(msg, msg, 0); err != nil {
		return 0
	}
	if !l.WaitPrio(l.probeTimeout) {
		return 0
	}
	return msg[2]
}

// SetRemoteBPS asks the adapter to change its outward UART bit rate. The four
// big-endian rate bytes are echoed back into the frame as confirmation.
func (l *Link) SetRemoteBPS(bps uint32) {
	msg := []byte{EscapeMarker, cmdBitRate, 0x00, 0x00, 0x00, 0x00}
	binary.BigEndian.PutUint32(msg[2:], bps)
	if err := l.WritePrio(msg, msg, 0); err != nil {
		return
	}
	l.WaitPrio(0)
}
