package uart

import (
	"bytes"
	"testing"

	"github.com/dslink/go-spiuart/internal/hw"
	"github.com/dslink/go-spiuart/internal/sim"
)

func raiseN(b *sim.Board, n int) {
	for i := 0; i < n; i++ {
		b.Raise(hw.SourceCardLine)
	}
}

func TestPumpFilterAndEscapes(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	// raw wire stream: idle fill, floating bus, escaped 0x00, plain byte,
	// escaped marker
	card.QueueRaw([]byte{0x00, 0xFF, 0x5C, 0x00, 'A', 0x5C, 0x5C})
	raiseN(board, 7)

	got := make([]byte, 8)
	n := l.Read(got)
	want := []byte{0x00, 'A', 0x5C}
	if !bytes.Equal(got[:n], want) {
		t.Fatalf("filtered input = %#v, want %#v", got[:n], want)
	}
}

func TestPumpEscapeStateSpansExchanges(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	// marker arrives on one interrupt, the literal on the next
	card.QueueRaw([]byte{0x5C})
	raiseN(board, 1)
	if l.Available() != 0 {
		t.Fatalf("marker alone produced input, Available = %d", l.Available())
	}
	card.QueueRaw([]byte{0xFF})
	raiseN(board, 1)
	got := make([]byte, 1)
	if n := l.Read(got); n != 1 || got[0] != 0xFF {
		t.Fatalf("escaped literal read = %d %#v, want 1 [0xFF]", n, got)
	}
}

func TestPumpIdleFillWhenDrained(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	raiseN(board, 5)
	if got := card.Received(); len(got) != 0 {
		t.Fatalf("idle exchanges delivered payload to peer: %#v", got)
	}
	if l.Available() != 0 {
		t.Fatalf("idle exchanges produced input, Available = %d", l.Available())
	}
}

func TestPumpPayloadRoundTrip(t *testing.T) {
	card := sim.NewCard()
	card.EchoPayload = true
	l, board := openTestLink(t, card)

	payload := []byte{'h', 'i', 0x00, 0x5C, '!'}
	if n := l.Write(payload); n != len(payload) {
		t.Fatalf("Write = %d, want %d", n, len(payload))
	}
	// 7 wire bytes out (two escapes), another 7 back for the echo
	raiseN(board, 14)

	if got := card.Received(); !bytes.Equal(got, payload) {
		t.Fatalf("card received %#v, want %#v", got, payload)
	}
	got := make([]byte, 16)
	n := l.Read(got)
	if !bytes.Equal(got[:n], payload) {
		t.Fatalf("echoed input = %#v, want %#v", got[:n], payload)
	}
}

func TestPumpInputEviction(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	for i := 0; i < InCapacity; i++ {
		l.in[i] = byte(i)
	}
	l.inLen = InCapacity

	card.QueuePayload([]byte{'X'})
	raiseN(board, 1)

	// one block of the oldest data made room for the newcomer
	if want := InCapacity - evictBlock + 1; l.inLen != want {
		t.Fatalf("inLen after eviction = %d, want %d", l.inLen, want)
	}
	if l.in[0] != byte(evictBlock) {
		t.Fatalf("front byte = %#x, want %#x", l.in[0], byte(evictBlock))
	}
	if l.in[l.inLen-1] != 'X' {
		t.Fatalf("newest byte = %#x, want 'X'", l.in[l.inLen-1])
	}
}

func TestPumpEvictionFromRequeuedMargin(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	for i := 0; i < InCapacity; i++ {
		l.in[i] = byte(i)
	}
	l.inLen = InCapacity
	// push occupancy into the margin, as a consumer handing bytes back does
	if !l.Requeue(bytes.Repeat([]byte{'y'}, InMargin)) {
		t.Fatal("Requeue into the margin rejected")
	}

	card.QueuePayload([]byte{'X'})
	raiseN(board, 1)

	// eviction still fires above nominal capacity and the append stays in
	// bounds: the requeued block is exactly the oldest and gets dropped
	if want := InCapacity + InMargin - evictBlock + 1; l.inLen != want {
		t.Fatalf("inLen after margin eviction = %d, want %d", l.inLen, want)
	}
	if l.in[0] != 0 {
		t.Fatalf("front byte = %#x, want 0x00", l.in[0])
	}
	if l.in[l.inLen-1] != 'X' {
		t.Fatalf("newest byte = %#x, want 'X'", l.in[l.inLen-1])
	}
}

func TestPumpWatermarkNotices(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)
	l.SetWatermarks(75, 25) // 192 / 64 bytes

	l.inLen = l.waterHigh - 1
	card.QueuePayload([]byte{'A'})
	raiseN(board, 1) // crosses the high mark, splices the notice
	raiseN(board, 3) // drains the three notice bytes to the peer

	if got := card.Notices(); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("notices after high crossing = %#v, want [0x01]", got)
	}

	// still above the low mark: more input must not repeat the notice
	card.QueuePayload([]byte{'B'})
	raiseN(board, 1)
	if got := card.Notices(); len(got) != 1 {
		t.Fatalf("high notice not latched, notices = %#v", got)
	}

	// drain below the low mark, next byte triggers the all-clear
	buf := make([]byte, l.inLen-l.waterLow+2)
	l.Read(buf)
	card.QueuePayload([]byte{'C'})
	raiseN(board, 1)
	raiseN(board, 3)
	if got := card.Notices(); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Fatalf("notices after low crossing = %#v, want [0x01 0x00]", got)
	}
}
