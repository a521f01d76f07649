package uart

import (
	"bytes"
	"testing"

	"github.com/dslink/go-spiuart/internal/sim"
)

func TestWriteEscapesReservedBytes(t *testing.T) {
	l, _ := openTestLink(t, sim.NewCard())

	if n := l.Write([]byte{0x00, 'A', 0x5C}); n != 3 {
		t.Fatalf("Write = %d, want 3", n)
	}
	want := []byte{0x5C, 0x00, 'A', 0x5C, 0x5C}
	if !bytes.Equal(l.out[:l.outLen], want) {
		t.Fatalf("queued wire bytes = %#v, want %#v", l.out[:l.outLen], want)
	}
}

func TestWritePartialOnFullQueue(t *testing.T) {
	l, _ := openTestLink(t, sim.NewCard())

	// leave exactly two free slots
	fill := bytes.Repeat([]byte{'a'}, OutCapacity-2)
	if n := l.Write(fill); n != len(fill) {
		t.Fatalf("prefill Write = %d, want %d", n, len(fill))
	}

	// the escaped 0x00 takes both slots, nothing after it fits, and the
	// marker that would not fit is not half-written
	n := l.Write([]byte{0x00, 0x5C, 'A'})
	if n != 1 {
		t.Fatalf("Write = %d, want 1", n)
	}
	if l.outLen != OutCapacity {
		t.Fatalf("outLen = %d, want %d", l.outLen, OutCapacity)
	}
	if tail := l.out[l.outLen-2 : l.outLen]; !bytes.Equal(tail, []byte{0x5C, 0x00}) {
		t.Fatalf("queue tail = %#v, want [0x5C 0x00]", tail)
	}
}

func TestWriteCompactsSentPrefix(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	l.Write(bytes.Repeat([]byte{'x'}, OutCapacity))
	raiseN(board, 10) // send part of it

	// the drained prefix frees capacity for new data
	if n := l.Write(bytes.Repeat([]byte{'y'}, 10)); n != 10 {
		t.Fatalf("Write after partial drain = %d, want 10", n)
	}
	if l.outHead != 0 {
		t.Fatalf("outHead = %d, want 0 after compaction", l.outHead)
	}
	if l.outLen != OutCapacity {
		t.Fatalf("outLen = %d, want %d", l.outLen, OutCapacity)
	}
}

func TestSendAndFlushDrain(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	stop := drivePump(board)
	defer stop()

	l.Send("hello, uart")
	l.Flush()

	if got := string(card.Received()); got != "hello, uart" {
		t.Fatalf("card received %q, want %q", got, "hello, uart")
	}
}

func TestSendByte(t *testing.T) {
	card := sim.NewCard()
	l, board := openTestLink(t, card)

	stop := drivePump(board)
	defer stop()

	l.SendByte(0x00) // reserved value, goes out escaped
	l.Flush()

	if got := card.Received(); !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("card received %#v, want [0x00]", got)
	}
}
