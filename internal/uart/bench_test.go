package uart

import (
	"bytes"
	"testing"

	"github.com/dslink/go-spiuart/internal/sim"
)

func BenchmarkWrite_256(b *testing.B) {
	l := bareLink(sim.NewCard())
	payload := bytes.Repeat([]byte{'x'}, OutCapacity)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.Write(payload)
		l.outHead, l.outLen = 0, 0
	}
}

func BenchmarkPumpExchange(b *testing.B) {
	l := bareLink(sim.NewCard())
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.pump()
		l.inLen = 0
	}
}
