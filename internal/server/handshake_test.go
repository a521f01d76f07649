package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestHandshakeMutualHello(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Handshake(context.Background(), a, time.Second) }()

	// peer side: send our hello, read theirs
	go func() { _, _ = b.Write([]byte(hello)) }()
	buf := make([]byte, len(hello))
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != hello {
		t.Fatalf("peer saw %q, want %q", buf, hello)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
}

func TestHandshakeRejectsWrongHello(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Handshake(context.Background(), a, time.Second) }()

	go func() { _, _ = b.Write([]byte("NOTUARTxx")) }()
	_, _ = io.ReadFull(b, make([]byte, len(hello)))
	if err := <-errCh; err == nil {
		t.Fatal("expected error for wrong hello")
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	start := time.Now()
	err := Handshake(context.Background(), a, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took %v", time.Since(start))
	}
}
