package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dslink/go-spiuart/internal/hub"
)

// captureSend records chunks the server forwards toward the link backend.
type captureSend struct {
	mu   sync.Mutex
	got  []byte
	wake chan struct{}
}

func newCaptureSend() *captureSend {
	return &captureSend{wake: make(chan struct{}, 1)}
}

func (c *captureSend) send(p []byte) error {
	c.mu.Lock()
	c.got = append(c.got, p...)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *captureSend) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.got))
	copy(out, c.got)
	return out
}

// dialAndShake connects and performs the hello exchange from the client side.
func dialAndShake(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(hello))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if string(buf) != hello {
		t.Fatalf("unexpected hello %q", buf)
	}
	return conn
}

// TestSmokeServer starts the server on an ephemeral port and pushes bytes
// both ways through a handshaken client.
func TestSmokeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := newCaptureSend()
	h := hub.New()
	srv := NewServer(
		WithHub(h),
		WithSend(sink.send),
		WithHandshakeTimeout(2*time.Second),
		WithReadDeadline(time.Second),
	)
	srv.SetListenAddr("127.0.0.1:0")
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server did not signal readiness")
	}

	conn := dialAndShake(t, ctx, srv.Addr())
	defer conn.Close()

	// client to link
	if _, err := conn.Write([]byte("AT\r")); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !bytes.Equal(sink.bytes(), []byte("AT\r")) {
		if time.Now().After(deadline) {
			t.Fatalf("backend captured %#v, want %q", sink.bytes(), "AT\r")
		}
		select {
		case <-sink.wake:
		case <-time.After(10 * time.Millisecond):
		}
	}

	// link to client via hub broadcast
	h.Broadcast([]byte("OK\r"))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	rb := make([]byte, 3)
	if _, err := io.ReadFull(conn, rb); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if string(rb) != "OK\r" {
		t.Fatalf("broadcast = %q, want %q", rb, "OK\r")
	}
}

func TestServerRejectsBadHello(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewServer(
		WithHub(hub.New()),
		WithSend(func(p []byte) error { return nil }),
		WithHandshakeTimeout(500*time.Millisecond),
	)
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server did not signal readiness")
	}

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("GET / HTTP1.1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// server must drop the connection without attaching it
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	if got := srv.Hub.Count(); got != 0 {
		t.Fatalf("bad-hello client attached, Count = %d", got)
	}
}

func TestServerMaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewServer(
		WithHub(hub.New()),
		WithSend(func(p []byte) error { return nil }),
		WithMaxClients(1),
		WithHandshakeTimeout(time.Second),
	)
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server did not signal readiness")
	}

	first := dialAndShake(t, ctx, srv.Addr())
	defer first.Close()

	// second client completes the hello but must then be dropped
	second := dialAndShake(t, ctx, srv.Addr())
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Fatal("over-limit client was not disconnected")
	}
	if got := srv.Hub.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}
