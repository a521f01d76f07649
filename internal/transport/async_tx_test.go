package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncTx_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte
	done := make(chan struct{})

	a := NewAsyncTx(context.Background(), 8, func(p []byte) error {
		mu.Lock()
		got = append(got, p)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}, Hooks{})
	defer a.Close()

	for _, s := range []string{"one", "two", "three"} {
		if err := a.Send([]byte(s)); err != nil {
			t.Fatalf("Send(%q): %v", s, err)
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("chunks not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if string(got[i]) != want {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestAsyncTx_OverflowRunsDropHook(t *testing.T) {
	block := make(chan struct{})
	var drops atomic.Int32
	wantErr := errors.New("tx overflow")

	a := NewAsyncTx(context.Background(), 1, func(p []byte) error {
		<-block
		return nil
	}, Hooks{OnDrop: func() error { drops.Add(1); return wantErr }})
	// unblock the sink before Close so the worker can drain and exit
	defer a.Close()
	defer close(block)

	// first chunk parks in the worker, second fills the buffer
	_ = a.Send([]byte{1})
	_ = a.Send([]byte{2})

	deadline := time.Now().Add(time.Second)
	for drops.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("overflow never reported")
		}
		if err := a.Send([]byte{3}); err != nil && !errors.Is(err, wantErr) {
			t.Fatalf("Send err = %v, want %v", err, wantErr)
		}
	}
}

func TestAsyncTx_OnErrorKeepsWorkerAlive(t *testing.T) {
	var sends atomic.Int32
	var errs atomic.Int32
	done := make(chan struct{})

	a := NewAsyncTx(context.Background(), 8, func(p []byte) error {
		if sends.Add(1) == 1 {
			return errors.New("sink hiccup")
		}
		close(done)
		return nil
	}, Hooks{OnError: func(err error) { errs.Add(1) }})
	defer a.Close()

	_ = a.Send([]byte{1})
	_ = a.Send([]byte{2})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after a send error")
	}
	if errs.Load() != 1 {
		t.Fatalf("OnError ran %d times, want 1", errs.Load())
	}
}

func TestAsyncTx_OnAfterReportsBytes(t *testing.T) {
	var after atomic.Int32
	done := make(chan struct{})

	a := NewAsyncTx(context.Background(), 1, func(p []byte) error { return nil },
		Hooks{OnAfter: func(n int) {
			after.Store(int32(n))
			close(done)
		}})
	defer a.Close()

	_ = a.Send([]byte("abcde"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnAfter never ran")
	}
	if after.Load() != 5 {
		t.Fatalf("OnAfter n = %d, want 5", after.Load())
	}
}

func TestAsyncTx_SendAfterClose(t *testing.T) {
	a := NewAsyncTx(context.Background(), 1, func(p []byte) error { return nil }, Hooks{})
	a.Close()
	if err := a.Send([]byte{1}); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("Send after Close = %v, want ErrAsyncTxClosed", err)
	}
	a.Close() // idempotent
}
