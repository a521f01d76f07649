package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"log/slog"

	"github.com/dslink/go-spiuart/internal/hub"
	"github.com/dslink/go-spiuart/internal/metrics"
	"github.com/dslink/go-spiuart/internal/transport"
)

// startReader launches the goroutine forwarding client bytes toward the link.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		buf := make([]byte, readBufSize)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				metrics.AddTCPRx(n)
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if serr := s.Send(chunk); serr != nil {
					if errors.Is(serr, transport.ErrAsyncTxClosed) {
						return
					}
					s.totalLinkOverflow.Add(1)
					logger.Debug("link_overflow_drop", "bytes", n)
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
