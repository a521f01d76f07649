package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/dslink/go-spiuart/internal/hub"
	"github.com/dslink/go-spiuart/internal/metrics"
)

// startWriter launches the goroutine pushing hub chunks to one client.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case chunk := <-cl.Out:
				if _, err := conn.Write(chunk); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				metrics.AddTCPTx(len(chunk))
			case <-cl.Closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}
