package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Handler is called once per accepted connection. Implementations own the
// connection's full lifetime and must call Conn.Close before returning.
type Handler func(ctx context.Context, conn *Conn, remoteAddr string)

// ListenAndServeTLS runs an HTTP(S) server on addr that upgrades every
// request on path to a WebSocket and dispatches it to handle. It blocks
// until ctx is cancelled, then shuts down with a bounded grace period.
func ListenAndServeTLS(ctx context.Context, addr, path, certFile, keyFile string, handle Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("websocket accept failed", "remote_addr", r.RemoteAddr, "err", err)
			return
		}
		handle(r.Context(), New(ws), r.RemoteAddr)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServeTLS(certFile, keyFile)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("transport: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("transport: serve %s: %w", addr, err)
		}
		return err
	}
}
