// Package monitor exposes a read-only WebSocket feed of server statistics.
// Every connected client receives a JSON snapshot immediately and then once
// per interval until it disconnects.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/fileshare/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// writeWait bounds a single snapshot write to a slow client.
	writeWait = 5 * time.Second

	defaultInterval = time.Second
)

// Source provides the snapshots pushed to clients.
type Source interface {
	Snapshot() util.Snapshot
}

// Server is the monitor HTTP server.
type Server struct {
	src      Source
	interval time.Duration
}

// New creates a monitor that publishes src every interval. A non-positive
// interval falls back to one second.
func New(src Source, interval time.Duration) *Server {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Server{src: src, interval: interval}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start monitor on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	util.LogInfo("monitor feed available at ws://%s/ws", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor server failed: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The feed is one-way; reading only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
			util.LogDebug("monitor: client %s gone: %v", r.RemoteAddr, err)
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
			return
		}
	}
}
