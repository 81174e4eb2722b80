// Package server implements the server role: the discovery responder, the
// TCP accept loop and the per-connection transfer sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/protocol"
	"github.com/1ureka/fileshare/internal/store"
	"github.com/1ureka/fileshare/internal/util"
)

// SessionInfo describes one live session.
type SessionInfo struct {
	ID     string    `json:"id"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
}

// liveSession is the acceptor's handle on a running session.
type liveSession struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// Acceptor accepts transfer connections and runs one session goroutine per
// connection. Each session is registered under a UUID with its own
// cancelable context, so live sessions can be counted, listed and stopped.
type Acceptor struct {
	store      *store.Store
	stats      *util.Stats
	recvSize   int
	maxNameLen uint64

	mu       sync.Mutex
	sessions map[string]*liveSession
	wg       sync.WaitGroup
}

// NewAcceptor creates an acceptor serving files under cfg.Root. stats may be
// shared with other components; a nil stats gets a private counter set.
func NewAcceptor(cfg config.Config, stats *util.Stats) *Acceptor {
	if stats == nil {
		stats = &util.Stats{}
	}
	return &Acceptor{
		store:      store.New(cfg.Root),
		stats:      stats,
		recvSize:   cfg.RecvSize,
		maxNameLen: cfg.MaxNameLen,
		sessions:   make(map[string]*liveSession),
	}
}

// Serve accepts connections on ln until ctx is cancelled, which closes ln
// and cancels every session started from it. It never waits on a session.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	util.LogInfo("serving %s on %s", a.store.Root(), ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil // normal shutdown
			}
			return fmt.Errorf("accept error: %w", err)
		}

		a.spawn(ctx, conn)
	}
}

// spawn registers a session for conn and starts its goroutine.
func (a *Acceptor) spawn(parent context.Context, conn net.Conn) {
	id := uuid.New().String()
	tag := strings.ReplaceAll(id, "-", "")[:8]

	ctx, cancel := context.WithCancel(parent)
	ls := &liveSession{
		info:   SessionInfo{ID: id, Remote: conn.RemoteAddr().String(), Since: time.Now()},
		cancel: cancel,
	}

	a.stats.AddSession()
	a.mu.Lock()
	a.sessions[id] = ls
	live := len(a.sessions)
	a.mu.Unlock()

	util.LogInfo("[%s] connection received from %s (%d live)", tag, conn.RemoteAddr(), live)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.remove(id)

		// Cancelling the session unblocks any pending read by closing conn.
		stopClose := context.AfterFunc(ctx, func() { conn.Close() })
		defer stopClose()
		defer cancel()
		defer conn.Close()

		s := newSession(tag, conn, a.store, a.stats, a.recvSize, a.maxNameLen)
		err := s.run()

		var connErr *protocol.ConnectionError
		switch {
		case err == nil:
			util.LogInfo("[%s] closing client connection", tag)
		case ctx.Err() != nil:
			util.LogInfo("[%s] session cancelled", tag)
		case protocol.IsViolation(err):
			util.LogWarning("[%s] protocol violation, closing session: %v", tag, err)
		case errors.As(err, &connErr):
			util.LogWarning("[%s] %v", tag, err)
		default:
			util.LogError("[%s] session failed: %v", tag, err)
		}
	}()
}

func (a *Acceptor) remove(id string) {
	// Counted first so that Count() == 0 implies the stats are settled.
	a.stats.RemoveSession()
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

// Count returns the number of live sessions.
func (a *Acceptor) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Sessions returns the live sessions ordered by start time.
func (a *Acceptor) Sessions() []SessionInfo {
	a.mu.Lock()
	out := make([]SessionInfo, 0, len(a.sessions))
	for _, ls := range a.sessions {
		out = append(out, ls.info)
	}
	a.mu.Unlock()

	slices.SortFunc(out, func(x, y SessionInfo) int { return x.Since.Compare(y.Since) })
	return out
}

// Cancel stops the session with the given ID. It reports whether the
// session was live.
func (a *Acceptor) Cancel(id string) bool {
	a.mu.Lock()
	ls, ok := a.sessions[id]
	a.mu.Unlock()

	if ok {
		ls.cancel()
	}
	return ok
}

// CancelAll stops every live session without waiting for them.
func (a *Acceptor) CancelAll() {
	a.mu.Lock()
	for _, ls := range a.sessions {
		ls.cancel()
	}
	a.mu.Unlock()
}

// Wait blocks until every session started so far has exited.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// Snapshot returns the traffic counters, with Live taken from the registry.
func (a *Acceptor) Snapshot() util.Snapshot {
	snap := a.stats.Snapshot()
	snap.Live = int64(a.Count())
	return snap
}
