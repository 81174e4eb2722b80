package server

import (
	"context"
	"fmt"
	"net"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/discovery"
	"github.com/1ureka/fileshare/internal/monitor"
	"github.com/1ureka/fileshare/internal/util"
)

// Server bundles the discovery responder and the transfer acceptor. The two
// run concurrently and share nothing but the stats.
type Server struct {
	cfg       config.Config
	stats     *util.Stats
	acceptor  *Acceptor
	responder *discovery.Responder
}

// New creates a server from cfg.
func New(cfg config.Config) *Server {
	stats := &util.Stats{}
	return &Server{
		cfg:       cfg,
		stats:     stats,
		acceptor:  NewAcceptor(cfg, stats),
		responder: discovery.NewResponder(cfg),
	}
}

// Acceptor exposes the session registry.
func (s *Server) Acceptor() *Acceptor { return s.acceptor }

// Run binds the discovery and transfer sockets and serves until ctx is
// cancelled or one of the loops fails. Sessions still running at that point
// are cancelled, not drained.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	udp, err := net.ListenPacket("udp4", s.cfg.DiscoveryAddr())
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket on %s: %w", s.cfg.DiscoveryAddr(), err)
	}

	ln, err := net.Listen("tcp", s.cfg.TransferAddr())
	if err != nil {
		udp.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.TransferAddr(), err)
	}

	return s.Serve(ctx, udp, ln)
}

// Serve is Run on already bound sockets. Both sockets are closed when it
// returns, including on an invalid configuration.
func (s *Server) Serve(ctx context.Context, udp net.PacketConn, ln net.Listener) error {
	if err := s.cfg.Validate(); err != nil {
		udp.Close()
		ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	util.StartStatsReporter(ctx, s.stats, s.cfg.StatsInterval)

	loops := 2
	errCh := make(chan error, 3)
	go func() { errCh <- s.responder.Serve(ctx, udp) }()
	go func() { errCh <- s.acceptor.Serve(ctx, ln) }()

	if s.cfg.MonitorAddr != "" {
		loops++
		mon := monitor.New(s.acceptor, s.cfg.StatsInterval)
		go func() { errCh <- mon.ListenAndServe(ctx, s.cfg.MonitorAddr) }()
	}

	// The first loop to return ends the server; the rest follow via cancel.
	var firstErr error
	for range loops {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}

	s.acceptor.CancelAll()
	return firstErr
}
