package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/util"
)

// probeTTL keeps discovery probes on the local network segment.
const probeTTL = 1

// Result is one distinct discovery reply.
type Result struct {
	Service string // identity text sent by the responder
	Addr    string // responder's host:port
}

// Scanner broadcasts probes and collects replies.
type Scanner struct {
	probe    []byte
	cycles   int
	timeout  time.Duration
	recvSize int
}

// NewScanner creates a scanner from the marker, cycle count, per-cycle
// timeout and receive size in cfg.
func NewScanner(cfg config.Config) *Scanner {
	return &Scanner{
		probe:    []byte(cfg.ScanMarker),
		cycles:   cfg.ScanCycles,
		timeout:  cfg.ScanTimeout,
		recvSize: cfg.RecvSize,
	}
}

// Scan sends one probe per cycle to target and, after each probe, keeps
// receiving until no datagram arrives within the per-cycle timeout. Replies
// are deduplicated across cycles by (text, sender) and returned sorted by
// address.
//
// If ctx is cancelled mid-scan, the results gathered so far are returned
// together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, target string) ([]Result, error) {
	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery target %s: %w", target, err)
	}

	pc, err := openProbeConn()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()
	defer pc.Close()

	seen := make(map[Result]struct{})
	var results []Result
	buf := make([]byte, s.recvSize)

	for i := range s.cycles {
		util.LogDebug("discovery: sending probe %d/%d to %s", i+1, s.cycles, dst)
		if _, err := pc.WriteTo(s.probe, nil, dst); err != nil {
			if ctx.Err() != nil {
				return sortResults(results), ctx.Err()
			}
			return nil, fmt.Errorf("failed to send discovery probe: %w", err)
		}

		for {
			if err := pc.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
				return nil, fmt.Errorf("failed to set read deadline: %w", err)
			}

			n, cm, src, err := pc.ReadFrom(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break // quiet for a full window: this cycle is over
				}
				if ctx.Err() != nil {
					return sortResults(results), ctx.Err()
				}
				return nil, fmt.Errorf("discovery receive failed: %w", err)
			}

			r := Result{Service: string(buf[:n]), Addr: src.String()}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			results = append(results, r)
			if cm != nil {
				util.LogDebug("discovery: found %q at %s (if %d)", r.Service, r.Addr, cm.IfIndex)
			} else {
				util.LogDebug("discovery: found %q at %s", r.Service, r.Addr)
			}
		}
	}

	return sortResults(results), nil
}

// openProbeConn opens the scanner socket. Probes are sent with a TTL of
// probeTTL so they never leave the local link.
func openProbeConn() (*ipv4.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open broadcast socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(probeTTL); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to set probe TTL: %w", err)
	}
	// Only used to log the receiving interface.
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		util.LogDebug("discovery: control messages unavailable: %v", err)
	}
	return pc, nil
}

func sortResults(results []Result) []Result {
	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Or(cmp.Compare(a.Addr, b.Addr), cmp.Compare(a.Service, b.Service))
	})
	return results
}
