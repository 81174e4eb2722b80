// Package discovery implements the UDP service discovery exchange: a client
// broadcasts a probe containing a marker string and every server that hears
// it answers with its identity string.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/ipv4"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/util"
)

// Responder answers discovery probes with a fixed identity.
type Responder struct {
	identity []byte
	marker   string
	recvSize int
}

// NewResponder creates a responder from the service name, marker and
// receive size in cfg.
func NewResponder(cfg config.Config) *Responder {
	return &Responder{
		identity: []byte(cfg.ServiceName),
		marker:   cfg.ScanMarker,
		recvSize: cfg.RecvSize,
	}
}

// Serve answers probes arriving on conn. It returns nil once ctx is
// cancelled (which closes conn) and an error if the socket fails otherwise.
// Datagrams without the marker are ignored.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)

	// The receiving interface routes the reply back out the same way; the
	// destination address tells broadcast probes apart in the logs. Not
	// every platform supports it.
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		util.LogDebug("discovery: control messages unavailable: %v", err)
	}

	util.LogInfo("listening for service discovery probes on %s", conn.LocalAddr())

	buf := make([]byte, r.recvSize)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery receive failed: %w", err)
		}

		if !strings.Contains(string(buf[:n]), r.marker) {
			util.LogDebug("discovery: ignoring %d byte datagram from %s", n, src)
			continue
		}

		if _, err := pc.WriteTo(r.identity, replyControl(cm), src); err != nil {
			util.LogWarning("discovery: failed to reply to %s: %v", src, err)
			continue
		}

		if cm != nil {
			util.LogDebug("discovery: answered %s (dst %s, if %d)", src, cm.Dst, cm.IfIndex)
		} else {
			util.LogDebug("discovery: answered %s", src)
		}
	}
}

// replyControl pins a reply to the interface its probe arrived on.
func replyControl(cm *ipv4.ControlMessage) *ipv4.ControlMessage {
	if cm == nil || cm.IfIndex == 0 {
		return nil
	}
	return &ipv4.ControlMessage{IfIndex: cm.IfIndex}
}
