package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts sessions and traffic for one server instance. The zero value
// is ready to use and all methods are safe for concurrent use.
type Stats struct {
	TotalSessions  atomic.Int64 // sessions accepted since start
	ClosedSessions atomic.Int64 // sessions finished since start
	BytesSent      atomic.Int64 // payload bytes written to peers
	BytesRecv      atomic.Int64 // payload bytes read from peers
	FilesServed    atomic.Int64 // completed GET responses
	FilesStored    atomic.Int64 // completed PUT requests
}

func (s *Stats) AddSession()     { s.TotalSessions.Add(1) }
func (s *Stats) RemoveSession()  { s.ClosedSessions.Add(1) }
func (s *Stats) AddSent(n int64) { s.BytesSent.Add(n) }
func (s *Stats) AddRecv(n int64) { s.BytesRecv.Add(n) }
func (s *Stats) AddServed()      { s.FilesServed.Add(1) }
func (s *Stats) AddStored()      { s.FilesStored.Add(1) }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Live        int64 `json:"live"`
	Total       int64 `json:"total"`
	Closed      int64 `json:"closed"`
	BytesSent   int64 `json:"bytesSent"`
	BytesRecv   int64 `json:"bytesRecv"`
	FilesServed int64 `json:"filesServed"`
	FilesStored int64 `json:"filesStored"`
}

// Snapshot reads all counters.
func (s *Stats) Snapshot() Snapshot {
	total := s.TotalSessions.Load()
	closed := s.ClosedSessions.Load()
	return Snapshot{
		Live:        total - closed,
		Total:       total,
		Closed:      closed,
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		FilesServed: s.FilesServed.Load(),
		FilesStored: s.FilesStored.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs the stats every interval
// when anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		prev := s.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()

				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				opened := cur.Total - prev.Total
				closed := cur.Closed - prev.Closed

				if opened > 0 || closed > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, opened, closed, cur.Live))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB".
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns one reporter line.
func formatStats(inS, outS float64, opened, closed, live int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓ (%d live)",
		FormatBytes(inS),
		FormatBytes(outS),
		opened,
		closed,
		live,
	)
}
