package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/1ureka/fileshare/internal/protocol"
	"github.com/1ureka/fileshare/internal/store"
	"github.com/1ureka/fileshare/internal/util"
)

// session runs the command loop of one accepted connection. It is owned by
// a single goroutine and shares nothing with other sessions except the
// store and the atomic stats.
type session struct {
	log   util.Tagged
	conn  net.Conn
	r     *bufio.Reader
	buf   []byte
	store *store.Store
	stats *util.Stats

	maxNameLen uint64
}

func newSession(tag string, conn net.Conn, st *store.Store, stats *util.Stats, recvSize int, maxNameLen uint64) *session {
	return &session{
		log:        util.Tagged(tag),
		conn:       conn,
		r:          bufio.NewReaderSize(conn, recvSize),
		buf:        make([]byte, recvSize),
		store:      st,
		stats:      stats,
		maxNameLen: maxNameLen,
	}
}

// run reads one command at a time and dispatches it until BYE, EOF or an
// error. It returns nil for BYE and for a peer that closed the connection.
// The caller closes the connection.
func (s *session) run() error {
	for {
		cmd, err := protocol.ReadCommand(s.r)
		if err != nil {
			if err == io.EOF {
				s.log.Debugf("peer closed the connection")
				return nil
			}
			return err
		}

		s.log.Debugf("received %s", cmd)

		switch cmd {
		case protocol.CmdGet:
			err = s.handleGet()
		case protocol.CmdPut:
			err = s.handlePut()
		case protocol.CmdList:
			err = s.handleList()
		case protocol.CmdBye:
			s.log.Debugf("peer said goodbye")
			return nil
		}

		if err != nil {
			return err
		}
	}
}

// handleGet answers a GET with the size field and the file bytes, or with
// the NotFound sentinel when the file cannot be served.
func (s *session) handleGet() error {
	name, err := protocol.ReadName(s.r, s.maxNameLen)
	if err != nil {
		return err
	}

	f, size, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, protocol.ErrFileNotFound) {
			s.log.Warnf("GET %q: %v", name, err)
		} else {
			s.log.Errorf("GET %q: %v", name, err)
		}
		return s.write("send not-found", protocol.EncodeSize(protocol.NotFound))
	}
	defer f.Close()

	if err := s.write("send file size", protocol.EncodeSize(size)); err != nil {
		return err
	}

	n, err := io.CopyBuffer(s.conn, io.LimitReader(f, int64(size)), s.buf)
	s.stats.AddSent(n)
	if err != nil {
		return &protocol.ConnectionError{Op: fmt.Sprintf("send %s", name), Err: err}
	}
	if uint64(n) != size {
		// The file shrank while being sent; the peer can no longer find the
		// next frame boundary.
		return fmt.Errorf("file %s changed during GET: sent %d of %d bytes", name, n, size)
	}

	s.stats.AddServed()
	s.log.Infof("sent %s (%s)", name, util.FormatBytes(float64(size)))
	return nil
}

// handlePut stores the announced file. There is no acknowledgment; a file
// that cannot be stored is read and dropped so the next command lines up.
func (s *session) handlePut() error {
	name, err := protocol.ReadName(s.r, s.maxNameLen)
	if err != nil {
		return err
	}
	size, err := protocol.ReadU64(s.r)
	if err != nil {
		return err
	}

	s.log.Debugf("receiving %s (%d bytes)", name, size)

	err = s.store.Save(name, s.r, size, s.buf)
	if err != nil {
		var connErr *protocol.ConnectionError
		if errors.As(err, &connErr) || protocol.IsViolation(err) {
			return err
		}
		s.stats.AddRecv(int64(size))
		s.log.Warnf("PUT %q dropped: %v", name, err)
		return nil
	}

	s.stats.AddRecv(int64(size))
	s.stats.AddStored()
	s.log.Infof("stored %s (%s)", name, util.FormatBytes(float64(size)))
	return nil
}

// handleList sends the root directory listing. A listing failure is
// reported to the peer as an empty listing.
func (s *session) handleList() error {
	entries, err := s.store.List()
	if err != nil {
		s.log.Errorf("LIST: %v", err)
	}
	text := store.FormatListing(entries)
	if err := s.write("send listing", protocol.EncodeText(text)); err != nil {
		return err
	}
	s.stats.AddSent(int64(len(text)))
	return nil
}

func (s *session) write(op string, data []byte) error {
	if _, err := s.conn.Write(data); err != nil {
		return &protocol.ConnectionError{Op: op, Err: err}
	}
	return nil
}
