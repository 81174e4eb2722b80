// Package client implements the client role: the transfer connection that
// mirrors the server's session protocol, and the dispatcher that turns user
// commands into local actions or remote requests.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/protocol"
	"github.com/1ureka/fileshare/internal/store"
)

// maxListingSize bounds the LIST response the client is willing to buffer.
const maxListingSize = 64 << 20

// Progress observes the payload bytes of one transfer.
type Progress interface {
	io.Writer
	Done()
}

// ProgressFunc starts progress reporting for a transfer of total bytes.
type ProgressFunc func(title string, total uint64) Progress

// Conn is one persistent transfer connection. Requests are strictly
// sequential; Conn is not safe for concurrent use.
type Conn struct {
	conn  net.Conn
	r     *bufio.Reader
	buf   []byte
	local *store.Store

	// Progress, when set, is notified of GET and PUT payload bytes.
	Progress ProgressFunc

	// broken is set once a failure left the stream at an unknown position.
	broken bool
}

// Dial connects to a file sharing service at addr.
func Dial(ctx context.Context, addr string, cfg config.Config) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &protocol.ConnectionError{Op: "connect to " + addr, Err: err}
	}
	return NewConn(conn, cfg), nil
}

// NewConn wraps an established connection. Local files live in cfg.LocalDir.
func NewConn(conn net.Conn, cfg config.Config) *Conn {
	return &Conn{
		conn:  conn,
		r:     bufio.NewReaderSize(conn, cfg.RecvSize),
		buf:   make([]byte, cfg.RecvSize),
		local: store.New(cfg.LocalDir),
	}
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Broken reports whether a failure desynchronized the connection. A broken
// Conn must be closed and replaced.
func (c *Conn) Broken() bool { return c.broken }

// Close closes the connection without notifying the server.
func (c *Conn) Close() error { return c.conn.Close() }

// Get downloads the remote file into the local file and returns its size.
// A missing remote file reports protocol.ErrFileNotFound and leaves the
// connection usable.
func (c *Conn) Get(remote, local string) (uint64, error) {
	req, err := protocol.EncodeGet(remote)
	if err != nil {
		return 0, err
	}
	if _, err := c.local.Resolve(local); err != nil {
		return 0, err
	}

	if err := c.write("send GET", req); err != nil {
		return 0, err
	}

	size, err := protocol.ReadU64(c.r)
	if err != nil {
		return 0, c.fail(err)
	}
	if size == protocol.NotFound {
		return 0, fmt.Errorf("%w: %s", protocol.ErrFileNotFound, remote)
	}

	var r io.Reader = c.r
	if p := c.startProgress("get "+remote, size); p != nil {
		defer p.Done()
		r = io.TeeReader(c.r, p)
	}

	if err := c.local.Save(local, r, size, c.buf); err != nil {
		var connErr *protocol.ConnectionError
		if errors.As(err, &connErr) || protocol.IsViolation(err) {
			return 0, c.fail(err)
		}
		return 0, err
	}
	return size, nil
}

// Put uploads the local file under the remote name and returns its size.
// The server sends no acknowledgment.
func (c *Conn) Put(local, remote string) (uint64, error) {
	f, size, err := c.local.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	hdr, err := protocol.EncodePutHeader(remote, size)
	if err != nil {
		return 0, err
	}
	if err := c.write("send PUT header", hdr); err != nil {
		return 0, err
	}

	var w io.Writer = c.conn
	if p := c.startProgress("put "+local, size); p != nil {
		defer p.Done()
		w = io.MultiWriter(c.conn, p)
	}

	n, err := io.CopyBuffer(w, io.LimitReader(f, int64(size)), c.buf)
	if err != nil {
		return 0, c.fail(&protocol.ConnectionError{Op: "send " + local, Err: err})
	}
	if uint64(n) != size {
		return 0, c.fail(fmt.Errorf("file %s changed during PUT: sent %d of %d bytes", local, n, size))
	}
	return size, nil
}

// List returns the server's directory listing.
func (c *Conn) List() ([]string, error) {
	if err := c.write("send LIST", protocol.EncodeHeader(protocol.CmdList)); err != nil {
		return nil, err
	}
	text, err := protocol.ReadText(c.r, maxListingSize)
	if err != nil {
		return nil, c.fail(err)
	}
	return store.ParseListing(text), nil
}

// Bye tells the server to end the session and closes the connection.
func (c *Conn) Bye() error {
	err := c.write("send BYE", protocol.EncodeHeader(protocol.CmdBye))
	c.broken = true
	return errors.Join(err, c.conn.Close())
}

func (c *Conn) write(op string, data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return c.fail(&protocol.ConnectionError{Op: op, Err: err})
	}
	return nil
}

func (c *Conn) fail(err error) error {
	c.broken = true
	return err
}

func (c *Conn) startProgress(title string, total uint64) Progress {
	if c.Progress == nil || total == 0 {
		return nil
	}
	return c.Progress(title, total)
}
