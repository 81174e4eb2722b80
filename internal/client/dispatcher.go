package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/discovery"
	"github.com/1ureka/fileshare/internal/store"
	"github.com/1ureka/fileshare/internal/util"
)

var (
	// ErrNotConnected is returned by remote commands issued without a
	// connection. Nothing is sent in that case.
	ErrNotConnected = errors.New("not connected to any file sharing service")

	// ErrInvalidCommand is returned for unknown command names.
	ErrInvalidCommand = errors.New("not a valid command")

	// ErrUsage is returned for commands with missing or extra arguments.
	ErrUsage = errors.New("usage")
)

// Command names accepted by Execute.
const (
	CmdScan    = "scan"
	CmdConnect = "connect"
	CmdLList   = "llist"
	CmdBye     = "bye"
	CmdGet     = "get"
	CmdPut     = "put"
	CmdRList   = "rlist"
	CmdHelp    = "help"
)

// commandHelp is printed by "help", in display order.
var commandHelp = [][]string{
	{"Command", "Arguments", "Description"},
	{CmdScan, "", "find file sharing services on the local network"},
	{CmdConnect, "<host> <port> | <scan index>", "open the transfer connection"},
	{CmdLList, "", "list the local directory"},
	{CmdRList, "", "list the remote directory"},
	{CmdGet, "<remote> [local]", "download a file"},
	{CmdPut, "<local> [remote]", "upload a file"},
	{CmdBye, "", "close the transfer connection"},
}

// Dispatcher interprets user command lines. Local commands (scan, connect,
// llist, bye) run without the server; remote commands (get, put, rlist)
// travel over the single persistent connection opened by connect.
//
// A Dispatcher is meant to be driven by one goroutine.
type Dispatcher struct {
	cfg     config.Config
	out     io.Writer
	scanner *discovery.Scanner
	local   *store.Store

	conn     *Conn
	lastScan []discovery.Result

	// Progress is handed to every new connection.
	Progress ProgressFunc
}

// NewDispatcher creates an unconnected dispatcher writing its output to out.
func NewDispatcher(cfg config.Config, out io.Writer) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		out:     out,
		scanner: discovery.NewScanner(cfg),
		local:   store.New(cfg.LocalDir),
	}
}

// Connected reports whether a transfer connection is open.
func (d *Dispatcher) Connected() bool { return d.conn != nil }

// Execute runs one line of input: a command name and up to two arguments.
// Blank lines are ignored.
func (d *Dispatcher) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if len(args) > 2 {
		return fmt.Errorf("%w: %s takes at most two arguments", ErrUsage, name)
	}

	switch name {
	case CmdScan:
		return d.scan(ctx)
	case CmdConnect:
		return d.connect(ctx, args)
	case CmdLList:
		return d.llist()
	case CmdBye:
		return d.bye()
	case CmdGet:
		return d.get(args)
	case CmdPut:
		return d.put(args)
	case CmdRList:
		return d.rlist()
	case CmdHelp:
		return d.help()
	default:
		return fmt.Errorf("%w: %s", ErrInvalidCommand, name)
	}
}

// Close notifies the server, if connected, and drops the connection.
func (d *Dispatcher) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Bye()
	d.conn = nil
	return err
}

// ---------------------------------------------------------------------------
// Local commands
// ---------------------------------------------------------------------------

func (d *Dispatcher) scan(ctx context.Context) error {
	results, err := d.scanner.Scan(ctx, d.cfg.ProbeAddr())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	d.lastScan = results

	if len(results) == 0 {
		fmt.Fprintln(d.out, "No services found.")
		return nil
	}

	data := [][]string{{"#", "Service", "Address"}}
	for i, r := range results {
		data = append(data, []string{strconv.Itoa(i), r.Service, r.Addr})
	}
	return d.render(pterm.DefaultTable.WithHasHeader().WithData(data).Srender())
}

func (d *Dispatcher) connect(ctx context.Context, args []string) error {
	if d.conn != nil {
		return fmt.Errorf("already connected to %s, use bye first", d.conn.RemoteAddr())
	}

	var addr string
	switch len(args) {
	case 1:
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 || idx >= len(d.lastScan) {
			return fmt.Errorf("%w: connect <host> <port> | connect <scan index>", ErrUsage)
		}
		addr = d.lastScan[idx].Addr
		// Discovery replies come from the discovery port; transfers use
		// the configured transfer port on the same host.
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = net.JoinHostPort(host, strconv.Itoa(d.cfg.TransferPort))
		}
	case 2:
		if _, err := strconv.ParseUint(args[1], 10, 16); err != nil {
			return fmt.Errorf("%w: invalid port %q", ErrUsage, args[1])
		}
		addr = net.JoinHostPort(args[0], args[1])
	default:
		return fmt.Errorf("%w: connect <host> <port> | connect <scan index>", ErrUsage)
	}

	conn, err := Dial(ctx, addr, d.cfg)
	if err != nil {
		return err
	}
	conn.Progress = d.Progress
	d.conn = conn

	fmt.Fprintf(d.out, "Successfully connected to service at %s\n", conn.RemoteAddr())
	return nil
}

func (d *Dispatcher) llist() error {
	entries, err := d.local.List()
	if err != nil {
		return err
	}
	return d.printListing(entries)
}

func (d *Dispatcher) bye() error {
	if d.conn == nil {
		fmt.Fprintln(d.out, "Connection closed")
		return nil
	}
	err := d.Close()
	fmt.Fprintln(d.out, "Connection closed")
	if err != nil {
		util.LogDebug("bye: %v", err)
	}
	return nil
}

func (d *Dispatcher) help() error {
	return d.render(pterm.DefaultTable.WithHasHeader().WithData(commandHelp).Srender())
}

// ---------------------------------------------------------------------------
// Remote commands
// ---------------------------------------------------------------------------

func (d *Dispatcher) get(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: get <remote> [local]", ErrUsage)
	}
	remote, local := args[0], args[0]
	if len(args) == 2 {
		local = args[1]
	}

	return d.remote(func(c *Conn) error {
		size, err := c.Get(remote, local)
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "Received %d bytes. Created file: %s\n", size, local)
		return nil
	})
}

func (d *Dispatcher) put(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: put <local> [remote]", ErrUsage)
	}
	local, remote := args[0], args[0]
	if len(args) == 2 {
		remote = args[1]
	}

	return d.remote(func(c *Conn) error {
		size, err := c.Put(local, remote)
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "Sent %d bytes: %s\n", size, remote)
		return nil
	})
}

func (d *Dispatcher) rlist() error {
	return d.remote(func(c *Conn) error {
		entries, err := c.List()
		if err != nil {
			return err
		}
		return d.printListing(entries)
	})
}

// remote runs fn on the open connection. A failure that broke the
// connection closes it, so a later connect starts from a clean endpoint.
func (d *Dispatcher) remote(fn func(*Conn) error) error {
	if d.conn == nil {
		return ErrNotConnected
	}

	err := fn(d.conn)
	if d.conn.Broken() {
		d.conn.Close()
		d.conn = nil
		fmt.Fprintln(d.out, "Closing server connection ...")
	}
	return err
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (d *Dispatcher) printListing(entries []string) error {
	if len(entries) == 0 {
		fmt.Fprintln(d.out, "(empty)")
		return nil
	}
	items := make([]pterm.BulletListItem, len(entries))
	for i, e := range entries {
		items[i] = pterm.BulletListItem{Level: 0, Text: e}
	}
	return d.render(pterm.DefaultBulletList.WithItems(items).Srender())
}

func (d *Dispatcher) render(s string, err error) error {
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(d.out, s)
	return err
}
