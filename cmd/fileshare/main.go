// Command fileshare is the CLI entry point.
//
// The server role answers UDP discovery probes and serves a directory over
// the TCP transfer protocol. The client role is an interactive shell that
// scans for services, connects to one and transfers files with it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/fileshare/internal/client"
	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/server"
	"github.com/1ureka/fileshare/internal/util"
)

var version = "dev"

// errInterrupted makes the process exit non-zero after a Ctrl+C shutdown.
var errInterrupted = errors.New("interrupted")

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var debug bool

	root := &cobra.Command{
		Use:           "fileshare",
		Short:         "Share a directory on the local network",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("Fileshare v%s", version))
			pterm.Println()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP service discovery port")
	root.PersistentFlags().IntVar(&cfg.TransferPort, "port", cfg.TransferPort, "TCP file transfer port")
	root.PersistentFlags().IntVar(&cfg.RecvSize, "recv-size", cfg.RecvSize, "Socket read chunk size in bytes")

	root.AddCommand(newServerCmd(&cfg), newClientCmd(&cfg))
	return root
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func newServerCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve a directory and answer discovery probes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "Bind address for both listeners")
	f.StringVar(&cfg.Root, "root", cfg.Root, "Directory to serve")
	f.StringVar(&cfg.ServiceName, "name", cfg.ServiceName, "Service name sent in discovery replies")
	f.StringVar(&cfg.MonitorAddr, "monitor", cfg.MonitorAddr, "Address of the WebSocket stats feed (disabled when empty)")
	f.Uint64Var(&cfg.MaxNameLen, "max-name", cfg.MaxNameLen, "Longest accepted filename in bytes")
	f.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Period of the stats log line")
	return cmd
}

func newClientCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start the interactive file sharing shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), *cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.LocalDir, "dir", cfg.LocalDir, "Local directory for get, put and llist")
	f.StringVar(&cfg.BroadcastAddr, "broadcast", cfg.BroadcastAddr, "Destination address of discovery probes")
	f.IntVar(&cfg.ScanCycles, "scan-cycles", cfg.ScanCycles, "Discovery probes per scan")
	f.DurationVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "Quiet period that ends one scan cycle")
	return cmd
}

// runServer runs the server role until ctx is cancelled. A shutdown caused
// by ctx still reports errInterrupted once the sockets are closed.
func runServer(ctx context.Context, cfg config.Config) error {
	if err := server.New(cfg).Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	util.LogSuccess("successfully shut down file sharing service")
	if ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}

// runClient reads commands from stdin until EOF or Ctrl+C.
func runClient(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d := client.NewDispatcher(cfg, os.Stdout)
	d.Progress = client.TerminalProgress
	defer func() {
		if err := d.Close(); err != nil {
			util.LogDebug("close: %v", err)
		}
	}()

	lines := readLines()
	pterm.Println("Type help for the list of commands.")

	for {
		prompt(d)

		var line string
		select {
		case <-ctx.Done():
			pterm.Println()
			return errInterrupted
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		if err := d.Execute(ctx, line); err != nil {
			util.LogError("%v", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// readLines feeds stdin lines to the returned channel, which is closed at EOF.
func readLines() <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

func prompt(d *client.Dispatcher) {
	if d.Connected() {
		pterm.FgGreen.Print("fileshare* > ")
		return
	}
	pterm.FgCyan.Print("fileshare > ")
}
