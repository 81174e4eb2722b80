package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/fileshare/internal/config"
	"github.com/1ureka/fileshare/internal/discovery"
	"github.com/1ureka/fileshare/internal/protocol"
	"github.com/1ureka/fileshare/internal/server"
)

const testRecvSize = 64

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testConfig(localDir string) config.Config {
	cfg := config.Default()
	cfg.LocalDir = localDir
	cfg.RecvSize = testRecvSize
	cfg.ScanCycles = 1
	cfg.ScanTimeout = 200 * time.Millisecond
	return cfg
}

// startServer serves root on a loopback ephemeral port until the test ends.
func startServer(t *testing.T, root string) (string, *server.Acceptor) {
	t.Helper()

	cfg := config.Default()
	cfg.Root = root
	cfg.RecvSize = testRecvSize

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	a := server.NewAcceptor(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.Wait()
	})
	return ln.Addr().String(), a
}

// connectTo returns a dispatcher connected to addr.
func connectTo(t *testing.T, addr, localDir string) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	d := NewDispatcher(testConfig(localDir), out)

	host, port, _ := net.SplitHostPort(addr)
	if err := d.Execute(context.Background(), "connect "+host+" "+port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !d.Connected() {
		t.Fatal("dispatcher not connected after connect")
	}
	t.Cleanup(func() { d.Close() })
	return d, out
}

func exec(t *testing.T, d *Dispatcher, line string) {
	t.Helper()
	if err := d.Execute(context.Background(), line); err != nil {
		t.Fatalf("%s: %v", line, err)
	}
}

func makeTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readFile(t *testing.T, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func waitForCount(t *testing.T, a *server.Acceptor, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for a.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("live sessions: got %d, want %d", a.Count(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Transfers
// ---------------------------------------------------------------------------

// TestPutThenGet uploads from one client and downloads from another, across
// sizes that hit the empty, single-byte and multi-chunk paths.
func TestPutThenGet(t *testing.T) {
	sizes := []int{0, 1, 3*testRecvSize + 37}

	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			root := t.TempDir()
			addr, _ := startServer(t, root)

			upDir, downDir := t.TempDir(), t.TempDir()
			want := makeTestData(size)
			writeFile(t, upDir, "data.bin", want)

			up, _ := connectTo(t, addr, upDir)
			exec(t, up, "put data.bin")

			// PUT has no acknowledgment; a LIST round trip on the same
			// connection orders it after the upload.
			exec(t, up, "rlist")
			if got := readFile(t, root, "data.bin"); !bytes.Equal(got, want) {
				t.Fatalf("server copy mismatch: got %d bytes, want %d", len(got), len(want))
			}

			down, out := connectTo(t, addr, downDir)
			exec(t, down, "get data.bin copy.bin")
			if got := readFile(t, downDir, "copy.bin"); !bytes.Equal(got, want) {
				t.Fatalf("download mismatch: got %d bytes, want %d", len(got), len(want))
			}
			if !strings.Contains(out.String(), "Received "+strconv.Itoa(size)+" bytes") {
				t.Errorf("missing receipt in output: %q", out.String())
			}
		})
	}
}

func TestGetNotFoundKeepsConnection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "present.txt", []byte("hello"))
	addr, _ := startServer(t, root)

	local := t.TempDir()
	d, _ := connectTo(t, addr, local)

	err := d.Execute(context.Background(), "get missing.txt")
	if !errors.Is(err, protocol.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if !d.Connected() {
		t.Fatal("not-found must not drop the connection")
	}
	if _, err := os.Stat(filepath.Join(local, "missing.txt")); !os.IsNotExist(err) {
		t.Errorf("no local file may be created for a missing remote file: %v", err)
	}

	exec(t, d, "get present.txt")
	if got := readFile(t, local, "present.txt"); string(got) != "hello" {
		t.Errorf("got %q after not-found", got)
	}
}

func TestPutMissingLocalFile(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())
	d, _ := connectTo(t, addr, t.TempDir())

	err := d.Execute(context.Background(), "put nothing.bin")
	if !errors.Is(err, protocol.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if !d.Connected() {
		t.Fatal("a local failure must not drop the connection")
	}
	exec(t, d, "rlist")
}

func TestRList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", nil)
	writeFile(t, root, "a.txt", nil)
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	addr, _ := startServer(t, root)

	d, out := connectTo(t, addr, t.TempDir())
	out.Reset()
	exec(t, d, "rlist")

	text := out.String()
	for _, name := range []string{"a.txt", "b.txt", "sub/"} {
		if !strings.Contains(text, name) {
			t.Errorf("listing %q misses %s", text, name)
		}
	}
	if strings.Index(text, "a.txt") > strings.Index(text, "b.txt") {
		t.Errorf("listing not sorted: %q", text)
	}
}

// ---------------------------------------------------------------------------
// Dispatcher state
// ---------------------------------------------------------------------------

// TestRemoteCommandsRequireConnection runs against no server at all: a
// rejected command must not touch the network.
func TestRemoteCommandsRequireConnection(t *testing.T) {
	d := NewDispatcher(testConfig(t.TempDir()), &bytes.Buffer{})

	for _, line := range []string{"get a.txt", "put a.txt", "rlist"} {
		if err := d.Execute(context.Background(), line); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", line, err)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	d := NewDispatcher(testConfig(t.TempDir()), &bytes.Buffer{})
	ctx := context.Background()

	tests := []struct {
		line string
		want error
	}{
		{"fetch a.txt", ErrInvalidCommand},
		{"get a b c", ErrUsage},
		{"get", ErrUsage},
		{"connect", ErrUsage},
		{"connect 0", ErrUsage}, // no scan results yet
		{"connect localhost notaport", ErrUsage},
	}
	for _, tt := range tests {
		if err := d.Execute(ctx, tt.line); !errors.Is(err, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.line, err, tt.want)
		}
	}

	if err := d.Execute(ctx, "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

// TestEncodingErrorStaysLocal checks that a name the protocol cannot carry
// is rejected before anything is sent.
func TestEncodingErrorStaysLocal(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())
	d, _ := connectTo(t, addr, t.TempDir())

	err := d.Execute(context.Background(), "get bad\xffname")
	if !errors.Is(err, protocol.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
	if !d.Connected() {
		t.Fatal("an encoding error must not drop the connection")
	}
	exec(t, d, "rlist")
}

func TestByeThenReconnect(t *testing.T) {
	addr, a := startServer(t, t.TempDir())
	d, out := connectTo(t, addr, t.TempDir())
	waitForCount(t, a, 1)

	exec(t, d, "bye")
	if d.Connected() {
		t.Fatal("still connected after bye")
	}
	if !strings.Contains(out.String(), "Connection closed") {
		t.Errorf("missing close notice: %q", out.String())
	}
	waitForCount(t, a, 0)

	host, port, _ := net.SplitHostPort(addr)
	exec(t, d, "connect "+host+" "+port)
	exec(t, d, "rlist")

	if err := d.Execute(context.Background(), "connect "+host+" "+port); err == nil {
		t.Error("connect while connected must fail")
	}
}

// TestServerCloseResetsConnection checks that a dropped server connection
// leaves the dispatcher disconnected and able to connect again.
func TestServerCloseResetsConnection(t *testing.T) {
	addr, a := startServer(t, t.TempDir())
	d, _ := connectTo(t, addr, t.TempDir())
	waitForCount(t, a, 1)

	a.CancelAll()
	waitForCount(t, a, 0)

	if err := d.Execute(context.Background(), "rlist"); err == nil {
		t.Fatal("rlist on a closed connection must fail")
	}
	if d.Connected() {
		t.Fatal("dispatcher kept a broken connection")
	}

	host, port, _ := net.SplitHostPort(addr)
	exec(t, d, "connect "+host+" "+port)
	exec(t, d, "rlist")
}

// TestScanThenConnect discovers a loopback responder and connects to it by
// its index in the scan table.
func TestScanThenConnect(t *testing.T) {
	addr, _ := startServer(t, t.TempDir())
	_, transferPort, _ := net.SplitHostPort(addr)

	udp, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		discovery.NewResponder(config.Default()).Serve(ctx, udp)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	cfg := testConfig(t.TempDir())
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.DiscoveryPort = udp.LocalAddr().(*net.UDPAddr).Port
	cfg.TransferPort, _ = strconv.Atoi(transferPort)

	out := &bytes.Buffer{}
	d := NewDispatcher(cfg, out)
	t.Cleanup(func() { d.Close() })

	exec(t, d, "scan")
	if !strings.Contains(out.String(), config.Default().ServiceName) {
		t.Fatalf("scan output misses the service: %q", out.String())
	}

	exec(t, d, "connect 0")
	if !d.Connected() {
		t.Fatal("not connected after connect 0")
	}
	exec(t, d, "rlist")
}

func TestScanNoServices(t *testing.T) {
	// Reserve a port and release it so nothing answers there.
	udp, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	port := udp.LocalAddr().(*net.UDPAddr).Port
	udp.Close()

	cfg := testConfig(t.TempDir())
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.DiscoveryPort = port

	out := &bytes.Buffer{}
	exec(t, NewDispatcher(cfg, out), "scan")
	if !strings.Contains(out.String(), "No services found.") {
		t.Errorf("got %q", out.String())
	}
}

func TestLList(t *testing.T) {
	local := t.TempDir()
	writeFile(t, local, "notes.txt", []byte("x"))

	out := &bytes.Buffer{}
	exec(t, NewDispatcher(testConfig(local), out), "llist")
	if !strings.Contains(out.String(), "notes.txt") {
		t.Errorf("got %q", out.String())
	}
}
