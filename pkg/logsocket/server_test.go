package logsocket

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

type harness struct {
	srv    *Server
	handle *recordlog.Handle
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startHarness(t *testing.T, logCfg recordlog.Config, interval time.Duration, tweak func(*Server)) *harness {
	t.Helper()
	log, err := recordlog.New(logCfg)
	if err != nil {
		t.Fatalf("recordlog.New: %v", err)
	}
	h, err := log.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	srvCfg := tcp.DefaultServerConfig("127.0.0.1:0")
	srvCfg.Workers = 8
	srvCfg.MaxQueue = 16
	srv := New(h, Config{Server: srvCfg, TimestampInterval: interval}, nil)
	if tweak != nil {
		tweak(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hs := &harness{srv: srv, handle: h, cancel: cancel, done: make(chan error, 1)}
	go func() { hs.done <- srv.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.Addr() == "" {
		time.Sleep(10 * time.Millisecond)
	}
	if hs.addr = srv.Addr(); hs.addr == "" {
		cancel()
		t.Fatalf("server did not start listening in time")
	}

	t.Cleanup(func() {
		hs.stop(t)
		_ = h.Close()
		log.Destroy()
	})
	return hs
}

func (hs *harness) stop(t *testing.T) {
	t.Helper()
	hs.cancel()
	select {
	case err, ok := <-hs.done:
		if ok && err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
		if ok {
			close(hs.done)
		}
	case <-time.After(3 * time.Second):
		t.Errorf("Serve did not return after cancel")
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v (got %q)", n, err, buf)
	}
	return string(buf)
}

func TestServer_RepliesWithHistory(t *testing.T) {
	hs := startHarness(t, recordlog.DefaultConfig(), 0, nil)
	conn := dial(t, hs.addr)

	_, _ = io.WriteString(conn, "hello\n")
	if got := readN(t, conn, 6); got != "hello\n" {
		t.Fatalf("first reply = %q", got)
	}

	_, _ = io.WriteString(conn, "world\n")
	if got := readN(t, conn, 12); got != "hello\nworld\n" {
		t.Fatalf("second reply = %q", got)
	}

	// A second client sees the same history.
	other := dial(t, hs.addr)
	_, _ = io.WriteString(other, "again\n")
	if got := readN(t, other, 18); got != "hello\nworld\nagain\n" {
		t.Fatalf("other client reply = %q", got)
	}
}

func TestServer_AssemblesSplitLines(t *testing.T) {
	hs := startHarness(t, recordlog.DefaultConfig(), 0, nil)
	conn := dial(t, hs.addr)

	_, _ = io.WriteString(conn, "par")
	time.Sleep(20 * time.Millisecond)
	_, _ = io.WriteString(conn, "tial\nnext")
	if got := readN(t, conn, 8); got != "partial\n" {
		t.Fatalf("reply = %q", got)
	}
	_, _ = io.WriteString(conn, "\n")
	if got := readN(t, conn, 13); got != "partial\nnext\n" {
		t.Fatalf("reply = %q", got)
	}
}

func TestServer_KeepsLastNRecords(t *testing.T) {
	hs := startHarness(t, recordlog.Config{Capacity: 3}, 0, nil)
	conn := dial(t, hs.addr)

	var want string
	for i := 0; i < 5; i++ {
		_, _ = fmt.Fprintf(conn, "r%d\n", i)
		switch {
		case i < 3:
			want += fmt.Sprintf("r%d\n", i)
		default:
			want = want[3:] + fmt.Sprintf("r%d\n", i)
		}
		if got := readN(t, conn, len(want)); got != want {
			t.Fatalf("reply %d = %q, want %q", i, got, want)
		}
	}
}

func TestServer_ConcurrentClientsDoNotInterleave(t *testing.T) {
	const clients = 6
	hs := startHarness(t, recordlog.Config{Capacity: clients}, 0, nil)

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		conn := dial(t, hs.addr)
		wg.Add(1)
		go func(c int, conn net.Conn) {
			defer wg.Done()
			line := strings.Repeat(string(rune('a'+c)), 40)
			for i := 0; i < len(line); i += 8 {
				_, _ = io.WriteString(conn, line[i:i+8])
				time.Sleep(time.Millisecond)
			}
			_, _ = io.WriteString(conn, "\n")
			buf := make([]byte, 41)
			_, _ = io.ReadFull(conn, buf)
		}(c, conn)
	}
	wg.Wait()

	data, err := hs.handle.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != clients {
		t.Fatalf("got %d records, want %d: %q", len(lines), clients, data)
	}
	for _, l := range lines {
		if len(l) != 40 || strings.Count(l, l[:1]) != 40 {
			t.Fatalf("record mixes clients: %q", l)
		}
	}
}

func TestServer_DropsOversizedLines(t *testing.T) {
	hs := startHarness(t, recordlog.Config{MaxRecordSize: 8}, 0, nil)
	conn := dial(t, hs.addr)

	_, _ = io.WriteString(conn, "0123456789abcdef\nok\n")
	if got := readN(t, conn, 3); got != "ok\n" {
		t.Fatalf("reply = %q", got)
	}
	if st := hs.srv.Stats(); st.Oversized != 1 || st.Records != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestServer_AppendsTimestamps(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	hs := startHarness(t, recordlog.DefaultConfig(), 20*time.Millisecond, func(s *Server) {
		s.now = func() time.Time { return fixed }
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hs.srv.Stats().Timestamps == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if hs.srv.Stats().Timestamps == 0 {
		t.Fatalf("no timestamp records written")
	}

	data, err := hs.handle.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	if first != "timestamp:Tue, 05 Mar 2024 14:30:00 +0000" {
		t.Fatalf("timestamp record = %q", first)
	}
}

func TestServer_ServeReturnsOnCancel(t *testing.T) {
	hs := startHarness(t, recordlog.DefaultConfig(), 10*time.Millisecond, nil)
	conn := dial(t, hs.addr)

	hs.stop(t)

	// The server closed the connection on shutdown.
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected closed connection after shutdown")
	}
}
