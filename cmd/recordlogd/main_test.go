package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fluxorio/recordlog/pkg/config"
	"github.com/fluxorio/recordlog/pkg/core"
)

func testConfig(t *testing.T) config.Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Capacity = 3
	cfg.Socket.Addr = "127.0.0.1:0"
	cfg.Socket.Workers = 4
	cfg.Socket.MaxQueue = 16
	cfg.Socket.TimestampInterval = 0
	cfg.Admin.Addr = "127.0.0.1:0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

// start runs a daemon and returns its socket address and a stop function
// that waits for run to return.
func start(t *testing.T, cfg config.Daemon) (*daemon, string, func() error) {
	t.Helper()

	d, err := newDaemon(cfg, core.NewNopLogger())
	if err != nil {
		t.Fatalf("newDaemon() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.socket.Addr() == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("socket never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var stopped bool
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("run did not return")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return d, d.socket.Addr(), stop
}

// exchange sends one record and returns the history reply.
func exchange(t *testing.T, addr, record string, replyLen int) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(record)); err != nil {
		t.Fatalf("conn.Write() error = %v", err)
	}
	buf := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return string(buf)
}

func TestDaemon_ServesSocketAndAdmin(t *testing.T) {
	cfg := testConfig(t)
	d, addr, stop := start(t, cfg)

	if got := exchange(t, addr, "alpha\n", 6); got != "alpha\n" {
		t.Errorf("reply = %q, want %q", got, "alpha\n")
	}
	if got := exchange(t, addr, "beta\n", 11); got != "alpha\nbeta\n" {
		t.Errorf("reply = %q, want %q", got, "alpha\nbeta\n")
	}

	base := "http://" + d.adminLn.Addr().String()
	resp, err := http.Get(base + "/log")
	if err != nil {
		t.Fatalf("GET /log error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "alpha\nbeta\n" {
		t.Errorf("GET /log = %q", body)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		"recordlog_records_committed_total 2",
		"recordlog_socket_accepted_total 2",
		"recordlog_retained_records 2",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	if err := stop(); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !d.handle.IsClosed() {
		t.Error("handle still open after shutdown")
	}
}

func TestDaemon_MirrorReplaysHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	cfg.Mirror.Enabled = true
	cfg.Mirror.Dir = t.TempDir()
	cfg.Mirror.Replay = true

	_, addr, stop := start(t, cfg)
	exchange(t, addr, "one\n", 4)
	exchange(t, addr, "two\n", 8)
	if err := stop(); err != nil {
		t.Fatalf("first run() error = %v", err)
	}

	_, addr, stop = start(t, cfg)
	if got := exchange(t, addr, "three\n", 14); got != "one\ntwo\nthree\n" {
		t.Errorf("reply after restart = %q", got)
	}
	if got := exchange(t, addr, "four\n", 16); got != "two\nthree\nfour\n" {
		t.Errorf("reply after eviction = %q", got)
	}
	if err := stop(); err != nil {
		t.Fatalf("second run() error = %v", err)
	}
}

func TestDaemon_RelaysRecords(t *testing.T) {
	ns, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync("recordlog.daemon")
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	cfg.Relay.Enabled = true
	cfg.Relay.URL = ns.ClientURL()
	cfg.Relay.Subject = "recordlog.daemon"

	_, addr, stop := start(t, cfg)
	exchange(t, addr, "relayed\n", 8)
	if err := stop(); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if string(msg.Data) != "relayed\n" {
		t.Errorf("relayed data = %q", msg.Data)
	}
}

func TestNewDaemon_FailsOnBusyAdminAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Admin.Addr = ln.Addr().String()
	if _, err := newDaemon(cfg, core.NewNopLogger()); err == nil {
		t.Fatal("newDaemon() succeeded on a busy admin address")
	}
}
