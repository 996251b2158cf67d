package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Socket.Addr != ":9000" {
		t.Errorf("Socket.Addr = %q, want :9000", cfg.Socket.Addr)
	}
	if cfg.Log.Capacity != 10 || cfg.Log.MaxRecordSize != 4<<20 || cfg.Log.TerminatorByte() != '\n' {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Socket.TimestampInterval.Std() != 10*time.Second {
		t.Errorf("TimestampInterval = %v, want 10s", cfg.Socket.TimestampInterval.Std())
	}
}

func TestLoadDaemon_NoFile(t *testing.T) {
	t.Setenv("RECORDLOG_LOG_CAPACITY", "32")
	t.Setenv("RECORDLOG_SOCKET_ADDR", "127.0.0.1:0")

	cfg, err := LoadDaemon("")
	if err != nil {
		t.Fatalf("LoadDaemon failed: %v", err)
	}
	if cfg.Log.Capacity != 32 {
		t.Errorf("Log.Capacity = %d, want 32", cfg.Log.Capacity)
	}
	if cfg.Socket.Addr != "127.0.0.1:0" {
		t.Errorf("Socket.Addr = %q", cfg.Socket.Addr)
	}
}

func TestLoadDaemon_FileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "recordlogd.yaml", `
log:
  capacity: 100
socket:
  addr: ":9500"
  timestamp_interval: 0s
mirror:
  enabled: true
  dir: /tmp/mirror
`)
	cfg, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("LoadDaemon failed: %v", err)
	}
	if cfg.Log.Capacity != 100 || cfg.Log.MaxRecordSize != 4<<20 {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Socket.Addr != ":9500" || cfg.Socket.Workers != 50 {
		t.Errorf("Socket = %+v", cfg.Socket)
	}
	if cfg.Socket.TimestampInterval != 0 {
		t.Errorf("TimestampInterval = %v, want disabled", cfg.Socket.TimestampInterval.Std())
	}
	if !cfg.Mirror.Enabled || cfg.Mirror.Dir != "/tmp/mirror" || cfg.Mirror.SegmentBytes != 64<<20 {
		t.Errorf("Mirror = %+v", cfg.Mirror)
	}
}

func TestDaemon_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Daemon)
		want   string
	}{
		{"zero capacity", func(d *Daemon) { d.Log.Capacity = 0 }, "Log.Capacity"},
		{"long terminator", func(d *Daemon) { d.Log.Terminator = "\r\n" }, "Log.Terminator"},
		{"NUL terminator", func(d *Daemon) { d.Log.Terminator = "\x00" }, "Log.Terminator"},
		{"empty addr", func(d *Daemon) { d.Socket.Addr = "" }, "Socket.Addr"},
		{"bad level", func(d *Daemon) { d.Logging.Level = "loud" }, "Logging.Level"},
		{"mirror without dir", func(d *Daemon) { d.Mirror.Enabled = true; d.Mirror.Dir = "" }, "Mirror.Dir"},
		{"relay without subject", func(d *Daemon) { d.Relay.Enabled = true; d.Relay.Subject = "" }, "Relay.Subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %s", err, tt.want)
			}
		})
	}
}
