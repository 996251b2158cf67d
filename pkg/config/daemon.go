package config

import (
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override read by LoadDaemon.
const EnvPrefix = "RECORDLOG"

// Duration is a time.Duration written as "10s" in YAML, JSON and env vars.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Daemon is the configuration of cmd/recordlogd.
type Daemon struct {
	Log     LogConfig     `yaml:"log" json:"log"`
	Socket  SocketConfig  `yaml:"socket" json:"socket"`
	Admin   AdminConfig   `yaml:"admin" json:"admin"`
	Mirror  MirrorConfig  `yaml:"mirror" json:"mirror"`
	Relay   RelayConfig   `yaml:"relay" json:"relay"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// LogConfig sizes the record log.
type LogConfig struct {
	Capacity      int    `yaml:"capacity" json:"capacity"`
	MaxRecordSize int    `yaml:"max_record_size" json:"max_record_size"`
	Terminator    string `yaml:"terminator" json:"terminator"`
}

// TerminatorByte returns the configured terminator.
func (c LogConfig) TerminatorByte() byte {
	if c.Terminator == "" {
		return '\n'
	}
	return c.Terminator[0]
}

// SocketConfig configures the TCP record server.
type SocketConfig struct {
	Addr         string   `yaml:"addr" json:"addr"`
	Workers      int      `yaml:"workers" json:"workers"`
	MaxQueue     int      `yaml:"max_queue" json:"max_queue"`
	MaxConns     int      `yaml:"max_conns" json:"max_conns"`
	ReadTimeout  Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`

	// TimestampInterval spaces the timestamp records; 0 disables them.
	TimestampInterval Duration `yaml:"timestamp_interval" json:"timestamp_interval"`
}

// AdminConfig configures the HTTP admin endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// MirrorConfig configures the on-disk mirror of committed records.
type MirrorConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Dir          string `yaml:"dir" json:"dir"`
	SegmentBytes int64  `yaml:"segment_bytes" json:"segment_bytes"`
	Fsync        bool   `yaml:"fsync" json:"fsync"`
	Replay       bool   `yaml:"replay" json:"replay"`
}

// RelayConfig configures publishing of committed records to NATS.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns the reference daemon configuration.
func Default() Daemon {
	return Daemon{
		Log: LogConfig{
			Capacity:      10,
			MaxRecordSize: 4 << 20,
			Terminator:    "\n",
		},
		Socket: SocketConfig{
			Addr:              ":9000",
			Workers:           50,
			MaxQueue:          1000,
			ReadTimeout:       Duration(30 * time.Second),
			WriteTimeout:      Duration(5 * time.Second),
			TimestampInterval: Duration(10 * time.Second),
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9100",
		},
		Mirror: MirrorConfig{
			Dir:          "/var/tmp/recordlog",
			SegmentBytes: 64 << 20,
		},
		Relay: RelayConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "recordlog.records",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadDaemon returns Default overlaid with the file at path (skipped when
// path is empty) and RECORDLOG_* environment variables, then validated.
func LoadDaemon(path string) (Daemon, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and the settings each enabled section needs.
func (d *Daemon) Validate() error {
	validators := []Validator{
		RangeValidator("Log.Capacity", 1, 1<<20),
		RangeValidator("Log.MaxRecordSize", 1, 1<<30),
		StringLengthValidator("Log.Terminator", 1, 1),
		ValidatorFunc(func(any) error {
			// recordlog reads a zero terminator as the default.
			if d.Log.Terminator == "\x00" {
				return fmt.Errorf("Log.Terminator cannot be NUL")
			}
			return nil
		}),
		RequiredFields("Socket.Addr"),
		RangeValidator("Socket.Workers", 1, 10000),
		RangeValidator("Socket.MaxQueue", 1, 1<<20),
		RangeValidator("Socket.MaxConns", 0, 1<<20),
		OneOfValidator("Logging.Level", "debug", "info", "warn", "error"),
	}
	if d.Admin.Enabled {
		validators = append(validators, RequiredFields("Admin.Addr"))
	}
	if d.Mirror.Enabled {
		validators = append(validators,
			RequiredFields("Mirror.Dir"),
			RangeValidator("Mirror.SegmentBytes", 1, 1<<40))
	}
	if d.Relay.Enabled {
		validators = append(validators, RequiredFields("Relay.URL", "Relay.Subject"))
	}
	return Validate(d, validators...)
}
