// Package relay publishes committed records to NATS.
package relay

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/recordlog"
)

// SeqHeader carries the record's commit sequence number.
const SeqHeader = "Recordlog-Seq"

// Config configures a Relay.
type Config struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	// Subject receives one message per committed record.
	Subject string

	// Name is an optional NATS connection name.
	Name string

	// FlushTimeout bounds the final flush in Close. Default: 2s.
	FlushTimeout time.Duration

	// OnPublish, when set, is called with the result of every publish.
	OnPublish func(err error)
}

// Relay is a recordlog.Observer that publishes each committed record.
// Publish failures are logged and counted, never returned to the writer.
type Relay struct {
	recordlog.NopObserver

	nc     *nats.Conn
	cfg    Config
	logger core.Logger
	sent   atomic.Int64
	failed atomic.Int64
	closed atomic.Bool
}

var _ recordlog.Observer = (*Relay)(nil)

// Connect dials NATS and returns a relay publishing to cfg.Subject.
func Connect(cfg Config, logger core.Logger) (*Relay, error) {
	if cfg.Subject == "" {
		return nil, errors.New("relay: subject cannot be empty")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}
	logger = core.Named(logger, "relay")

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("relay: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("relay: reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	logger.Infof("relay: publishing records to %q on %s", cfg.Subject, nc.ConnectedUrl())
	return &Relay{nc: nc, cfg: cfg, logger: logger}, nil
}

// OnCommit publishes the record.
func (r *Relay) OnCommit(info recordlog.CommitInfo) {
	if r.closed.Load() {
		return
	}
	msg := &nats.Msg{
		Subject: r.cfg.Subject,
		Data:    info.Data,
		Header:  nats.Header{},
	}
	msg.Header.Set(SeqHeader, strconv.FormatUint(info.Seq, 10))

	err := r.nc.PublishMsg(msg)
	if err != nil {
		r.failed.Add(1)
		r.logger.Warnf("relay: publish record %d: %v", info.Seq, err)
	} else {
		r.sent.Add(1)
	}
	if r.cfg.OnPublish != nil {
		r.cfg.OnPublish(err)
	}
}

// Published returns how many records were handed to NATS.
func (r *Relay) Published() int64 {
	return r.sent.Load()
}

// Failed returns how many publishes failed.
func (r *Relay) Failed() int64 {
	return r.failed.Load()
}

// Close flushes buffered messages and closes the connection.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.nc.FlushTimeout(r.cfg.FlushTimeout)
	r.nc.Close()
	return err
}
