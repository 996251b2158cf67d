// Package logsocket serves a record log over TCP. Each line a client sends
// becomes one record; after every stored record the client receives the
// whole retained history. A ticker can append timestamp records on the
// same write path.
package logsocket

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/core/failfast"
	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

// TimestampLayout is RFC 2822 date-time.
const TimestampLayout = time.RFC1123Z

// Config configures a Server.
type Config struct {
	Server *tcp.ServerConfig

	// TimestampInterval spaces the "timestamp:" records; 0 disables them.
	TimestampInterval time.Duration
}

// Stats counts socket-level events the log does not see.
type Stats struct {
	Records    int64 // records stored from clients
	Timestamps int64 // timestamp records stored
	Oversized  int64 // client lines longer than MaxRecordSize, dropped
	Replies    int64 // history replies sent
}

// Server connects TCP clients to one open recordlog.Handle.
type Server struct {
	handle *recordlog.Handle
	tcp    *tcp.Server
	logger core.Logger

	interval   time.Duration
	terminator byte
	maxRecord  int
	now        func() time.Time

	records    atomic.Int64
	timestamps atomic.Int64
	oversized  atomic.Int64
	replies    atomic.Int64
}

// New creates a server writing through handle. The caller keeps ownership
// of handle and closes it after Serve returns.
func New(handle *recordlog.Handle, cfg Config, logger core.Logger) *Server {
	failfast.NotNil(handle, "record log handle")
	if logger == nil {
		logger = core.NewNopLogger()
	}
	logCfg := handle.Config()
	s := &Server{
		handle:     handle,
		tcp:        tcp.NewServer(cfg.Server, logger),
		logger:     logger,
		interval:   cfg.TimestampInterval,
		terminator: logCfg.Terminator,
		maxRecord:  logCfg.MaxRecordSize,
		now:        time.Now,
	}
	s.tcp.SetHandler(s.serveConn)
	return s
}

// Serve runs the listener and the timestamp ticker until ctx is done or
// the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- s.tcp.Start() }()

	var wg sync.WaitGroup
	if s.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stampLoop(ctx)
		}()
	}

	var err error
	select {
	case err = <-startErr:
		cancel()
		_ = s.tcp.Stop()
	case <-ctx.Done():
		err = errors.Join(s.tcp.Stop(), <-startErr)
	}
	wg.Wait()
	s.logger.Infof("logsocket: stopped (%d records, %d timestamps)", s.records.Load(), s.timestamps.Load())
	return err
}

// Addr returns the bound listener address, or "" before it is listening.
func (s *Server) Addr() string {
	return s.tcp.ListeningAddr()
}

// Metrics returns the TCP server metrics.
func (s *Server) Metrics() tcp.ServerMetrics {
	return s.tcp.Metrics()
}

// Stats returns socket counters.
func (s *Server) Stats() Stats {
	return Stats{
		Records:    s.records.Load(),
		Timestamps: s.timestamps.Load(),
		Oversized:  s.oversized.Load(),
		Replies:    s.replies.Load(),
	}
}

// serveConn assembles each client line locally and hands the log one
// write call per record, so lines from concurrent clients never mix in
// the shared pending buffer.
func (s *Server) serveConn(cctx *tcp.ConnContext) error {
	ctx := cctx.Context
	r := bufio.NewReader(cctx.Conn)

	var (
		line       []byte
		discarding bool
	)
	for {
		chunk, err := r.ReadSlice(s.terminator)
		if !discarding {
			line = append(line, chunk...)
		}
		switch {
		case err == nil:
			if discarding {
				discarding = false
				continue
			}
			if err := s.store(ctx, line); err != nil {
				return err
			}
			line = line[:0]
			if err := s.reply(ctx, cctx.Conn); err != nil {
				return err
			}
		case errors.Is(err, bufio.ErrBufferFull):
			if !discarding && len(line) > s.maxRecord {
				s.oversized.Add(1)
				cctx.Logger.Warnf("logsocket: line exceeds %d bytes, dropped", s.maxRecord)
				line, discarding = nil, true
			}
		case errors.Is(err, io.EOF):
			if len(line) > 0 && !discarding {
				cctx.Logger.Debugf("logsocket: %d unterminated bytes discarded at close", len(line))
			}
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) store(ctx context.Context, record []byte) error {
	if len(record) > s.maxRecord {
		s.oversized.Add(1)
		s.logger.Warnf("logsocket: record of %d bytes exceeds %d, dropped", len(record), s.maxRecord)
		return nil
	}
	if _, err := s.handle.WriteAll(ctx, record); err != nil {
		if errors.Is(err, recordlog.ErrCapacityExceeded) {
			s.logger.Warnf("logsocket: record dropped: %v", err)
			return nil
		}
		return err
	}
	s.records.Add(1)
	return nil
}

func (s *Server) reply(ctx context.Context, w io.Writer) error {
	history, err := s.handle.ReadAll(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(history); err != nil {
		return err
	}
	s.replies.Add(1)
	return nil
}

func (s *Server) stampLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.stamp(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorf("logsocket: timestamp write failed: %v", err)
			}
		}
	}
}

func (s *Server) stamp(ctx context.Context) error {
	rec := append([]byte("timestamp:"+s.now().Format(TimestampLayout)), s.terminator)
	if _, err := s.handle.WriteAll(ctx, rec); err != nil {
		return err
	}
	s.timestamps.Add(1)
	return nil
}
