package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/core/concurrency"
	"github.com/fluxorio/recordlog/pkg/core/failfast"
)

// Server is a backpressured TCP server: accepted connections are queued as
// tasks on a bounded worker pool, and connections past the normal capacity
// (workers + queue) or past MaxConns are closed at accept.
type Server struct {
	config *ServerConfig
	logger core.Logger

	mu       sync.RWMutex
	listener net.Listener
	started  bool
	stopping atomic.Bool

	pool         *concurrency.WorkerPool
	poolCtx      context.Context
	poolCancel   context.CancelFunc
	backpressure *BackpressureController

	handler     ConnectionHandler
	middlewares []Middleware
	effective   ConnectionHandler

	activeConns         atomic.Int64
	queuedConnections   atomic.Int64
	rejectedConnections atomic.Int64
	totalAccepted       atomic.Int64
	handledConnections  atomic.Int64
	errorConnections    atomic.Int64
}

// ServerConfig configures the server.
type ServerConfig struct {
	Addr string

	// MaxQueue bounds connections waiting for a worker.
	MaxQueue int
	Workers  int

	// MaxConns bounds in-flight connections (queued + handling). 0 is
	// unlimited.
	MaxConns int

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// Idle timeouts, refreshed on every Read and Write.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the defaults for addr (":9000" when empty).
func DefaultServerConfig(addr string) *ServerConfig {
	if addr == "" {
		addr = ":9000"
	}
	return &ServerConfig{
		Addr:         addr,
		MaxQueue:     1000,
		Workers:      50,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// NewServer creates a stopped server. A nil logger discards output.
func NewServer(config *ServerConfig, logger core.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig("")
	}
	cfg := *config
	if cfg.Addr == "" {
		cfg.Addr = ":9000"
	}
	if cfg.MaxQueue < 1 {
		cfg.MaxQueue = 100
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxConns < 0 {
		cfg.MaxConns = 0
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     &cfg,
		logger:     logger,
		poolCtx:    ctx,
		poolCancel: cancel,
		pool: concurrency.NewWorkerPool(ctx, concurrency.WorkerPoolConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.MaxQueue,
		}, logger),
		backpressure: NewBackpressureController(cfg.MaxQueue + cfg.Workers),
		handler:      func(*ConnContext) error { return nil },
	}
	s.effective = s.handler
	return s
}

// SetHandler sets the connection handler. It panics on nil.
func (s *Server) SetHandler(handler ConnectionHandler) {
	failfast.NotNil(handler, "tcp handler")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.rebuildHandlerLocked()
}

// Use appends middleware; the first added runs outermost. It panics on nil.
func (s *Server) Use(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mw {
		failfast.NotNil(m, "tcp middleware")
		s.middlewares = append(s.middlewares, m)
	}
	s.rebuildHandlerLocked()
}

func (s *Server) rebuildHandlerLocked() {
	h := s.handler
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.effective = h
}

// ListeningAddr returns the bound address, or "" when not listening.
func (s *Server) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until Stop. It blocks, like http.Server.Serve,
// and returns nil after a clean Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("tcp server already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.stopping.Load() {
		return nil
	}

	var (
		ln  net.Listener
		err error
	)
	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.config.Addr)
	}
	if err != nil {
		return err
	}
	if err := s.pool.Start(); err != nil {
		_ = ln.Close()
		if s.stopping.Load() {
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Infof("tcp server listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.totalAccepted.Add(1)
		if !s.tryAcquireConnSlot() {
			s.rejectedConnections.Add(1)
			_ = conn.Close()
			continue
		}
		s.enqueueConn(conn)
	}
}

// Stop closes the listener, cancels in-flight handlers and waits up to
// five seconds for the workers.
func (s *Server) Stop() error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.poolCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Stop(ctx)
}

// Metrics returns current server metrics.
func (s *Server) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()

	queued := s.queuedConnections.Load()
	queueUtil := float64(queued) / float64(s.config.MaxQueue) * 100
	if queueUtil > 100 {
		queueUtil = 100
	}

	return ServerMetrics{
		QueuedConnections:   queued,
		RejectedConnections: s.rejectedConnections.Load(),
		QueueCapacity:       s.config.MaxQueue,
		Workers:             s.config.Workers,
		QueueUtilization:    queueUtil,
		NormalCCU:           int(bp.NormalCapacity),
		CurrentCCU:          int(bp.CurrentLoad),
		CCUUtilization:      bp.Utilization,
		TotalAccepted:       s.totalAccepted.Load(),
		HandledConnections:  s.handledConnections.Load(),
		ErrorConnections:    s.errorConnections.Load(),
		ActiveConnections:   s.activeConns.Load(),
		MaxConns:            s.config.MaxConns,
	}
}

func (s *Server) tryAcquireConnSlot() bool {
	if s.config.MaxConns <= 0 {
		s.activeConns.Add(1)
		return true
	}
	for {
		cur := s.activeConns.Load()
		if int(cur) >= s.config.MaxConns {
			return false
		}
		if s.activeConns.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *Server) releaseConn(conn net.Conn) {
	_ = conn.Close()
	s.backpressure.Release()
	s.activeConns.Add(-1)
}

func (s *Server) enqueueConn(conn net.Conn) {
	if !s.backpressure.TryAcquire() {
		s.rejectedConnections.Add(1)
		s.activeConns.Add(-1)
		_ = conn.Close()
		return
	}

	s.queuedConnections.Add(1)
	task := concurrency.NewNamedTask("tcp-conn "+conn.RemoteAddr().String(), func(ctx context.Context) error {
		s.queuedConnections.Add(-1)
		return s.serveConn(ctx, conn)
	})
	if err := s.pool.Submit(task); err != nil {
		s.queuedConnections.Add(-1)
		s.rejectedConnections.Add(1)
		s.releaseConn(conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	defer s.releaseConn(conn)
	if ctx.Err() != nil {
		// Queued when the server stopped.
		return nil
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.mu.RLock()
	h := s.effective
	s.mu.RUnlock()

	id := core.NewConnID()
	cctx := &ConnContext{
		Context:    core.WithConnID(ctx, id),
		Conn:       &deadlineConn{Conn: conn, read: s.config.ReadTimeout, write: s.config.WriteTimeout},
		ID:         id,
		Logger:     core.With(s.logger, "conn", id),
		LocalAddr:  conn.LocalAddr(),
		RemoteAddr: conn.RemoteAddr(),
	}

	s.handledConnections.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.errorConnections.Add(1)
			s.logger.Errorf("panic in tcp handler (conn %s, isolated): %v", id, r)
		}
	}()
	if err := h(cctx); err != nil {
		s.errorConnections.Add(1)
		s.logger.Errorf("tcp handler error (conn %s): %v", id, err)
	}
	return nil
}

// deadlineConn pushes the deadline forward before each Read and Write.
type deadlineConn struct {
	net.Conn
	read, write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.read))
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	return c.Conn.Write(p)
}
