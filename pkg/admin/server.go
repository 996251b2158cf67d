// Package admin serves the daemon's operational HTTP endpoints:
//
//	GET  /metrics  Prometheus exposition
//	GET  /live     process liveness
//	GET  /ready    readiness, based on socket queue utilisation
//	GET  /log      retained history as text
//	POST /log      append the request body through the log write path
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/observability/prometheus"
	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

// LogAccess is the part of a recordlog.Handle the admin server uses.
type LogAccess interface {
	ReadAll(ctx context.Context) ([]byte, error)
	WriteAll(ctx context.Context, p []byte) (int, error)
}

var _ LogAccess = (*recordlog.Handle)(nil)

// Config configures the admin server.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // bounds the wait for the log's buffer lock
	MaxBodySize    int

	// Terminator and MaxRecordSize must match the log. POST bodies are
	// accepted only as whole records, so an admin write never leaves
	// bytes in the pending record shared with other writers.
	Terminator    byte
	MaxRecordSize int
	// ReadyQueueUtilization is the socket queue utilisation, in percent,
	// at or above which /ready reports 503.
	ReadyQueueUtilization float64
}

// DefaultConfig returns the admin defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:                  addr,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		RequestTimeout:        5 * time.Second,
		MaxBodySize:           4 << 20,
		Terminator:            recordlog.DefaultTerminator,
		MaxRecordSize:         recordlog.DefaultMaxRecordSize,
		ReadyQueueUtilization: 90,
	}
}

// Server is the admin HTTP server.
type Server struct {
	cfg     Config
	log     LogAccess
	metrics *prometheus.Metrics
	socket  func() tcp.ServerMetrics
	logger  core.Logger

	server         *fasthttp.Server
	metricsHandler fasthttp.RequestHandler
	stopping       atomic.Bool
}

// New builds an admin server over log. metrics and socket may be nil: without
// metrics /metrics answers 404, without socket /ready only reflects shutdown.
func New(cfg Config, log LogAccess, metrics *prometheus.Metrics, socket func() tcp.ServerMetrics, logger core.Logger) *Server {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	def := DefaultConfig(cfg.Addr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.Terminator == 0 {
		cfg.Terminator = def.Terminator
	}
	if cfg.MaxRecordSize <= 0 {
		cfg.MaxRecordSize = def.MaxRecordSize
	}
	if cfg.ReadyQueueUtilization <= 0 {
		cfg.ReadyQueueUtilization = def.ReadyQueueUtilization
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		socket:  socket,
		logger:  core.Named(logger, "admin"),
	}
	if metrics != nil {
		s.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	}
	s.server = &fasthttp.Server{
		Handler:               s.Handler(),
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		MaxRequestBodySize:    cfg.MaxBodySize,
		NoDefaultServerHeader: true,
		Name:                  "recordlogd",
	}
	return s
}

// Handler returns the routed handler wrapped with request metrics.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.instrument(s.route)
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("admin: listening on %s", s.cfg.Addr)
	return s.server.ListenAndServe(s.cfg.Addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown marks the server not ready and closes it gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	return s.server.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/metrics":
		if s.metricsHandler == nil {
			ctx.Error("metrics disabled", fasthttp.StatusNotFound)
			return
		}
		s.metricsHandler(ctx)
	case "/live":
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case "/ready":
		s.ready(ctx)
	case "/log":
		switch {
		case ctx.IsGet() || ctx.IsHead():
			s.readLog(ctx)
		case ctx.IsPost():
			s.writeLog(ctx)
		default:
			ctx.Response.Header.Set("Allow", "GET, HEAD, POST")
			ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		}
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) ready(ctx *fasthttp.RequestCtx) {
	body := map[string]interface{}{"status": "ready"}
	status := fasthttp.StatusOK

	if s.stopping.Load() {
		body["status"] = "stopping"
		status = fasthttp.StatusServiceUnavailable
	} else if s.socket != nil {
		m := s.socket()
		body["queue_utilization"] = m.QueueUtilization
		body["active_connections"] = m.ActiveConnections
		if m.QueueUtilization >= s.cfg.ReadyQueueUtilization {
			body["status"] = "overloaded"
			status = fasthttp.StatusServiceUnavailable
		}
	}
	s.writeJSON(ctx, status, body)
}

func (s *Server) readLog(ctx *fasthttp.RequestCtx) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	data, err := s.log.ReadAll(rctx)
	if err != nil {
		s.fail(ctx, "read", err)
		return
	}
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBody(data)
}

func (s *Server) writeLog(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	if len(body) == 0 {
		ctx.Error("empty body", fasthttp.StatusBadRequest)
		return
	}
	if body[len(body)-1] != s.cfg.Terminator {
		ctx.Error("body must end with the record terminator", fasthttp.StatusBadRequest)
		return
	}
	for rest := body; len(rest) > 0; {
		n := bytes.IndexByte(rest, s.cfg.Terminator) + 1
		if n > s.cfg.MaxRecordSize {
			ctx.Error("record exceeds the maximum record size", fasthttp.StatusRequestEntityTooLarge)
			return
		}
		rest = rest[n:]
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	n, err := s.log.WriteAll(rctx, body)
	if err != nil {
		s.fail(ctx, "write", err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusAccepted, map[string]interface{}{"written": n})
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, op string, err error) {
	switch {
	case recordlog.IsInterrupted(err):
		ctx.Error("log busy", fasthttp.StatusServiceUnavailable)
	case errors.Is(err, recordlog.ErrNotOpen), errors.Is(err, recordlog.ErrDestroyed):
		ctx.Error("log closed", fasthttp.StatusServiceUnavailable)
	default:
		s.logger.Errorf("admin: %s log: %v", op, err)
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// instrument records method, route and status for every request. Unknown
// paths share one label to keep cardinality bounded.
func (s *Server) instrument(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if s.metrics == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		s.metrics.RecordHTTPRequest(string(ctx.Method()), routeLabel(ctx.Path()),
			ctx.Response.StatusCode(), time.Since(start))
	}
}

func routeLabel(path []byte) string {
	switch p := string(path); p {
	case "/metrics", "/live", "/ready", "/log":
		return p
	default:
		return "other"
	}
}
