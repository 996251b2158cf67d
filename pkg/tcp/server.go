package tcp

import (
	"context"
	"net"

	"github.com/fluxorio/recordlog/pkg/core"
)

// ConnectionHandler serves one TCP connection. The server closes the
// connection after the handler returns, and also when the server stops,
// which unblocks any pending Read.
type ConnectionHandler func(ctx *ConnContext) error

// Middleware wraps a ConnectionHandler.
type Middleware func(next ConnectionHandler) ConnectionHandler

// ConnContext is the per-connection state handed to a handler.
type ConnContext struct {
	// Context is cancelled when the server stops.
	Context context.Context

	// Conn refreshes its read and write deadlines on every call, so the
	// configured timeouts bound idle time, not connection lifetime.
	Conn net.Conn

	// ID identifies the connection in logs.
	ID     string
	Logger core.Logger

	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// ServerMetrics is a snapshot of server counters.
type ServerMetrics struct {
	QueuedConnections   int64   // waiting for a worker
	RejectedConnections int64   // closed on accept by backpressure or MaxConns
	QueueCapacity       int     // bound on queued connections
	Workers             int     // worker goroutines
	QueueUtilization    float64 // queued / capacity, percent
	NormalCCU           int     // workers + queue
	CurrentCCU          int     // connections holding backpressure capacity
	CCUUtilization      float64 // current / normal, percent
	TotalAccepted       int64
	HandledConnections  int64
	ErrorConnections    int64 // handler errors and panics
	ActiveConnections   int64 // queued + being handled
	MaxConns            int   // 0 is unlimited
}
