// Package relay serves the browser-facing WebSocket. Each connection gets
// its own session table; messages are routed only within that table.
package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gluk-w/claworc/shellrelay/internal/shell"
	"github.com/gluk-w/claworc/shellrelay/internal/sshaudit"
)

const (
	DefaultMaxMessageBytes = 1 << 20
	DefaultPingInterval    = 25 * time.Second
	DefaultPingTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second

	outboundQueue = 256
)

// Options configure a Server. Zero durations and sizes use the defaults.
type Options struct {
	Shell shell.Options
	// AllowedOrigins are host patterns for the Origin check. Empty accepts
	// any origin.
	AllowedOrigins  []string
	MaxMessageBytes int64
	// MessageRate is inbound messages per second per connection; 0 disables
	// pacing. Excess messages are delayed, never dropped.
	MessageRate  float64
	MessageBurst int
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = max(1, int(o.MessageRate))
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = DefaultPingTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// Server is an http.Handler accepting relay WebSockets.
type Server struct {
	opts Options

	mu      sync.Mutex
	conns   map[string]*conn
	closing bool
	wg      sync.WaitGroup
}

func NewServer(opts Options) *Server {
	return &Server{
		opts:  opts.withDefaults(),
		conns: make(map[string]*conn),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.AllowedOrigins,
		InsecureSkipVerify: len(s.opts.AllowedOrigins) == 0,
	})
	if err != nil {
		log.Printf("[relay] failed to accept websocket: %v", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	c := newConn(r.Context(), uuid.NewString(), ws, s.opts, sshaudit.ExtractSourceIP(r))
	s.register(c)
	defer s.deregister(c)

	log.Printf("[relay] client connected: %s from %s", c.id, c.remoteIP)
	sshaudit.LogClientConnected(c.id, c.remoteIP)

	reason := c.run()

	log.Printf("[relay] client disconnected: %s (%s)", c.id, reason)
	sshaudit.LogClientDisconnected(c.id, c.remoteIP, reason, time.Since(c.started).Milliseconds())
}

// register adds c to the registry. A connection that raced Shutdown is
// sent away at once.
func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
	if s.closing {
		c.shutdown()
	}
}

func (s *Server) deregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// ConnectionCount returns the number of open client connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SessionCount returns the number of live sessions across all connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		n += c.table.Len()
	}
	return n
}

// Shutdown stops accepting connections, ends every open one (closing its
// sessions) and waits for them to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
