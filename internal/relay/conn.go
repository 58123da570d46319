package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/gluk-w/claworc/shellrelay/internal/shellerr"
)

var (
	errShutdown    = errors.New("server shutdown")
	errPingTimeout = errors.New("ping timeout")
	errWriteFailed = errors.New("write failed")
)

// conn is one client WebSocket and its session table. It implements
// session.Notifier by queueing frames for a single writer goroutine.
type conn struct {
	id       string
	remoteIP string
	started  time.Time
	ws       *websocket.Conn
	opts     Options
	table    *session.Table
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelCauseFunc
	out    chan ServerMessage

	// goingAway is set once shutdown has started the close handshake.
	goingAway atomic.Bool
}

func newConn(parent context.Context, id string, ws *websocket.Conn, opts Options, remoteIP string) *conn {
	ctx, cancel := context.WithCancelCause(parent)
	c := &conn{
		id:       id,
		remoteIP: remoteIP,
		started:  time.Now(),
		ws:       ws,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan ServerMessage, outboundQueue),
	}
	if opts.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessageRate), opts.MessageBurst)
	}
	c.table = session.NewTable(id, c, opts.Shell)
	return c
}

// run serves the connection until it ends and returns the reason.
func (c *conn) run() string {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.pingLoop()
	}()

	err := c.readLoop()
	c.cancel(err)
	c.table.CloseAll()
	wg.Wait()

	cause := context.Cause(c.ctx)
	if !c.goingAway.Load() {
		c.ws.Close(websocket.StatusNormalClosure, "")
	}
	return closeReason(cause)
}

func closeReason(err error) string {
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Sprintf("closed by client (%d)", status)
	}
	return err.Error()
}

// shutdown starts the GoingAway close handshake. The read context stays
// live so the close frame is written before the socket goes; readLoop ends
// once the handshake completes.
func (c *conn) shutdown() {
	if c.goingAway.Swap(true) {
		return
	}
	go c.ws.Close(websocket.StatusGoingAway, "server shutting down")
}

func (c *conn) readLoop() error {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.goingAway.Load() {
				return errShutdown
			}
			if cause := context.Cause(c.ctx); cause != nil {
				return cause
			}
			return err
		}
		if typ != websocket.MessageText {
			log.Printf("[relay] %s: ignoring binary frame", c.id)
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(c.ctx); err != nil {
				return context.Cause(c.ctx)
			}
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[relay] %s: malformed message: %v", c.id, err)
		return
	}

	switch msg.Type {
	case TypeCreate:
		c.create(&msg)
	case TypeInput:
		if s := c.table.Lookup(msg.SessionID); s != nil {
			s.SubmitInput([]byte(msg.Data))
		}
	case TypeResize:
		if s := c.table.Lookup(msg.SessionID); s != nil {
			s.Resize(msg.Cols, msg.Rows)
		}
	case TypeDisconnect:
		c.table.RemoveAndClose(msg.SessionID)
	default:
		log.Printf("[relay] %s: unknown message type %q", c.id, logutil.SanitizeForLog(msg.Type))
	}
}

func (c *conn) create(msg *ClientMessage) {
	if msg.SessionID == "" {
		log.Printf("[relay] %s: create without session id", c.id)
		return
	}
	creds := msg.target()
	if creds == nil {
		c.SessionError(msg.SessionID, "Missing connection config.")
		return
	}

	_, err := c.table.Create(msg.SessionID, *creds)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrDuplicateSession):
		log.Printf("[relay] %s: duplicate session %s", c.id, logutil.SanitizeForLog(msg.SessionID))
		c.SessionError(msg.SessionID, session.DuplicateMessage)
	default:
		_, text := shellerr.Translate(err, *creds)
		c.SessionError(msg.SessionID, text)
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := wsjson.Write(ctx, c.ws, msg)
			cancel()
			if err != nil {
				if c.goingAway.Load() {
					c.cancel(errShutdown)
					return
				}
				if c.ctx.Err() == nil {
					log.Printf("[relay] %s: write: %v", c.id, err)
				}
				c.cancel(errWriteFailed)
				return
			}
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.PingTimeout)
		err := c.ws.Ping(ctx)
		cancel()
		if err != nil {
			if c.ctx.Err() == nil && !c.goingAway.Load() {
				c.cancel(errPingTimeout)
			}
			return
		}
	}
}

// send queues msg for the writer. It blocks while the queue is full and
// gives up once the connection is gone.
func (c *conn) send(msg ServerMessage) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *conn) SessionConnected(id string) {
	c.send(ServerMessage{Type: TypeConnected, SessionID: id})
}

func (c *conn) SessionData(id, data string) {
	c.send(ServerMessage{Type: TypeData, SessionID: id, Data: data})
}

func (c *conn) SessionError(id, message string) {
	c.send(ServerMessage{Type: TypeError, SessionID: id, Message: message})
}

func (c *conn) SessionClosed(id string) {
	c.send(ServerMessage{Type: TypeClosed, SessionID: id})
}
