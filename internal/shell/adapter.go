package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// State is the lifecycle state of an Adapter.
type State string

const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateShellOpen  State = "shell-open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

var (
	// ErrShell is wrapped by every failure to open the shell channel after a
	// successful login.
	ErrShell = errors.New("shell request failed")
	// ErrKeepalive is reported when the peer stops answering keepalive probes.
	ErrKeepalive = errors.New("keepalive timeout")
	// ErrNotReady is returned by RequestShell outside the ready state.
	ErrNotReady = errors.New("connection not ready")
)

// Handler receives adapter events. Calls are made from the adapter's own
// goroutines, one at a time, and never after OnClosed. The slice passed to
// OnData is only valid for the duration of the call.
type Handler interface {
	OnReady()
	OnShellOpen()
	OnData(p []byte)
	OnError(err error)
	OnClosed()
}

// Adapter owns one outbound SSH connection and at most one interactive shell
// on it. It is single use: once closed or failed it never reconnects.
type Adapter struct {
	handler Handler
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	closed         bool
	shellRequested bool
	target         string
	client         *ssh.Client
	session        *ssh.Session
	stdin          io.WriteCloser
	cols, rows     int

	// writeMu serialises stdin writes.
	writeMu sync.Mutex

	// emitMu serialises handler calls; finished is set once OnClosed ran.
	emitMu   sync.Mutex
	finished bool

	closeOnce sync.Once
}

// New creates an adapter that reports to h. Nothing happens until Open.
func New(h Handler, opts Options) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		handler: h,
		opts:    opts.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateNew,
	}
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Geometry returns the negotiated terminal size, zero before the shell opens.
func (a *Adapter) Geometry() (cols, rows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols, a.rows
}

// Open validates creds and starts connecting in the background. Only input
// shape errors are returned; network and authentication failures arrive via
// Handler.OnError.
func (a *Adapter) Open(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	auth, err := creds.authMethods()
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.state != StateNew || a.closed {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("open: adapter is %s", state)
	}
	a.state = StateConnecting
	a.target = creds.String()
	a.mu.Unlock()

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: a.opts.HostKeyCallback,
		Timeout:         a.opts.ConnectTimeout,
		ClientVersion:   a.opts.ClientVersion,
	}
	go a.connect(creds.Addr(), cfg)
	return nil
}

func (a *Adapter) connect(addr string, cfg *ssh.ClientConfig) {
	ctx, cancel := context.WithTimeout(a.ctx, a.opts.ConnectTimeout)
	defer cancel()

	client, err := dial(ctx, addr, cfg)
	if err != nil {
		a.fail(fmt.Errorf("connect to %s: %w", addr, err))
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		client.Close()
		return
	}
	a.client = client
	a.state = StateReady
	target := a.target
	a.mu.Unlock()

	log.Printf("[shell] ready -> %s", target)

	go a.keepalive(client)
	go a.watch(client)
	a.emit(func(h Handler) { h.OnReady() })
}

// dial opens the TCP connection and runs the SSH handshake, both bounded by
// ctx. Cancelling ctx aborts a handshake in progress.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// RequestShell asks for an interactive shell with the given geometry. It must
// follow OnReady. The result arrives as OnShellOpen or as OnError wrapping
// ErrShell; the caller still owns Close either way.
func (a *Adapter) RequestShell(cols, rows int) error {
	cols, rows = NormalizeGeometry(cols, rows)

	a.mu.Lock()
	if a.state != StateReady || a.closed || a.shellRequested {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("request shell: %w (state %s)", ErrNotReady, state)
	}
	a.shellRequested = true
	client := a.client
	a.mu.Unlock()

	go a.openShell(client, cols, rows)
	return nil
}

func (a *Adapter) openShell(client *ssh.Client, cols, rows int) {
	sess, err := client.NewSession()
	if err != nil {
		a.fail(fmt.Errorf("%w: open session: %w", ErrShell, err))
		return
	}

	out := &streamWriter{a: a}
	sess.Stdout = out
	sess.Stderr = out

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		a.fail(fmt.Errorf("%w: stdin pipe: %w", ErrShell, err))
		return
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(a.opts.TermType, rows, cols, modes); err != nil {
		sess.Close()
		a.fail(fmt.Errorf("%w: request pty: %w", ErrShell, err))
		return
	}

	// Hold emitMu across Shell so no output can overtake OnShellOpen.
	a.emitMu.Lock()
	if err := sess.Shell(); err != nil {
		a.emitMu.Unlock()
		sess.Close()
		a.fail(fmt.Errorf("%w: start shell: %w", ErrShell, err))
		return
	}

	a.mu.Lock()
	closed := a.closed
	if !closed {
		a.session = sess
		a.stdin = stdin
		a.cols, a.rows = cols, rows
		a.state = StateShellOpen
	}
	a.mu.Unlock()

	if closed {
		a.emitMu.Unlock()
		sess.Close()
		return
	}
	if !a.finished {
		a.handler.OnShellOpen()
	}
	a.emitMu.Unlock()

	go a.waitShell(sess)
}

// waitShell closes the adapter once the remote shell exits.
func (a *Adapter) waitShell(sess *ssh.Session) {
	err := sess.Wait()
	if a.isClosed() {
		return
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			log.Printf("[shell] %s shell ended: %v", a.targetName(), err)
		}
	}
	a.Close()
}

// watch closes the adapter if the underlying connection drops.
func (a *Adapter) watch(client *ssh.Client) {
	err := client.Wait()
	if a.isClosed() {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		a.fail(fmt.Errorf("connection lost: %w", err))
		return
	}
	a.Close()
}

// Write forwards p to the shell's stdin. It is a no-op unless the shell is
// open. Nothing is buffered.
func (a *Adapter) Write(p []byte) error {
	a.mu.Lock()
	stdin := a.stdin
	open := a.state == StateShellOpen && !a.closed
	a.mu.Unlock()
	if !open || stdin == nil || len(p) == 0 {
		return nil
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := stdin.Write(p); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Resize changes the remote pty geometry. It is a no-op without an open shell
// or for non-positive dimensions. Oversized values are clamped.
func (a *Adapter) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	cols, rows = NormalizeGeometry(cols, rows)

	a.mu.Lock()
	sess := a.session
	open := a.state == StateShellOpen && !a.closed
	a.mu.Unlock()
	if !open || sess == nil {
		return nil
	}

	if err := sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}

	a.mu.Lock()
	a.cols, a.rows = cols, rows
	a.mu.Unlock()
	return nil
}

// Close tears down the shell and the connection. It is idempotent, safe from
// any state and from inside Handler callbacks. OnClosed is delivered
// asynchronously, exactly once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		if a.state != StateError {
			a.state = StateClosed
		}
		sess, client := a.session, a.client
		a.mu.Unlock()

		a.cancel()
		if sess != nil {
			sess.Close()
		}
		if client != nil {
			client.Close()
		}
		go a.emitClosed()
	})
	return nil
}

// fail reports err once and closes. Errors after Close are dropped.
func (a *Adapter) fail(err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.state = StateError
	target := a.target
	a.mu.Unlock()

	log.Printf("[shell] error -> %s: %v", target, err)
	a.emit(func(h Handler) { h.OnError(err) })
	a.Close()
}

func (a *Adapter) emit(fn func(Handler)) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.finished {
		return
	}
	fn(a.handler)
}

func (a *Adapter) emitClosed() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.finished {
		return
	}
	a.finished = true
	a.handler.OnClosed()
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) targetName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// streamWriter merges stdout and stderr into one ordered OnData stream.
type streamWriter struct {
	a *Adapter
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 || w.a.isClosed() {
		return len(p), nil
	}
	w.a.emit(func(h Handler) { h.OnData(p) })
	return len(p), nil
}
