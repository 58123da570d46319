// Package session tracks the terminal sessions of one client connection and
// drives each one's remote shell through its lifecycle.
package session

import (
	"bytes"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/shell"
	"github.com/gluk-w/claworc/shellrelay/internal/shellerr"
	"github.com/gluk-w/claworc/shellrelay/internal/sshaudit"
)

// State is the lifecycle state of a Session.
type State string

const (
	StatePending   State = "pending"
	StateConnected State = "connected"
	StateClosed    State = "closed"
	StateFailed    State = "failed"
)

func (s State) live() bool {
	return s == StatePending || s == StateConnected
}

// Notifier receives the per-session notifications bound for the client.
// Calls for one session never overlap and stop once it is terminal.
type Notifier interface {
	SessionConnected(id string)
	SessionData(id, data string)
	SessionError(id, message string)
	SessionClosed(id string)
}

// remoteShell is the part of *shell.Adapter a Session drives.
type remoteShell interface {
	Open(creds shell.Credentials) error
	RequestShell(cols, rows int) error
	Write(p []byte) error
	Resize(cols, rows int) error
	Close() error
}

// Session is one terminal tab: a caller-chosen id bound to one remote shell.
type Session struct {
	id       string
	connID   string
	target   shell.Credentials // auth material stripped
	notifier Notifier
	release  func(*Session)

	mu        sync.Mutex
	state     State
	adapter   remoteShell
	decoder   io.Writer
	decoded   bytes.Buffer
	createdAt time.Time
	openedAt  time.Time
}

func newSession(id, connID string, creds shell.Credentials, n Notifier, release func(*Session)) *Session {
	s := &Session{
		id:        id,
		connID:    connID,
		target:    stripSecrets(creds),
		notifier:  n,
		release:   release,
		state:     StatePending,
		createdAt: time.Now(),
	}
	s.decoder = transform.NewWriter(&s.decoded, unicode.UTF8.NewDecoder())
	return s
}

func stripSecrets(c shell.Credentials) shell.Credentials {
	c.Password = ""
	c.PrivateKey = ""
	c.Passphrase = ""
	return c
}

// ID returns the caller-supplied session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) String() string {
	return logutil.SanitizeForLog(s.id) + " -> " + s.target.String()
}

// start opens the adapter. Errors are input-shape faults only.
func (s *Session) start(a remoteShell, creds shell.Credentials) error {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
	log.Printf("[session] %s connecting", s)
	return a.Open(creds)
}

// SubmitInput forwards keystrokes once the shell is open. Anything earlier
// or later is dropped.
func (s *Session) SubmitInput(p []byte) {
	s.mu.Lock()
	a := s.adapter
	ok := s.state == StateConnected
	s.mu.Unlock()
	if !ok || a == nil {
		return
	}
	if err := a.Write(p); err != nil {
		log.Printf("[session] %s input: %v", s, err)
	}
}

// Resize forwards a geometry change once the shell is open. Resizes that
// arrive while pending are dropped, not queued.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	a := s.adapter
	ok := s.state == StateConnected
	s.mu.Unlock()
	if !ok || a == nil {
		return
	}
	if err := a.Resize(cols, rows); err != nil {
		log.Printf("[session] %s resize: %v", s, err)
	}
}

// Disconnect closes the session at the user's request. It is idempotent and
// sends no notification.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.state.live() {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed
	a := s.adapter
	s.mu.Unlock()

	s.release(s)
	if a != nil {
		a.Close()
	}
	log.Printf("[session] %s disconnected after %s", s, time.Since(s.createdAt).Round(time.Millisecond))
	if wasConnected {
		s.auditEnded("disconnect")
	}
}

func (s *Session) auditEnded(reason string) {
	sshaudit.LogSessionEnded(s.connID, s.id, s.target.Host, s.target.EffectivePort(), s.target.Username,
		reason, time.Since(s.openedAt).Milliseconds())
}

// events adapts a Session to shell.Handler without exporting the callbacks.
type events struct{ s *Session }

func (e events) OnReady() {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return
	}
	if err := s.adapter.RequestShell(s.target.Cols, s.target.Rows); err != nil {
		log.Printf("[session] %s request shell: %v", s, err)
	}
}

func (e events) OnShellOpen() {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return
	}
	s.state = StateConnected
	s.openedAt = time.Now()
	log.Printf("[session] %s connected", s)
	s.notifier.SessionConnected(s.id)
	sshaudit.LogSessionStarted(s.connID, s.id, s.target.Host, s.target.EffectivePort(), s.target.Username)
}

func (e events) OnData(p []byte) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	if _, err := s.decoder.Write(p); err != nil {
		log.Printf("[session] %s decode output: %v", s, err)
	}
	if s.decoded.Len() == 0 {
		return
	}
	data := s.decoded.String()
	s.decoded.Reset()
	s.notifier.SessionData(s.id, data)
}

func (e events) OnError(err error) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.live() {
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateFailed
	s.release(s)

	kind, msg := shellerr.Translate(err, s.target)
	log.Printf("[session] %s failed (%s): %v", s, kind, err)
	s.notifier.SessionError(s.id, msg)
	sshaudit.LogConnectionFailed(s.connID, s.id, s.target.Host, s.target.EffectivePort(), s.target.Username, kind.String())
	if wasConnected {
		s.auditEnded("error")
	}
}

func (e events) OnClosed() {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.live() {
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed
	s.release(s)

	log.Printf("[session] %s closed by remote", s)
	s.notifier.SessionClosed(s.id)
	if wasConnected {
		s.auditEnded("remote")
	}
}
