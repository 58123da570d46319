package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/shell"
	"github.com/gluk-w/claworc/shellrelay/internal/shelltest"
)

type note struct {
	kind string
	id   string
	data string
}

// recordingNotifier captures notifications in order.
type recordingNotifier struct {
	ch chan note
}

func newNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan note, 1024)}
}

func (n *recordingNotifier) SessionConnected(id string) { n.ch <- note{kind: "connected", id: id} }
func (n *recordingNotifier) SessionData(id, data string) {
	n.ch <- note{kind: "data", id: id, data: data}
}
func (n *recordingNotifier) SessionError(id, msg string) {
	n.ch <- note{kind: "error", id: id, data: msg}
}
func (n *recordingNotifier) SessionClosed(id string) { n.ch <- note{kind: "closed", id: id} }

// next returns the next non-data notification.
func (n *recordingNotifier) next(t *testing.T) note {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case nt := <-n.ch:
			if nt.kind == "data" {
				continue
			}
			return nt
		case <-timeout:
			t.Fatal("timeout waiting for notification")
			return note{}
		}
	}
}

func (n *recordingNotifier) waitData(t *testing.T, id, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	var got strings.Builder
	for {
		select {
		case nt := <-n.ch:
			if nt.kind != "data" {
				t.Fatalf("unexpected %s for %s while waiting for %q", nt.kind, nt.id, want)
			}
			if nt.id != id {
				continue
			}
			got.WriteString(nt.data)
			if strings.Contains(got.String(), want) {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %q on %s, got %q", want, id, got.String())
		}
	}
}

// quiet fails if any non-data notification arrives within d.
func (n *recordingNotifier) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case nt := <-n.ch:
			if nt.kind != "data" {
				t.Fatalf("unexpected %s notification for %s", nt.kind, nt.id)
			}
		case <-timeout:
			return
		}
	}
}

func expectNote(t *testing.T, got note, kind, id string) {
	t.Helper()
	if got.kind != kind || got.id != id {
		t.Fatalf("expected %s for %s, got %s for %s (%q)", kind, id, got.kind, got.id, got.data)
	}
}

func creds(srv *shelltest.Server, password string) shell.Credentials {
	return shell.Credentials{
		Host:       srv.Host,
		Port:       srv.Port,
		Username:   "root",
		AuthMethod: shell.AuthPassword,
		Password:   password,
		Cols:       100,
		Rows:       30,
	}
}

func TestTable_SessionLifecycle(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw"})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})
	t.Cleanup(tbl.CloseAll)

	s, err := tbl.Create("s1", creds(srv, "pw"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.State() != StatePending {
		t.Errorf("expected pending right after create, got %s", s.State())
	}
	if tbl.Lookup("s1") != s {
		t.Fatal("expected session to be reachable while pending")
	}

	expectNote(t, n.next(t), "connected", "s1")
	n.waitData(t, "s1", "PTY:xterm-256color 100x30")

	s.SubmitInput([]byte("hello"))
	n.waitData(t, "s1", "hello")

	s.Resize(120, 40)
	n.waitData(t, "s1", "resize:120x40")

	tbl.RemoveAndClose("s1")
	if tbl.Len() != 0 || tbl.Lookup("s1") != nil {
		t.Error("expected session removed after disconnect")
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	n.quiet(t, 200*time.Millisecond)

	// Idempotent and stale operations are no-ops.
	tbl.RemoveAndClose("s1")
	s.Disconnect()
	s.SubmitInput([]byte("ignored"))
	s.Resize(80, 24)
	n.quiet(t, 50*time.Millisecond)
}

func TestTable_DuplicateID(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw"})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})
	t.Cleanup(tbl.CloseAll)

	first, err := tbl.Create("s1", creds(srv, "pw"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	expectNote(t, n.next(t), "connected", "s1")

	if _, err := tbl.Create("s1", creds(srv, "pw")); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	if tbl.Lookup("s1") != first || tbl.Len() != 1 {
		t.Fatal("duplicate create must not touch the existing session")
	}
	if first.State() != StateConnected {
		t.Errorf("expected first session still connected, got %s", first.State())
	}

	// A live id wins over malformed credentials.
	if _, err := tbl.Create("s1", shell.Credentials{Username: "root"}); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession for invalid credentials on a live id, got %v", err)
	}
	if tbl.Lookup("s1") != first || tbl.Len() != 1 {
		t.Fatal("duplicate create with bad credentials must not touch the existing session")
	}

	first.SubmitInput([]byte("still-here"))
	n.waitData(t, "s1", "still-here")
}

func TestTable_InvalidCredentials(t *testing.T) {
	tbl := NewTable("conn-1", newNotifier(), shell.Options{})
	_, err := tbl.Create("s1", shell.Credentials{Host: "", Username: "root"})
	if !errors.Is(err, shell.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d", tbl.Len())
	}
}

func TestTable_AuthFailure(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "right"})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})

	s, err := tbl.Create("s1", creds(srv, "wrong"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got := n.next(t)
	expectNote(t, got, "error", "s1")
	if got.data != "Authentication failed. Check your credentials." {
		t.Errorf("unexpected message %q", got.data)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected failed session removed, got %v", tbl.IDs())
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	n.quiet(t, 200*time.Millisecond)
}

func TestTable_ConnectionRefused(t *testing.T) {
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})
	port := shelltest.ClosedPort(t)

	tbl.Create("s1", shell.Credentials{Host: "127.0.0.1", Port: port, Username: "root", Password: "x"})
	got := n.next(t)
	expectNote(t, got, "error", "s1")
	if !strings.HasPrefix(got.data, "Connection refused by 127.0.0.1:") {
		t.Errorf("unexpected message %q", got.data)
	}
}

func TestTable_HandshakeTimeout(t *testing.T) {
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{ConnectTimeout: 300 * time.Millisecond})
	port := shelltest.SilentListener(t)

	s, err := tbl.Create("s1", shell.Credentials{Host: "127.0.0.1", Port: port, Username: "root", Password: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got := n.next(t)
	expectNote(t, got, "error", "s1")
	if got.data != "Connection to 127.0.0.1 timed out." {
		t.Errorf("unexpected message %q", got.data)
	}
	if tbl.Len() != 0 || s.State() != StateFailed {
		t.Errorf("expected failed and removed, state %s len %d", s.State(), tbl.Len())
	}
	n.quiet(t, 200*time.Millisecond)
}

func TestTable_ShellRejected(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw", RejectShell: true})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})

	tbl.Create("s1", creds(srv, "pw"))
	got := n.next(t)
	expectNote(t, got, "error", "s1")
	if !strings.HasPrefix(got.data, "Shell error: ") {
		t.Errorf("unexpected message %q", got.data)
	}
	if tbl.Len() != 0 {
		t.Error("expected session removed")
	}
}

func TestTable_RemoteHangup(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw"})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})

	s, _ := tbl.Create("s1", creds(srv, "pw"))
	expectNote(t, n.next(t), "connected", "s1")

	s.SubmitInput([]byte("exit\r"))
	expectNote(t, n.next(t), "closed", "s1")
	if tbl.Len() != 0 || s.State() != StateClosed {
		t.Errorf("expected closed and removed, state %s len %d", s.State(), tbl.Len())
	}
	n.quiet(t, 200*time.Millisecond)
}

func TestTable_CloseAll(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw"})
	n := newNotifier()
	tbl := NewTable("conn-1", n, shell.Options{})

	a, _ := tbl.Create("a", creds(srv, "pw"))
	b, _ := tbl.Create("b", creds(srv, "pw"))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		nt := n.next(t)
		if nt.kind != "connected" {
			t.Fatalf("expected connected, got %s", nt.kind)
		}
		seen[nt.id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both sessions connected, got %v", seen)
	}
	if ids := tbl.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("unexpected ids %v", ids)
	}

	tbl.CloseAll()
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d", tbl.Len())
	}
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Errorf("expected both closed, got %s/%s", a.State(), b.State())
	}
	n.quiet(t, 200*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for srv.ConnCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected remote connections closed, %d open", srv.ConnCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTable_IndependentConnections(t *testing.T) {
	srv := shelltest.Start(t, shelltest.Options{Password: "pw"})
	n1, n2 := newNotifier(), newNotifier()
	t1 := NewTable("conn-1", n1, shell.Options{})
	t2 := NewTable("conn-2", n2, shell.Options{})
	t.Cleanup(t1.CloseAll)
	t.Cleanup(t2.CloseAll)

	s1, _ := t1.Create("tab", creds(srv, "pw"))
	if _, err := t2.Create("tab", creds(srv, "pw")); err != nil {
		t.Fatalf("same id on another connection should be allowed: %v", err)
	}
	expectNote(t, n1.next(t), "connected", "tab")
	expectNote(t, n2.next(t), "connected", "tab")

	s1.SubmitInput([]byte("only-one"))
	n1.waitData(t, "tab", "only-one")

	t1.CloseAll()
	if t2.Len() != 1 {
		t.Error("closing one connection must not affect another")
	}
}

// --- deterministic tests with a scripted adapter ---

type fakeShell struct {
	mu       sync.Mutex
	h        shell.Handler
	opened   int
	requests [][2]int
	writes   []string
	resizes  [][2]int
	closes   int
	openErr  error
}

func (f *fakeShell) Open(shell.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.openErr
}

func (f *fakeShell) RequestShell(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, [2]int{cols, rows})
	return nil
}

func (f *fakeShell) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return nil
}

func (f *fakeShell) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakeShell) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func newFakeTable(n Notifier) (*Table, *[]*fakeShell) {
	var shells []*fakeShell
	tbl := NewTable("conn-fake", n, shell.Options{})
	tbl.newShell = func(h shell.Handler) remoteShell {
		f := &fakeShell{h: h}
		shells = append(shells, f)
		return f
	}
	return tbl, &shells
}

var fakeCreds = shell.Credentials{Host: "h", Username: "u", Password: "secret", Cols: 132, Rows: 43}

func TestSession_ReadyRequestsShellWithGeometry(t *testing.T) {
	tbl, shells := newFakeTable(newNotifier())
	tbl.Create("s1", fakeCreds)
	f := (*shells)[0]

	f.h.OnReady()
	if len(f.requests) != 1 || f.requests[0] != [2]int{132, 43} {
		t.Errorf("expected shell request 132x43, got %v", f.requests)
	}
	if tbl.Lookup("s1").State() != StatePending {
		t.Error("ready alone must not connect the session")
	}
}

func TestSession_InputAndResizeDroppedWhilePending(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	s, _ := tbl.Create("s1", fakeCreds)
	f := (*shells)[0]

	s.SubmitInput([]byte("early"))
	s.Resize(100, 50)
	if len(f.writes) != 0 || len(f.resizes) != 0 {
		t.Fatalf("expected nothing forwarded while pending, got writes=%v resizes=%v", f.writes, f.resizes)
	}

	f.h.OnShellOpen()
	expectNote(t, n.next(t), "connected", "s1")
	s.SubmitInput([]byte("late"))
	s.Resize(100, 50)
	if len(f.writes) != 1 || f.writes[0] != "late" {
		t.Errorf("expected only post-connect input, got %v", f.writes)
	}
	if len(f.resizes) != 1 {
		t.Errorf("expected one resize after connect, got %v", f.resizes)
	}
}

func TestSession_UTF8SplitAcrossChunks(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	tbl.Create("s1", fakeCreds)
	f := (*shells)[0]
	f.h.OnShellOpen()
	expectNote(t, n.next(t), "connected", "s1")

	euro := []byte("€") // e2 82 ac
	f.h.OnData([]byte{'a', euro[0], euro[1]})
	f.h.OnData([]byte{euro[2], 'b'})

	var got strings.Builder
	timeout := time.After(time.Second)
	for got.String() != "a€b" {
		select {
		case nt := <-n.ch:
			got.WriteString(nt.data)
		case <-timeout:
			t.Fatalf("expected %q, got %q", "a€b", got.String())
		}
	}
	if strings.ContainsRune(got.String(), '�') {
		t.Errorf("split rune was replaced: %q", got.String())
	}
}

func TestSession_InvalidUTF8Replaced(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	tbl.Create("s1", fakeCreds)
	f := (*shells)[0]
	f.h.OnShellOpen()
	n.next(t)

	f.h.OnData([]byte{'x', 0xff, 'y'})
	nt := <-n.ch
	if nt.data != "x�y" {
		t.Errorf("expected replacement character, got %q", nt.data)
	}
}

func TestSession_ErrorIsTerminal(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	s, _ := tbl.Create("s1", fakeCreds)
	f := (*shells)[0]

	f.h.OnError(errors.New("ssh: unable to authenticate"))
	expectNote(t, n.next(t), "error", "s1")

	// The adapter closes itself after an error; that must stay silent.
	f.h.OnClosed()
	f.h.OnError(errors.New("again"))
	f.h.OnShellOpen()
	f.h.OnData([]byte("late"))
	n.quiet(t, 50*time.Millisecond)

	if s.State() != StateFailed || tbl.Len() != 0 {
		t.Errorf("expected failed and removed, got %s len %d", s.State(), tbl.Len())
	}
}

func TestSession_ClosedWhilePendingNotifies(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	tbl.Create("s1", fakeCreds)

	(*shells)[0].h.OnClosed()
	expectNote(t, n.next(t), "closed", "s1")
	if tbl.Len() != 0 {
		t.Error("expected session removed")
	}
}

func TestSession_EventsAfterDisconnectIgnored(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)
	s, _ := tbl.Create("s1", fakeCreds)
	f := (*shells)[0]

	tbl.RemoveAndClose("s1")
	if f.closes != 1 {
		t.Errorf("expected adapter closed once, got %d", f.closes)
	}
	f.h.OnReady()
	f.h.OnShellOpen()
	f.h.OnError(errors.New("late dial error"))
	f.h.OnClosed()
	n.quiet(t, 50*time.Millisecond)

	if len(f.requests) != 0 {
		t.Error("ready after disconnect must not request a shell")
	}
	s.Disconnect()
	if f.closes != 1 {
		t.Errorf("expected Disconnect to be idempotent, closes=%d", f.closes)
	}
}

func TestTable_StaleSessionDoesNotEvictReusedID(t *testing.T) {
	n := newNotifier()
	tbl, shells := newFakeTable(n)

	old, _ := tbl.Create("s1", fakeCreds)
	tbl.RemoveAndClose("s1")

	fresh, err := tbl.Create("s1", fakeCreds)
	if err != nil {
		t.Fatalf("expected id reuse after removal, got %v", err)
	}

	tbl.remove(old)
	(*shells)[0].h.OnClosed()
	if tbl.Lookup("s1") != fresh {
		t.Fatal("stale session evicted the new entry")
	}
	n.quiet(t, 50*time.Millisecond)
}

func TestTable_OpenFailureLeavesNoEntry(t *testing.T) {
	n := newNotifier()
	tbl := NewTable("conn-fake", n, shell.Options{})
	tbl.newShell = func(h shell.Handler) remoteShell {
		return &fakeShell{h: h, openErr: errors.New("boom")}
	}
	if _, err := tbl.Create("s1", fakeCreds); err == nil {
		t.Fatal("expected open error")
	}
	if tbl.Len() != 0 {
		t.Error("expected no entry after open failure")
	}
}

func TestSession_SecretsNotRetained(t *testing.T) {
	tbl, _ := newFakeTable(newNotifier())
	s, _ := tbl.Create("s1", shell.Credentials{
		Host: "h", Username: "u", AuthMethod: shell.AuthPassword, Password: "topsecret",
	})
	if s.target.Password != "" || s.target.PrivateKey != "" || s.target.Passphrase != "" {
		t.Error("session kept authentication material")
	}
	if strings.Contains(s.String(), "topsecret") {
		t.Errorf("String leaks password: %q", s.String())
	}
}
