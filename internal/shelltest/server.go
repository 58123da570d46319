// Package shelltest runs an in-process SSH server for tests of the relay
// stack. The server accepts password and public key logins, honours pty-req,
// shell and window-change, and echoes stdin back like a pty in echo mode.
package shelltest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Options control server behaviour.
type Options struct {
	// Password accepted for any user. Empty disables password auth.
	Password string
	// AuthorizedKey accepted for any user. Nil disables public key auth.
	AuthorizedKey ssh.PublicKey
	// RejectPTY and RejectShell make the corresponding request fail.
	RejectPTY   bool
	RejectShell bool
	// IgnoreKeepalive leaves global requests unanswered.
	IgnoreKeepalive bool
}

// Server is a running test server.
type Server struct {
	Addr string
	Host string
	Port int

	config   *ssh.ServerConfig
	opts     Options
	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Start listens on a random loopback port and serves until the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	_, hostSigner := GenerateKey(t)
	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}
	if opts.AuthorizedKey != nil {
		want := ssh.FingerprintSHA256(opts.AuthorizedKey)
		config.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == want {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tcp := listener.Addr().(*net.TCPAddr)

	s := &Server{
		Addr:     listener.Addr().String(),
		Host:     tcp.IP.String(),
		Port:     tcp.Port,
		config:   config,
		opts:     opts,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// GenerateKey returns a fresh ed25519 key as PKCS#8 PEM and as a signer.
func GenerateKey(t testing.TB) (string, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), signer
}

// GenerateEncryptedKey returns an OpenSSH private key protected by passphrase.
func GenerateEncryptedKey(t testing.TB, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	if err != nil {
		t.Fatalf("marshal encrypted key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return string(pem.EncodeToMemory(block)), sshPub
}

// ClosedPort returns a loopback port that nothing listens on.
func ClosedPort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// SilentListener accepts TCP connections and never speaks, so an SSH
// handshake against it stalls until the client gives up. It returns the
// loopback port.
func SilentListener(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return l.Addr().(*net.TCPAddr).Port
}

// DropConnections closes every accepted TCP connection abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// ConnCount reports the number of open TCP connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	if s.opts.IgnoreKeepalive {
		go func() {
			for range reqs {
			}
		}()
	} else {
		go ssh.DiscardRequests(reqs)
	}

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

type ptyRequest struct {
	Term   string
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
	Modes  string
}

type windowChange struct {
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	pty := "none"
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if s.opts.RejectPTY || ssh.Unmarshal(req.Payload, &p) != nil {
				req.Reply(false, nil)
				continue
			}
			pty = fmt.Sprintf("%s %dx%d", p.Term, p.Cols, p.Rows)
			req.Reply(true, nil)

		case "window-change":
			var w windowChange
			if ssh.Unmarshal(req.Payload, &w) == nil {
				fmt.Fprintf(ch, "resize:%dx%d\r\n", w.Cols, w.Rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if s.opts.RejectShell {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			fmt.Fprintf(ch, "PTY:%s\r\n", pty)
			go echo(ch)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// echo writes stdin back. A line "exit" ends the shell with status 0 and a
// line "stderr" writes a marker to the stderr stream.
func echo(ch ssh.Channel) {
	buf := make([]byte, 4096)
	var line strings.Builder
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			ch.Write(buf[:n])
			for _, b := range buf[:n] {
				if b != '\r' && b != '\n' {
					line.WriteByte(b)
					continue
				}
				switch line.String() {
				case "exit":
					ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
					ch.Close()
					return
				case "stderr":
					ch.Stderr().Write([]byte("err:" + strconv.Itoa(line.Len()) + "\r\n"))
				}
				line.Reset()
			}
		}
		if err != nil {
			return
		}
	}
}
