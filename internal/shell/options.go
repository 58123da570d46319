package shell

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultCols = 80
	DefaultRows = 24

	// MaxCols and MaxRows bound pty geometry to prevent resource abuse.
	MaxCols = 500
	MaxRows = 200

	DefaultTermType          = "xterm-256color"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultKeepaliveCountMax = 3
	DefaultClientVersion     = "SSH-2.0-shellrelay"

	keepaliveRequest = "keepalive@openssh.com"
)

// Options tune an Adapter. Zero values fall back to the defaults above.
type Options struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveCountMax int
	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	ClientVersion   string
	TermType        string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.KeepaliveCountMax <= 0 {
		o.KeepaliveCountMax = DefaultKeepaliveCountMax
	}
	if o.HostKeyCallback == nil {
		o.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if o.ClientVersion == "" {
		o.ClientVersion = DefaultClientVersion
	}
	if o.TermType == "" {
		o.TermType = DefaultTermType
	}
	return o
}

// NormalizeGeometry substitutes 80x24 for missing or non-positive values and
// clamps oversized ones to MaxCols x MaxRows.
func NormalizeGeometry(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	return min(cols, MaxCols), min(rows, MaxRows)
}

// HostKeyCallback loads an OpenSSH known_hosts file. An empty path disables
// host key verification.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}
