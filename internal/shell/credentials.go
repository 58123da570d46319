package shell

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// Supported values for Credentials.AuthMethod.
const (
	AuthPassword   = "password"
	AuthPrivateKey = "privateKey"
)

const defaultPort = 22

// ErrInvalidCredentials is wrapped by every input-shape error returned from
// Credentials.Validate and Adapter.Open.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials describe one remote shell login. They are consumed once when an
// adapter opens and are never persisted or logged. String renders only the
// target so a stray %v cannot leak secrets.
type Credentials struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthMethod string `json:"authMethod"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
}

// Validate checks the input shape: host, port, username and auth material.
// Private keys are parsed here so a bad key never reaches the network.
func (c Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidCredentials)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidCredentials, c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: username is empty", ErrInvalidCredentials)
	}
	_, err := c.authMethods()
	return err
}

// EffectivePort returns the configured port, defaulting to 22.
func (c Credentials) EffectivePort() int {
	if c.Port == 0 {
		return defaultPort
	}
	return c.Port
}

// Addr returns the dial address "host:port".
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
}

func (c Credentials) String() string {
	return logutil.Target(c.Username, c.Host, c.EffectivePort())
}

func (c Credentials) GoString() string {
	return "shell.Credentials{" + c.String() + "}"
}

// authMethods builds the SSH auth methods. The private key wins when the
// method is privateKey and a key is present; otherwise the password is offered
// both as "password" and "keyboard-interactive" since many servers only enable
// the latter.
func (c Credentials) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthPrivateKey:
		if c.PrivateKey == "" {
			return nil, fmt.Errorf("%w: private key is empty", ErrInvalidCredentials)
		}
		signer, err := parsePrivateKey([]byte(c.PrivateKey), c.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case AuthPassword, "":
		password := c.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported auth method %q", ErrInvalidCredentials, logutil.SanitizeForLog(c.AuthMethod))
	}
}

func parsePrivateKey(pem []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key is passphrase protected")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
