// Package shell opens one interactive remote shell over SSH and reports its
// lifecycle through callbacks.
//
// An [Adapter] owns a single *ssh.Client and at most one PTY-backed
// *ssh.Session on it. All blocking work (dial, handshake, authentication,
// shell start) happens on background goroutines; the caller only sees
// [Handler] events.
//
// # Lifecycle
//
//  1. [Adapter.Open] validates the [Credentials] and starts connecting.
//     state=[StateConnecting].
//
//  2. Handshake and authentication succeed. state=[StateReady] and
//     [Handler.OnReady] fires.
//
//  3. [Adapter.RequestShell] asks for a PTY with the given geometry and
//     starts a login shell. state=[StateShellOpen] and [Handler.OnShellOpen]
//     fires. Remote stdout and stderr are merged into [Handler.OnData].
//
//  4. The shell exits, the server drops the connection or [Adapter.Close] is
//     called. state=[StateClosed] and [Handler.OnClosed] fires once.
//
// Any failure before that moves the adapter to [StateError] and fires
// [Handler.OnError] followed by OnClosed.
//
// # Authentication
//
//   - [AuthPassword]: password, with keyboard-interactive answered using the
//     same password for servers that only offer that.
//   - [AuthPrivateKey]: PEM key, optionally encrypted with a passphrase.
//
// Host keys are accepted unconditionally unless [Options.HostKeyCallback] is
// set. [HostKeyCallback] builds one from an OpenSSH known_hosts file.
//
// # Keepalive
//
// While connected the adapter sends keepalive@openssh.com global requests
// every [Options.KeepaliveInterval]. After [Options.KeepaliveCountMax]
// unanswered probes the connection fails with [ErrKeepalive].
//
// # Limits
//
// PTY geometry is clamped to [MaxCols] x [MaxRows]; zero or negative values
// fall back to [DefaultCols] x [DefaultRows]. See [NormalizeGeometry].
package shell
