package shell

import (
	"time"

	"golang.org/x/crypto/ssh"
)

// keepalive probes the server every KeepaliveInterval and fails the adapter
// after KeepaliveCountMax consecutive unanswered probes.
func (a *Adapter) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(a.opts.KeepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}

		if probe(client, a.opts.KeepaliveInterval) {
			missed = 0
			continue
		}
		missed++
		if missed >= a.opts.KeepaliveCountMax {
			a.fail(ErrKeepalive)
			return
		}
	}
}

// probe sends one keepalive request and reports whether any reply arrived
// within timeout. A rejection still counts as alive.
func probe(client *ssh.Client, timeout time.Duration) bool {
	done := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest(keepaliveRequest, true, nil)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-timer.C:
		return false
	}
}
