// Package sshaudit records relay activity to the audit store.
//
// # Event Types
//
//   - [EventClientConnected]: a browser opened the relay WebSocket.
//   - [EventClientDisconnected]: the WebSocket ended (includes duration).
//   - [EventSessionStarted]: a remote shell opened for a session.
//   - [EventSessionEnded]: the shell closed, by the user or the remote side.
//   - [EventConnectionFailed]: the session failed; details carry the error kind.
//
// Records hold the target host, port and username plus session and
// connection ids. Passwords, private keys and passphrases are never stored.
//
// # Architecture
//
// [Auditor] wraps a GORM connection writing to the session_audit_logs
// table. [InitGlobal] installs it at startup and [GetAuditor] returns it. The
// helpers in helpers.go check for a nil global, so callers never need to know
// whether auditing is enabled.
//
// # Retention
//
// [Auditor.PurgeOlderThan] removes entries past the retention window
// ([DefaultRetentionDays] unless configured). [Auditor.SchedulePurge] runs it
// on a cron schedule.
//
// # Usage
//
//	a := sshaudit.InitGlobal(database.DB, 90)
//	sched, err := a.SchedulePurge("@daily")
//	defer sched.Stop()
//
//	sshaudit.LogSessionStarted(connID, "s1", "10.0.0.5", 22, "root")
//
//	result, err := sshaudit.GetAuditor().Query(sshaudit.QueryOptions{
//	    EventType: sshaudit.EventConnectionFailed,
//	    Limit:     50,
//	})
//
// Log lines use the [ssh-audit] prefix.
package sshaudit
