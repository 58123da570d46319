package sshaudit

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// global is read on every relay event, so it is an atomic pointer rather
// than a mutex-guarded field.
var global atomic.Pointer[Auditor]

// InitGlobal installs the process-wide Auditor backed by db and returns it.
// A nil db disables auditing: every Log helper becomes a no-op and nil is
// returned.
func InitGlobal(db *gorm.DB, retentionDays int) *Auditor {
	if db == nil {
		global.Store(nil)
		return nil
	}
	a := NewAuditor(db, retentionDays)
	global.Store(a)
	return a
}

// GetAuditor returns the installed Auditor, or nil when auditing is off.
func GetAuditor() *Auditor {
	return global.Load()
}

// SetGlobalForTest installs a directly, bypassing InitGlobal.
func SetGlobalForTest(a *Auditor) {
	global.Store(a)
}

// ResetGlobalForTest disables auditing again.
func ResetGlobalForTest() {
	global.Store(nil)
}
