package sshaudit

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// SchedulePurge runs PurgeOlderThan on the retention window according to a
// cron schedule ("@daily", "0 3 * * *", ...). The caller stops the returned
// scheduler on shutdown.
func (a *Auditor) SchedulePurge(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.PurgeOlderThan(0); err != nil {
			log.Printf("[ssh-audit] scheduled purge: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("parse purge schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[ssh-audit] purge scheduled %q, retention %d days", schedule, a.retentionDays)
	return c, nil
}
