package database

import "time"

// SessionAuditLog is one relay audit event. Only the target and the
// outcome are stored, never authentication material.
type SessionAuditLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType    string    `gorm:"not null;index" json:"event_type"`
	ConnectionID string    `gorm:"index;size:64" json:"connection_id"`
	SessionID    string    `gorm:"index;size:128" json:"session_id"`
	Host         string    `gorm:"index" json:"host"`
	Port         int       `json:"port"`
	Username     string    `json:"username"`
	SourceIP     string    `json:"source_ip"`
	Details      string    `gorm:"type:text" json:"details"`
	Duration     int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
