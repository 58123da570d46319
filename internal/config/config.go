package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3000"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Audit trail. An empty DatabasePath disables auditing.
	DatabasePath       string `envconfig:"DATABASE_PATH" default:""`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@daily"`

	// Remote shell settings
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"15s"`
	KeepaliveCountMax int           `envconfig:"KEEPALIVE_COUNT_MAX" default:"3"`
	KnownHostsPath    string        `envconfig:"KNOWN_HOSTS_PATH" default:""`

	// WebSocket transport settings
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:""`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"1048576"`
	MessageRate     float64       `envconfig:"MESSAGE_RATE" default:"200"`
	MessageBurst    int           `envconfig:"MESSAGE_BURST" default:"400"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"25s"`
	PingTimeout     time.Duration `envconfig:"PING_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLRELAY", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
