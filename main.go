package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/config"
	"github.com/gluk-w/claworc/shellrelay/internal/database"
	"github.com/gluk-w/claworc/shellrelay/internal/handlers"
	"github.com/gluk-w/claworc/shellrelay/internal/logging"
	"github.com/gluk-w/claworc/shellrelay/internal/relay"
	"github.com/gluk-w/claworc/shellrelay/internal/shell"
	"github.com/gluk-w/claworc/shellrelay/internal/sshaudit"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--purge-audit" {
		runPurgeCommand()
		return
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if config.Cfg.DatabasePath != "" {
		if err := database.Init(config.Cfg.DatabasePath); err != nil {
			log.Fatalf("Database init: %v", err)
		}
		defer database.Close()

		auditor := sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
		sched, err := auditor.SchedulePurge(config.Cfg.AuditPurgeSchedule)
		if err != nil {
			log.Fatalf("Audit purge schedule: %v", err)
		}
		defer sched.Stop()
	} else {
		log.Printf("Audit trail disabled (SHELLRELAY_DATABASE_PATH not set)")
	}

	hostKeys, err := shell.HostKeyCallback(config.Cfg.KnownHostsPath)
	if err != nil {
		log.Fatalf("Host key verification: %v", err)
	}
	if config.Cfg.KnownHostsPath == "" {
		log.Printf("WARNING: remote host keys are not verified (SHELLRELAY_KNOWN_HOSTS_PATH not set)")
	}

	relaySrv := relay.NewServer(relay.Options{
		Shell: shell.Options{
			ConnectTimeout:    config.Cfg.ConnectTimeout,
			KeepaliveInterval: config.Cfg.KeepaliveInterval,
			KeepaliveCountMax: config.Cfg.KeepaliveCountMax,
			HostKeyCallback:   hostKeys,
		},
		AllowedOrigins:  nonEmpty(config.Cfg.AllowedOrigins),
		MaxMessageBytes: config.Cfg.MaxMessageBytes,
		MessageRate:     config.Cfg.MessageRate,
		MessageBurst:    config.Cfg.MessageBurst,
		PingInterval:    config.Cfg.PingInterval,
		PingTimeout:     config.Cfg.PingTimeout,
		WriteTimeout:    config.Cfg.WriteTimeout,
	})
	handlers.Relay = relaySrv

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: handlers.NewRouter(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := relaySrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Relay shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func nonEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func runPurgeCommand() {
	fs := flag.NewFlagSet("purge-audit", flag.ExitOnError)
	days := fs.Int("days", 0, "Delete entries older than this many days (0 = configured retention)")
	fs.Parse(os.Args[2:])

	config.Load()
	if config.Cfg.DatabasePath == "" {
		fmt.Fprintln(os.Stderr, "SHELLRELAY_DATABASE_PATH is not set")
		os.Exit(1)
	}
	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	auditor := sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
	deleted, err := auditor.PurgeOlderThan(*days)
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}
	fmt.Printf("Purged %d audit entries.\n", deleted)
}
