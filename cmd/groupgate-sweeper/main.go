// groupgate-sweeper repairs propagated read groups across the content
// tree. Cascades are best-effort at write time, so a periodic sweep
// restores any child item that drifted from its parent's groups.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/groupgate/groupgate/pkg/access"
	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
)

var (
	dbURL    = flag.String("db-url", getEnv("GROUPGATE_POSTGRES_URL", "postgres://localhost/groupgate?sslmode=disable"), "PostgreSQL connection URL")
	schedule = flag.String("schedule", "*/15 * * * *", "Cron schedule for reconciliation sweeps (default: every 15 minutes)")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	settings := config.NewSettings(config.DefaultAccessConfig())
	itemStore := content.NewStore(db)
	// No dispatcher: sweep writes must not trigger another cascade.
	linker := content.NewLinker(db, nil)
	propagator := access.NewPropagator(itemStore, linker, settings, nil, nil)

	if *runOnce {
		if err := sweep(propagator); err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := sweep(propagator); err != nil {
			log.WithError(err).Error("Sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("Sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	ctx := c.Stop()
	<-ctx.Done()
	log.Info("Sweeper stopped")
}

func sweep(propagator *access.Propagator) error {
	log.Info("Starting reconciliation sweep")

	repaired, err := propagator.Reconcile(context.Background())
	if err != nil {
		return err
	}

	log.WithField("repaired", repaired).Info("Reconciliation sweep complete")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
