package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/member"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

func main() {
	cfg := cluster.DefaultMemberConfig(0, "127.0.0.1")
	cfg.StoragePath = "./data/member-0"

	fs := flag.NewFlagSet("graphdb-member", flag.ExitOnError)
	member.BindFlags(fs, &cfg)
	logLevel := fs.String("log-level", "info", "Log level (LOG_LEVEL overrides)")
	fs.Parse(os.Args[1:])

	if cfg.BackupSecret == "" {
		cfg.BackupSecret = os.Getenv(member.BackupSecretEnv)
	}

	logger := logging.New(os.Stderr, *logLevel)

	srv, err := member.NewServer(cfg, member.ServerOptions{
		Logger:  logger,
		Metrics: metrics.DefaultRegistry(),
	})
	if err != nil {
		log.Fatalf("Failed to start member: %v", err)
	}
	srv.Start()

	self := cfg.Self()
	fmt.Printf("GraphDB member %d (%s)\n", cfg.ID, cfg.Version)
	fmt.Printf("  Cluster:     %s\n", self.ClusterAddr())
	fmt.Printf("  Replication: %s\n", self.ReplicationAddr())
	fmt.Printf("  Backup:      http://%s\n", self.BackupAddr())
	fmt.Printf("  Data:        %s\n", cfg.StoragePath)
	fmt.Printf("  Peers:       %d\n\n", len(cfg.Peers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	case <-srv.Done():
		logger.Info("stopped by remote shutdown")
	}

	if err := srv.Close(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
}
