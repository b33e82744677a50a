package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dd0wney/cluso-rollover/pkg/config"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

func main() {
	var (
		clusterFile = flag.String("cluster", "cluster.yaml", "Cluster configuration file")
		dryRun      = flag.Bool("dry-run", false, "Show the migration plan without executing")
		leaderID    = flag.Int("leader", rollover.NoMember, "Leader to plan around in a dry run (default: highest member id)")
		attach      = flag.Bool("attach", false, "Migrate members that are already running instead of launching them")
		keep        = flag.Bool("keep", false, "Leave the migrated cluster running on exit")
		useTUI      = flag.Bool("tui", false, "Show live progress in a terminal UI")
		metricsAddr = flag.String("metrics", "", "Serve prometheus metrics on this address during the run")
	)
	flag.Parse()

	file, err := config.Load(*clusterFile)
	if err != nil {
		log.Fatalf("Failed to load cluster config: %v", err)
	}

	if *dryRun {
		plan, err := dryRunPlan(file, *leaderID)
		if err != nil {
			log.Fatalf("Failed to build plan: %v", err)
		}
		fmt.Println(renderPlan(plan))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		attach:      *attach,
		keep:        *keep,
		metricsAddr: *metricsAddr,
	}

	var result *runResult
	if *useTUI {
		result, err = runWithTUI(ctx, file, opts)
	} else {
		opts.logger = logging.NewJSONLogger(os.Stderr, file.Level())
		result, err = execute(ctx, file, opts, nil)
	}
	if result != nil {
		fmt.Println(renderReport(result))
	}
	if err != nil {
		var rerr *rollover.Error
		if errors.As(err, &rerr) {
			os.Exit(2)
		}
		log.Fatalf("Migration failed: %v", err)
	}
}

// dryRunPlan builds the plan the coordinator would follow if leaderID led
func dryRunPlan(file *config.File, leaderID int) (*rollover.Plan, error) {
	from, to, err := file.Versions()
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(file.Members))
	for i, m := range file.Members {
		ids[i] = m.ID
	}
	if leaderID == rollover.NoMember {
		leaderID = slices.Max(ids)
	}
	plan, err := rollover.BuildPlan(ids, leaderID)
	if err != nil {
		return nil, err
	}
	plan.From = from
	plan.To = to
	return plan, nil
}
