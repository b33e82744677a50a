package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/consistency"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

func main() {
	verbose := flag.Bool("v", false, "Log every check")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: graphdb-check [-v] <storage-dir>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	checker := consistency.NewChecker(logging.New(os.Stderr, level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for _, dir := range flag.Args() {
		report, err := checker.Inspect(ctx, dir)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", dir, err)
			failed++
			continue
		}
		if !report.OK() {
			fmt.Printf("❌ %s: %d problem(s)\n", dir, len(report.Problems))
			for _, p := range report.Problems {
				fmt.Printf("   %-12s %s\n", p.Check, p.Detail)
			}
			if report.Truncated {
				fmt.Printf("   ...\n")
			}
			failed++
			continue
		}
		fmt.Printf("✅ %s: format %d, seq %d, %d nodes, %d edges (%s)\n",
			dir, report.Format, report.Seq, report.Nodes, report.Edges, report.Duration.Round(time.Millisecond))
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d stores inconsistent\n", failed, flag.NArg())
		os.Exit(1)
	}
}
