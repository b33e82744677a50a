package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-rollover/pkg/backup"
	"github.com/dd0wney/cluso-rollover/pkg/config"
	"github.com/dd0wney/cluso-rollover/pkg/consistency"
	"github.com/dd0wney/cluso-rollover/pkg/journal"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/member"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

type runOptions struct {
	attach      bool
	keep        bool
	metricsAddr string
	logger      logging.Logger
	memberOut   io.Writer // member process stdout and stderr
}

// runResult is what the report shows
type runResult struct {
	RunID   string
	From    rollover.Version
	To      rollover.Version
	Members []*rollover.Member
	Events  []rollover.Event
	Elapsed time.Duration
	Err     error
}

// eventLog keeps every event of the run for the report
type eventLog struct {
	mu     sync.Mutex
	events []rollover.Event
}

func (l *eventLog) Observe(e rollover.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []rollover.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]rollover.Event(nil), l.events...)
}

// execute launches or attaches to the cluster in file and migrates it.
// observer, when set, sees every event as it happens.
func execute(ctx context.Context, file *config.File, opts runOptions, observer rollover.Observer) (*runResult, error) {
	logger := opts.logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	from, to, err := file.Versions()
	if err != nil {
		return nil, err
	}
	cfg, err := file.Rollover()
	if err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger = logger.With(logging.RunID(cfg.RunID))

	reg := metrics.NewRegistry()
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Error(err))
			}
		}()
		defer srv.Close()
	}

	rec, err := journal.Open(ctx, file.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Error("journal close failed", logging.Error(err))
		}
	}()

	checker := consistency.NewChecker(logger)
	clientCfg := backup.ClientConfig{
		Secret:    file.BackupSecret,
		Validator: checker,
		Logger:    logger,
		Metrics:   reg,
	}
	if file.Archive.Enabled() {
		archiver, err := backup.NewS3Archiver(ctx, file.Archive, cfg.RunID, logger, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up archive: %w", err)
		}
		clientCfg.Archiver = archiver
	}
	client, err := backup.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}

	members, err := file.ClusterMembers()
	if err != nil {
		return nil, err
	}
	out := opts.memberOut
	if out == nil {
		out = os.Stderr
	}
	factory := member.DefaultSocketFactory()
	launcher := &member.ProcessLauncher{Factory: factory, Logger: logger, Stdout: out, Stderr: out}

	if opts.attach {
		for _, m := range members {
			m.Handle = member.Attach(m.Peer(), factory, logger)
		}
	} else {
		logger.Info("launching cluster", logging.Version(from.String()), logging.Int("members", len(members)))
		if err := rollover.StartCluster(ctx, launcher, members, cfg.Member, cfg.JoinTimeout); err != nil {
			return nil, fmt.Errorf("failed to launch cluster: %w", err)
		}
	}

	events := &eventLog{}
	fanout := rollover.ObserverFunc(func(e rollover.Event) {
		events.Observe(e)
		rec.Observe(e)
		if observer != nil {
			observer.Observe(e)
		}
	})

	coordinator := rollover.NewCoordinator(cfg, rollover.Dependencies{
		Launcher:  launcher,
		Transfer:  client,
		Validator: checker,
		Logger:    logger,
		Metrics:   reg,
		Observer:  fanout,
	})

	start := time.Now()
	final, runErr := coordinator.Run(ctx, members)
	result := &runResult{
		RunID:   cfg.RunID,
		From:    from,
		To:      to,
		Members: final,
		Events:  events.all(),
		Elapsed: time.Since(start),
		Err:     runErr,
	}

	if !opts.keep && !opts.attach {
		if err := rollover.StopAll(context.WithoutCancel(ctx), final, cfg.StopTimeout); err != nil {
			logger.Warn("failed to stop members", logging.Error(err))
		}
	}
	return result, runErr
}
