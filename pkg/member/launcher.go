package member

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

// ErrNoBinary is returned when a version has no member executable
var ErrNoBinary = errors.New("version has no member binary")

// DefaultGracePeriod is how long a process gets between SIGTERM and SIGKILL
const DefaultGracePeriod = 10 * time.Second

// InProcessLauncher runs members as servers inside the current process
type InProcessLauncher struct {
	Factory SocketFactory
	Logger  logging.Logger
	Clock   clock.Clock

	// SessionTimeout and CallTimeout are passed to each server
	SessionTimeout time.Duration
	CallTimeout    time.Duration

	mu      sync.Mutex
	servers map[int]*Server
}

var _ rollover.Launcher = (*InProcessLauncher)(nil)

// Start opens and starts a member server running version v
func (l *InProcessLauncher) Start(ctx context.Context, v rollover.Version, cfg cluster.MemberConfig) (rollover.MemberHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg.Version = v.String()
	cfg.StoreFormat = v.StoreFormat

	srv, err := NewServer(cfg, ServerOptions{
		Factory:        l.Factory,
		Logger:         l.Logger,
		Metrics:        metrics.NewRegistry(),
		Clock:          l.Clock,
		SessionTimeout: l.SessionTimeout,
		CallTimeout:    l.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	srv.Start()

	l.mu.Lock()
	if l.servers == nil {
		l.servers = make(map[int]*Server)
	}
	l.servers[cfg.ID] = srv
	l.mu.Unlock()

	return newHandle(cfg.Self(), l.Factory, l.Logger, func(ctx context.Context) error {
		go srv.Close()
		select {
		case <-srv.Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("member %d did not stop: %w", cfg.ID, ctx.Err())
		}
	}), nil
}

// Server returns the most recent server started for id
func (l *InProcessLauncher) Server(id int) (*Server, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	srv, ok := l.servers[id]
	return srv, ok
}

// CloseAll stops every server this launcher started
func (l *InProcessLauncher) CloseAll() {
	l.mu.Lock()
	servers := make([]*Server, 0, len(l.servers))
	for _, srv := range l.servers {
		servers = append(servers, srv)
	}
	l.mu.Unlock()
	for _, srv := range servers {
		_ = srv.Close()
	}
}

// ProcessLauncher runs each member as a child process of the version's
// member binary
type ProcessLauncher struct {
	Factory     SocketFactory
	Logger      logging.Logger
	Stdout      io.Writer
	Stderr      io.Writer
	GracePeriod time.Duration
}

var _ rollover.Launcher = (*ProcessLauncher)(nil)

// Start executes v.Binary with flags derived from cfg. The process is not
// tied to ctx; it runs until the returned handle stops it.
func (l *ProcessLauncher) Start(ctx context.Context, v rollover.Version, cfg cluster.MemberConfig) (rollover.MemberHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.Binary == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBinary, v)
	}
	cfg.Version = v.String()
	cfg.StoreFormat = v.StoreFormat

	logger := l.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.MemberID(cfg.ID), logging.Version(cfg.Version))

	cmd := exec.Command(v.Binary, Args(cfg)...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	cmd.Env = os.Environ()
	if cfg.BackupSecret != "" {
		cmd.Env = append(cmd.Env, BackupSecretEnv+"="+cfg.BackupSecret)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", v.Binary, err)
	}
	logger.Info("member process started", logging.Int("pid", cmd.Process.Pid), logging.Path(v.Binary))

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		logger.Info("member process exited", logging.Error(err))
		close(exited)
	}()

	grace := l.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return newHandle(cfg.Self(), l.Factory, l.Logger, func(ctx context.Context) error {
		return terminate(ctx, cmd.Process, exited, grace, logger)
	}), nil
}

// terminate sends SIGTERM and kills the process when it outlives the grace
// period or ctx
func terminate(ctx context.Context, proc *os.Process, exited <-chan struct{}, grace time.Duration, logger logging.Logger) error {
	select {
	case <-exited:
		return nil
	default:
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal member process: %w", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	logger.Warn("member process ignored SIGTERM, killing", logging.Int("pid", proc.Pid))
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill member process: %w", err)
	}
	<-exited
	return nil
}
