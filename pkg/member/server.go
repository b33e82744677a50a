package member

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/dd0wney/cluso-rollover/pkg/backup"
	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/health"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// Server defaults
const (
	DefaultSessionTimeout = 30 * time.Second
	DefaultMaxLag         = 1000
	DefaultPullBatch      = 256
	pollInterval          = 100 * time.Millisecond
	shutdownTimeout       = 5 * time.Second
	systemMetricsInterval = 10 * time.Second
)

// ServerOptions holds the collaborators of a member server. Zero values
// select defaults.
type ServerOptions struct {
	Factory        SocketFactory
	Logger         logging.Logger
	Metrics        *metrics.Registry
	Clock          clock.Clock
	SessionTimeout time.Duration
	CallTimeout    time.Duration
	MaxLag         uint64
	PullBatch      int
}

func (o *ServerOptions) applyDefaults() {
	if o.Factory == nil {
		o.Factory = DefaultSocketFactory()
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewRegistry()
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.MaxLag == 0 {
		o.MaxLag = DefaultMaxLag
	}
	if o.PullBatch <= 0 {
		o.PullBatch = DefaultPullBatch
	}
}

// Server is one running cluster member: a graph store, the cluster and
// replication request loops, leader election, log pulling and the HTTP
// backup port.
type Server struct {
	cfg    cluster.MemberConfig
	opts   ServerOptions
	logger logging.Logger

	store      *graph.Store
	membership *cluster.Membership
	election   *cluster.ElectionManager
	peers      *peerClient
	health     *health.Checker

	clusterSock ListenSocket
	replSock    ListenSocket
	httpLn      net.Listener
	httpSrv     *http.Server
	resources   *closers

	// work is held by an open session, a log pull or a local write; bolt
	// cannot remap its file while a long read is open, so they exclude
	// each other
	work    sync.Mutex
	session *session // owned by the cluster loop

	mu         sync.Mutex
	leaderSeq  uint64
	syncedWith int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewServer opens the member's store and binds its ports. Nothing is
// served until Start.
func NewServer(cfg cluster.MemberConfig, opts ServerOptions) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid member config: %w", err)
	}
	opts.applyDefaults()
	logger := opts.Logger.With(logging.MemberID(cfg.ID))

	res := newClosers(logger)
	defer res.release()

	store, err := graph.Open(graph.Options{
		Path:         cfg.StoragePath,
		Format:       cfg.StoreFormat,
		Version:      cfg.Version,
		AllowUpgrade: cfg.AllowStoreUpgrade,
	})
	if err != nil {
		return nil, err
	}
	res.add("store", store)

	s := &Server{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		store:      store,
		syncedWith: cluster.NoLeader,
		done:       make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.clusterSock, err = s.listen(cfg.Self().ClusterAddr()); err != nil {
		return nil, err
	}
	res.add("cluster socket", s.clusterSock)

	if s.replSock, err = s.listen(cfg.Self().ReplicationAddr()); err != nil {
		return nil, err
	}
	res.add("replication socket", s.replSock)

	if s.httpLn, err = net.Listen("tcp", cfg.Self().BackupAddr()); err != nil {
		return nil, fmt.Errorf("failed to listen on backup port: %w", err)
	}
	res.addFunc("backup listener", func() error {
		if err := s.httpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	s.peers = newPeerClient(cfg.Peers, opts.Factory, opts.CallTimeout)
	res.add("peer clients", s.peers)

	s.membership = cluster.NewMembership(cfg, opts.Clock)
	s.election = cluster.NewElectionManager(cfg, s.membership, s.peers, store.Seq, logger, opts.Metrics)

	mux, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	opts.Metrics.MemberAppliedSeq.Set(float64(store.Seq()))
	opts.Metrics.SetMemberRole(cluster.RoleFollower.String())

	res.keep()
	s.resources = res
	logger.Info("member opened",
		logging.Path(cfg.StoragePath),
		logging.Version(cfg.Version),
		logging.Int("format", store.Format()),
		logging.Seq(store.Seq()))
	return s, nil
}

func (s *Server) listen(addr string) (ListenSocket, error) {
	sock, err := s.opts.Factory.NewRepSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create socket for %s: %w", addr, err)
	}
	if err := sock.SetRecvDeadline(pollInterval); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Listen(endpoint(addr)); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return sock, nil
}

func (s *Server) routes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	var tokens *backup.Tokens
	if s.cfg.BackupSecret != "" {
		var err error
		if tokens, err = backup.NewTokens(s.cfg.BackupSecret); err != nil {
			return nil, err
		}
	}
	backup.NewHandler(s.store, tokens, s.logger, s.opts.Metrics).Register(mux)

	s.health = health.NewChecker(s.cfg.ID)
	s.health.Add("store", health.ScopeAll, health.StoreCheck(func() error {
		_, err := s.store.Meta()
		return err
	}))
	s.health.Add("role", health.ScopeStatus|health.ScopeReady, health.RoleCheck(func() (string, int) {
		st := s.election.Status()
		return st.Role.String(), st.LeaderID
	}))
	s.health.Add("replication", health.ScopeStatus, health.ReplicationLagCheck(s.opts.MaxLag, func() (bool, uint64, uint64) {
		s.mu.Lock()
		leaderSeq := s.leaderSeq
		s.mu.Unlock()
		return s.election.IsLeader(), s.store.Seq(), leaderSeq
	}))
	s.health.Register(mux)

	mux.Handle("/metrics", s.opts.Metrics.Handler())
	return mux, nil
}

// Start begins serving. It is a no-op after the first call.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.spawn(func() { s.serveLoop(s.clusterSock, "cluster", s.handleCluster) })
		s.spawn(func() { s.serveLoop(s.replSock, "replication", s.handleReplication) })
		s.spawn(func() {
			if err := s.httpSrv.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("backup port failed", logging.Error(err))
			}
		})
		s.spawn(func() { _ = s.election.Run(s.ctx) })
		s.spawn(s.pullLoop)
		s.spawn(s.systemMetricsLoop)
		s.logger.Info("member started",
			logging.Addr(s.cfg.Self().ClusterAddr()),
			logging.Int("peers", len(s.cfg.Peers)))
	})
}

func (s *Server) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close stops every loop and releases the store. It is safe to call more
// than once and from any goroutine.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("member stopping")
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("backup port shutdown", logging.Error(err))
		}

		s.wg.Wait()
		s.closeErr = s.resources.closeAll()
		close(s.done)
		s.logger.Info("member stopped")
	})
	return s.closeErr
}

// Done is closed once Close has finished
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Config returns the member's configuration
func (s *Server) Config() cluster.MemberConfig {
	return s.cfg
}

// Store returns the member's local store
func (s *Server) Store() *graph.Store {
	return s.store
}

// Status reports the member's role, sequence and join state
func (s *Server) Status() Status {
	ps := s.election.Status()

	s.mu.Lock()
	leaderSeq, synced := s.leaderSeq, s.syncedWith
	s.mu.Unlock()

	joined := ps.Role == cluster.RoleLeader ||
		(ps.Role == cluster.RoleFollower && ps.LeaderID != cluster.NoLeader && synced == ps.LeaderID)
	if ps.Role == cluster.RoleLeader {
		leaderSeq = ps.Seq
	}
	return Status{
		ID:        s.cfg.ID,
		Role:      ps.Role.String(),
		LeaderID:  ps.LeaderID,
		Term:      ps.Term,
		Seq:       ps.Seq,
		LeaderSeq: leaderSeq,
		Joined:    joined,
		Version:   s.cfg.Version,
		Format:    s.store.Format(),
	}
}

// serveLoop answers requests on one REP socket until the server stops
func (s *Server) serveLoop(sock ListenSocket, name string, handle func(context.Context, Request) (any, error)) {
	logger := s.logger.With(logging.Component(name))
	for {
		if s.ctx.Err() != nil {
			if name == "cluster" {
				s.endSession("member stopping")
			}
			return
		}
		if name == "cluster" {
			s.expireSession()
		}

		msg, err := sock.Recv()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if s.ctx.Err() == nil {
				logger.Warn("receive failed", logging.Error(err))
			}
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(msg, &req); err != nil {
			resp = reply(nil, fmt.Errorf("%w: %v", ErrBadRequest, err))
		} else {
			data, err := handle(s.ctx, req)
			s.opts.Metrics.RecordRequest(req.Op, err)
			if err != nil {
				logger.Debug("request failed", logging.String("op", req.Op), logging.Error(err))
			}
			resp = reply(data, err)
		}

		raw, err := json.Marshal(resp)
		if err != nil {
			logger.Error("failed to encode reply", logging.Error(err))
			continue
		}
		if err := sock.Send(raw); err != nil {
			logger.Warn("send failed", logging.String("op", req.Op), logging.Error(err))
		}

		if req.Op == OpShutdown && resp.OK {
			go s.Close()
		}
	}
}

func (s *Server) systemMetricsLoop() {
	s.opts.Metrics.SetStoreInfo(s.cfg.Version, s.store.Format())
	for {
		if st, err := s.store.Stats(); err == nil {
			s.opts.Metrics.UpdateSystemMetrics(st.Nodes, st.Edges)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.opts.Clock.After(systemMetricsInterval):
		}
	}
}
