package rollover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

var (
	legacy  = MustParseVersion("2.0.1", 1)
	upgrade = MustParseVersion("2.1.0", 2)

	errMemberDown = errors.New("member down")
	errNotLeader  = errors.New("not leader")
)

// fakeCluster simulates members with local stores. The leader is the
// member with the highest applied sequence when the previous one stops.
type fakeCluster struct {
	t   *testing.T
	dir string

	mu         sync.Mutex
	handles    map[int]*fakeHandle
	leader     int
	preferred  int
	down       map[int]bool
	maxDown    int
	log        []string
	consistent bool

	noLeader  bool           // nobody ever reports leadership
	blind     map[int]bool   // PullUpdates does nothing
	blindNew  map[int]bool   // PullUpdates does nothing once on the target version
	hangJoin  map[int]bool   // AwaitJoined blocks on the target version
	transfers map[string]int // backup addr to member id
}

func newFakeCluster(t *testing.T, preferredLeader int) *fakeCluster {
	t.Helper()
	return &fakeCluster{
		t:          t,
		dir:        t.TempDir(),
		handles:    make(map[int]*fakeHandle),
		leader:     NoMember,
		preferred:  preferredLeader,
		down:       make(map[int]bool),
		consistent: true,
		blind:      make(map[int]bool),
		blindNew:   make(map[int]bool),
		hangJoin:   make(map[int]bool),
		transfers:  make(map[string]int),
	}
}

// members returns n member records with storage under the cluster dir
func (c *fakeCluster) members(n int) []*Member {
	out := make([]*Member, n)
	for i := range out {
		cfg := cluster.DefaultMemberConfig(i, "127.0.0.1")
		out[i] = &Member{
			ID:              i,
			Host:            cfg.Host,
			ClusterPort:     cfg.ClusterPort,
			ReplicationPort: cfg.ReplicationPort,
			BackupPort:      cfg.BackupPort,
			Version:         legacy,
			StoragePath:     filepath.Join(c.dir, fmt.Sprintf("member-%d", i)),
		}
	}
	return out
}

func (c *fakeCluster) record(format string, args ...any) {
	c.log = append(c.log, fmt.Sprintf(format, args...))
}

// events returns the recorded lifecycle events
func (c *fakeCluster) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func (c *fakeCluster) has(event string) bool {
	for _, e := range c.events() {
		if e == event {
			return true
		}
	}
	return false
}

func (c *fakeCluster) Start(ctx context.Context, v Version, cfg cluster.MemberConfig) (MemberHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store, err := graph.Open(graph.Options{
		Path:         cfg.StoragePath,
		Format:       v.StoreFormat,
		Version:      v.String(),
		AllowUpgrade: cfg.AllowStoreUpgrade,
		Timeout:      time.Second,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	h := &fakeHandle{c: c, id: cfg.ID, version: v, store: store, addr: cfg.Self().BackupAddr()}
	c.handles[cfg.ID] = h
	c.transfers[h.addr] = cfg.ID
	delete(c.down, cfg.ID)
	if c.leader == NoMember && (c.preferred == NoMember || c.preferred == cfg.ID) {
		c.leader = cfg.ID
	}
	c.record("start %d %s %s", cfg.ID, v, filepath.Base(cfg.StoragePath))
	return h, nil
}

// elect picks the most up to date live member, lowest id first
func (c *fakeCluster) elect() {
	c.leader = NoMember
	ids := make([]int, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var best uint64
	for _, id := range ids {
		if seq := c.handles[id].store.Seq(); c.leader == NoMember || seq > best {
			c.leader, best = id, seq
		}
	}
}

func (c *fakeCluster) live(id int) (*fakeHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	if !ok {
		return nil, fmt.Errorf("member %d: %w", id, errMemberDown)
	}
	return h, nil
}

func (c *fakeCluster) leaderHandle() (*fakeHandle, error) {
	c.mu.Lock()
	id := c.leader
	c.mu.Unlock()
	if id == NoMember {
		return nil, errNotLeader
	}
	return c.live(id)
}

// Transfer copies the snapshot of the member serving sourceAddr
func (c *fakeCluster) Transfer(_ context.Context, sourceAddr, destDir string) (bool, error) {
	c.mu.Lock()
	id, ok := c.transfers[sourceAddr]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no member at %s", sourceAddr)
	}
	src, err := c.live(id)
	if err != nil {
		return false, err
	}
	f, err := os.Create(graph.StoreFile(destDir))
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := src.store.WriteSnapshot(f); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("transfer %d %s", id, filepath.Base(destDir))
	return c.consistent, nil
}

type fakeHandle struct {
	c       *fakeCluster
	id      int
	version Version
	store   *graph.Store
	addr    string

	stopped bool
}

func (h *fakeHandle) Name() string       { return fmt.Sprintf("member-%d", h.id) }
func (h *fakeHandle) BackupAddr() string { return h.addr }

func (h *fakeHandle) Stop(context.Context) error {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	if err := h.store.Close(); err != nil {
		return err
	}
	if c.handles[h.id] == h {
		delete(c.handles, h.id)
	}
	c.down[h.id] = true
	c.maxDown = max(c.maxDown, len(c.down))
	if c.leader == h.id {
		c.elect()
	}
	c.record("stop %d", h.id)
	return nil
}

func (h *fakeHandle) AwaitJoined(ctx context.Context) error {
	h.c.mu.Lock()
	hang := h.c.hangJoin[h.id] && h.version == upgrade
	h.c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (h *fakeHandle) IsLeader(context.Context) (bool, error) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.stopped {
		return false, errMemberDown
	}
	return !c.noLeader && c.leader == h.id, nil
}

// PullUpdates replays the leader's log onto this member
func (h *fakeHandle) PullUpdates(context.Context) error {
	c := h.c
	c.mu.Lock()
	skip := c.blind[h.id] || (c.blindNew[h.id] && h.version == upgrade)
	c.mu.Unlock()
	if skip {
		return nil
	}
	leader, err := c.leaderHandle()
	if err != nil {
		return err
	}
	if leader == h {
		return nil
	}
	entries, err := leader.store.Entries(h.store.Seq(), 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := h.store.Apply(e); err != nil {
			return err
		}
	}
	return nil
}

func (h *fakeHandle) CreateNode(ctx context.Context, props map[string]string) (uint64, error) {
	leader, err := h.c.leaderHandle()
	if err != nil {
		return 0, err
	}
	var id uint64
	err = leader.store.Update(func(tx graph.Tx) error {
		var err error
		id, err = tx.CreateNode(props)
		return err
	})
	return id, err
}

func (h *fakeHandle) Update(_ context.Context, fn func(graph.Tx) error) error {
	leader, err := h.c.leaderHandle()
	if err != nil {
		return err
	}
	if leader != h {
		return errNotLeader
	}
	return h.store.Update(fn)
}

func (h *fakeHandle) View(_ context.Context, fn func(graph.Tx) error) error {
	return h.store.View(fn)
}

// closeAll stops every live handle at the end of a test
func (c *fakeCluster) closeAll() {
	c.mu.Lock()
	handles := make([]*fakeHandle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		_ = h.Stop(context.Background())
	}
}

// since returns the events recorded after the first occurrence of marker
func since(events []string, marker string) []string {
	for i, e := range events {
		if strings.HasPrefix(e, marker) {
			return events[i:]
		}
	}
	return nil
}

// validatorFunc adapts a function to Validator
type validatorFunc func(ctx context.Context, storagePath string) error

func (f validatorFunc) Check(ctx context.Context, storagePath string) error {
	return f(ctx, storagePath)
}
