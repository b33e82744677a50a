package rollover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
)

// StartCluster launches every member on its version concurrently and waits
// for all of them to join. template supplies timing and auth settings.
// When any member fails, the ones already started are stopped again.
func StartCluster(ctx context.Context, l Launcher, members []*Member, template cluster.MemberConfig, joinTimeout time.Duration) error {
	set, err := NewClusterSet(members)
	if err != nil {
		return err
	}
	cfg := Config{Member: template}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range set.Members() {
		g.Go(func() error {
			h, err := l.Start(gctx, m.Version, cfg.memberConfig(set, m, m.StoragePath))
			if err != nil {
				return fmt.Errorf("start member %d: %w", m.ID, err)
			}
			m.Handle = h
			m.State = StateRunningOld
			return nil
		})
	}
	err = g.Wait()

	if err == nil {
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		defer cancel()
		jg, jctx := errgroup.WithContext(joinCtx)
		for _, m := range set.Members() {
			jg.Go(func() error {
				if err := m.Handle.AwaitJoined(jctx); err != nil {
					return fmt.Errorf("member %d did not join: %w", m.ID, err)
				}
				return nil
			})
		}
		err = jg.Wait()
	}

	if err != nil {
		return errors.Join(err, StopAll(context.WithoutCancel(ctx), members, joinTimeout))
	}
	return nil
}

// StopAll stops every member with a handle and forgets the handles
func StopAll(ctx context.Context, members []*Member, timeout time.Duration) error {
	var errs []error
	for _, m := range members {
		if m.Handle == nil {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := m.Handle.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop member %d: %w", m.ID, err))
		}
		cancel()
		m.Handle = nil
		m.State = StateStopped
	}
	return errors.Join(errs...)
}
