package rollover

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/probe"
)

// replace stops one member, waits out the stabilization window, prepares
// its storage by the entry's strategy and starts it on the target version
func (r *run) replace(ctx context.Context, step int, entry PlanEntry) (err error) {
	m, ok := r.set.Get(entry.MemberID)
	if !ok {
		return newError(KindStepFailure, entry.MemberID, "replace", fmt.Errorf("%w: %d", ErrUnknownMember, entry.MemberID))
	}

	logger := r.logger.With(logging.MemberID(m.ID), logging.Strategy(string(entry.Strategy)))
	timer := logging.StartStep(logger, fmt.Sprintf("replace %d/%d", step, len(r.plan.Entries)))
	start := r.clock.Now()
	defer func() {
		r.metrics.RecordStep(string(entry.Strategy), r.elapsed(start), err)
		if err != nil {
			timer.Fail(err)
		} else {
			timer.Done(logging.Version(r.cfg.Target.String()))
		}
	}()

	if err := r.stop(ctx, m, "stop"); err != nil {
		return err
	}
	r.emit(Event{Step: step, MemberID: m.ID, Strategy: entry.Strategy, Phase: PhaseStop})

	r.emit(Event{Step: step, MemberID: m.ID, Strategy: entry.Strategy, Phase: PhaseCooldown,
		Detail: r.cfg.StabilizationWindow.String()})
	if err := r.cooldown(ctx); err != nil {
		return newError(KindStepFailure, m.ID, "cooldown", err)
	}

	storagePath, err := r.prepareStorage(ctx, step, m, entry)
	if err != nil {
		return err
	}

	if err := r.start(ctx, m, storagePath, "start"); err != nil {
		return err
	}
	r.emit(Event{Step: step, MemberID: m.ID, Strategy: entry.Strategy, Phase: PhaseJoined, Detail: storagePath})
	return nil
}

// prepareStorage readies the storage m will start from and returns its path
func (r *run) prepareStorage(ctx context.Context, step int, m *Member, entry PlanEntry) (string, error) {
	switch entry.Strategy {
	case StrategyBootstrapEmpty:
		path := m.StoragePath + r.cfg.FreshStorageSuffix
		if err := graph.RemoveStore(path); err != nil {
			return "", newError(KindStepFailure, m.ID, "storage", err)
		}
		return path, nil

	case StrategyCopyFromPeer:
		src, ok := r.set.Get(entry.SourceID)
		if !ok || src.State != StateRunningNew {
			return "", &Error{Kind: KindTransferFailure, MemberID: m.ID, Step: "transfer",
				Expected: fmt.Sprintf("member %d on %s", entry.SourceID, r.cfg.Target),
				Actual:   sourceState(src), Err: ErrInvalidMember}
		}
		if err := graph.RemoveStore(m.StoragePath); err != nil {
			return "", newError(KindStepFailure, m.ID, "storage", err)
		}

		r.emit(Event{Step: step, MemberID: m.ID, Strategy: entry.Strategy, Phase: PhaseTransfer,
			Detail: fmt.Sprintf("from member %d", src.ID)})
		consistent, err := r.deps.Transfer.Transfer(ctx, src.BackupAddr(), m.StoragePath)
		if err != nil {
			return "", newError(KindTransferFailure, m.ID, "transfer", err)
		}
		if !consistent {
			return "", &Error{Kind: KindTransferFailure, MemberID: m.ID, Step: "transfer",
				Expected: "consistent copy", Actual: "inconsistent copy", Err: ErrInconsistentCopy}
		}
		return m.StoragePath, nil

	case StrategyWipeAndRejoin:
		if err := graph.RemoveStore(m.StoragePath); err != nil {
			return "", newError(KindStepFailure, m.ID, "storage", err)
		}
		return m.StoragePath, nil

	default:
		return "", newError(KindStepFailure, m.ID, "storage", fmt.Errorf("unknown strategy %q", entry.Strategy))
	}
}

func sourceState(src *Member) string {
	if src == nil {
		return "no such member"
	}
	return string(src.State)
}

// memberTarget exposes a member's handle to the probe
type memberTarget struct {
	m *Member
}

func target(m *Member) probe.Target {
	return memberTarget{m: m}
}

func (t memberTarget) Name() string {
	return fmt.Sprintf("member-%d", t.m.ID)
}

func (t memberTarget) Update(ctx context.Context, fn func(graph.Tx) error) error {
	return t.m.Handle.Update(ctx, fn)
}

func (t memberTarget) View(ctx context.Context, fn func(graph.Tx) error) error {
	return t.m.Handle.View(ctx, fn)
}

func (t memberTarget) PullUpdates(ctx context.Context) error {
	return t.m.Handle.PullUpdates(ctx)
}
