// Package journal records the events of migration runs so an operator can
// reconstruct what a run did after it finished.
package journal

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

// Config selects the journal sinks
type Config struct {
	Path        string `yaml:"path"`         // JSON lines file; empty disables
	PostgresURL string `yaml:"postgres_url"` // rollover_events table; empty disables
}

// Enabled reports whether any sink is configured
func (c Config) Enabled() bool {
	return c.Path != "" || c.PostgresURL != ""
}

// Recorder is a run event sink
type Recorder interface {
	rollover.Observer
	Close() error
}

// Multi fans events out to several recorders
type Multi []Recorder

// Observe passes e to every recorder
func (m Multi) Observe(e rollover.Event) {
	for _, r := range m {
		r.Observe(e)
	}
}

// Close closes every recorder
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// Open builds the recorders named by cfg. With nothing configured the
// result records nothing.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (Recorder, error) {
	var m Multi
	if cfg.Path != "" {
		f, err := OpenFile(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		m = append(m, f)
	}
	if cfg.PostgresURL != "" {
		pg, err := NewPGRecorder(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, errors.Join(err, m.Close())
		}
		m = append(m, pg)
	}
	return m, nil
}
