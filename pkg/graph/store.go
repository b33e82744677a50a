package graph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Options configures how a store is opened
type Options struct {
	// Path is the storage directory; the store file lives at Path/graph.db
	Path string

	// Format is the format written for new stores and the upgrade target
	// for old ones. Zero means CurrentFormat.
	Format int

	// Version is the software version recorded in the store header
	Version string

	// AllowUpgrade permits an in-place format upgrade on open
	AllowUpgrade bool

	// ReadOnly opens the store without taking the write lock. No layout
	// checks or upgrades are performed.
	ReadOnly bool

	// Timeout bounds the wait for the file lock
	Timeout time.Duration
}

// Store is a bolt-backed graph with a replication log
type Store struct {
	db       *bolt.DB
	path     string
	format   int
	readOnly bool

	mu     sync.RWMutex
	closed bool
}

// StoreFile returns the store file path for a storage directory
func StoreFile(dir string) string {
	return filepath.Join(dir, FileName)
}

// Open opens or creates the store in opts.Path
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, ErrPathRequired
	}
	target := opts.Format
	if target == 0 {
		target = CurrentFormat
	}
	if target < MinFormat || target > CurrentFormat {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, target)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", opts.Path, err)
		}
	}

	db, err := bolt.Open(StoreFile(opts.Path), 0600, &bolt.Options{
		Timeout:  timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", opts.Path, err)
	}

	s := &Store{db: db, path: opts.Path, readOnly: opts.ReadOnly}

	if opts.ReadOnly {
		err = db.View(func(tx *bolt.Tx) error {
			meta, err := readMeta(tx)
			if err != nil {
				return err
			}
			s.format = meta.Format
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMeta) == nil {
			s.format = target
			return initialize(tx, target, opts.Version)
		}
		meta, err := readMeta(tx)
		if err != nil {
			return err
		}
		switch {
		case meta.Format > target:
			return fmt.Errorf("%w: store format %d, software format %d", ErrStoreTooNew, meta.Format, target)
		case meta.Format < MinFormat:
			return fmt.Errorf("%w: %d", ErrUnknownFormat, meta.Format)
		case meta.Format < target:
			if !opts.AllowUpgrade {
				return fmt.Errorf("%w: store format %d, software format %d", ErrUpgradeNotAllowed, meta.Format, target)
			}
			if err := upgrade(tx, meta.Format, target, opts.Version); err != nil {
				return err
			}
			s.format = target
		default:
			s.format = meta.Format
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the store file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the storage directory
func (s *Store) Path() string {
	return s.path
}

// Format returns the store format in effect
func (s *Store) Format() int {
	return s.format
}

// Begin starts a unit of work. The caller must Commit or Rollback it.
func (s *Store) Begin(writable bool) (*Txn, error) {
	if writable && s.readOnly {
		return nil, ErrReadOnlyTx
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &Txn{tx: tx, format: s.format, writable: writable}, nil
}

// Update runs fn in a writable unit of work and commits it when fn
// returns nil
func (s *Store) Update(fn func(Tx) error) error {
	txn, err := s.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return err
	}
	_, err = txn.Commit()
	return err
}

// View runs fn in a read-only unit of work
func (s *Store) View(fn func(Tx) error) error {
	txn, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Meta returns the store header
func (s *Store) Meta() (Meta, error) {
	var meta Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		meta, err = readMeta(tx)
		return err
	})
	return meta, err
}

// Seq returns the last applied replication log sequence
func (s *Store) Seq() uint64 {
	meta, err := s.Meta()
	if err != nil {
		return 0
	}
	return meta.Seq
}

// Stats returns node and edge counts
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		meta, err := readMeta(tx)
		if err != nil {
			return err
		}
		stats.Seq = meta.Seq
		stats.Nodes = tx.Bucket(bucketNodes).Stats().KeyN
		stats.Edges = tx.Bucket(bucketEdges).Stats().KeyN
		return nil
	})
	return stats, err
}

// Inspect runs fn against a raw read view of the store
func (s *Store) Inspect(fn func(*Reader) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Reader{tx: tx})
	})
}

// RemoveStore deletes a storage directory's contents and recreates it empty
func RemoveStore(dir string) error {
	if dir == "" {
		return ErrPathRequired
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	return os.MkdirAll(dir, 0750)
}
