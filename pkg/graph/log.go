package graph

import (
	"encoding/json"
	"fmt"
	"io"

	bolt "go.etcd.io/bbolt"
)

func appendLog(tx *bolt.Tx, entry LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry %d: %w", entry.Seq, err)
	}
	if err := tx.Bucket(bucketLog).Put(encodeUint64(entry.Seq), raw); err != nil {
		return err
	}
	return putUint64(tx.Bucket(bucketMeta), keySeq, entry.Seq)
}

// Apply replays a leader's log entry. Entries at or below the applied
// sequence are ignored; anything but the next sequence is rejected.
func (s *Store) Apply(entry LogEntry) (applied bool, err error) {
	if s.readOnly {
		return false, ErrReadOnlyTx
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		seq := getUint64(tx.Bucket(bucketMeta), keySeq)
		if entry.Seq <= seq {
			return nil
		}
		if entry.Seq != seq+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrSeqGap, seq, entry.Seq)
		}
		txn := &Txn{tx: tx, format: s.format, writable: true}
		for i, op := range entry.Ops {
			if err := txn.replay(op); err != nil {
				return fmt.Errorf("entry %d op %d (%s): %w", entry.Seq, i, op.Kind, err)
			}
		}
		applied = true
		return appendLog(tx, entry)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Entries returns up to limit log entries with sequence greater than after
func (s *Store) Entries(after uint64, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Seek(encodeUint64(after + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: log entry %d: %v", ErrCorruptStore, decodeUint64(k), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// WriteSnapshot streams a point-in-time copy of the store file to w
func (s *Store) WriteSnapshot(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}
