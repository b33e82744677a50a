package graph

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Reader exposes the raw layout of a store for structural checks
type Reader struct {
	tx *bolt.Tx
}

// Meta returns the store header
func (r *Reader) Meta() (Meta, error) {
	return readMeta(r.tx)
}

// HasBucket reports whether a named bucket exists
func (r *Reader) HasBucket(name string) bool {
	return r.tx.Bucket([]byte(name)) != nil
}

// Check runs bolt's page-level consistency check
func (r *Reader) Check() []error {
	var errs []error
	for err := range r.tx.Check() {
		errs = append(errs, err)
	}
	return errs
}

// ForEachNode calls fn for every node record
func (r *Reader) ForEachNode(fn func(id uint64, n Node, err error) error) error {
	b := r.tx.Bucket(bucketNodes)
	if b == nil {
		return fmt.Errorf("%w: missing nodes bucket", ErrCorruptStore)
	}
	return b.ForEach(func(k, v []byte) error {
		n, err := unmarshalNode(v)
		return fn(decodeUint64(k), n, err)
	})
}

// ForEachEdge calls fn for every edge record
func (r *Reader) ForEachEdge(fn func(id uint64, e Edge, err error) error) error {
	b := r.tx.Bucket(bucketEdges)
	if b == nil {
		return fmt.Errorf("%w: missing edges bucket", ErrCorruptStore)
	}
	return b.ForEach(func(k, v []byte) error {
		e, err := unmarshalEdge(v)
		return fn(decodeUint64(k), e, err)
	})
}

// NodeExists reports whether a node record is present
func (r *Reader) NodeExists(id uint64) bool {
	return r.tx.Bucket(bucketNodes).Get(encodeUint64(id)) != nil
}

// Adjacency is one entry of the outgoing or incoming index
type Adjacency struct {
	NodeID uint64
	EdgeID uint64
	Type   string
}

// ForEachOutgoing calls fn for every outgoing index entry
func (r *Reader) ForEachOutgoing(fn func(a Adjacency) error) error {
	return r.forEachAdjacency(bucketOut, fn)
}

// ForEachIncoming calls fn for every incoming index entry
func (r *Reader) ForEachIncoming(fn func(a Adjacency) error) error {
	return r.forEachAdjacency(bucketIn, fn)
}

func (r *Reader) forEachAdjacency(name []byte, fn func(a Adjacency) error) error {
	b := r.tx.Bucket(name)
	if b == nil {
		return fmt.Errorf("%w: missing %s bucket", ErrCorruptStore, name)
	}
	return b.ForEach(func(k, v []byte) error {
		nodeID, edgeID, ok := splitAdjacencyKey(k)
		if !ok {
			return fmt.Errorf("%w: bad %s key %x", ErrCorruptStore, name, k)
		}
		return fn(Adjacency{NodeID: nodeID, EdgeID: edgeID, Type: string(v)})
	})
}

// ForEachDegree calls fn for every degree counter
func (r *Reader) ForEachDegree(fn func(nodeID uint64, edgeType string, count uint64) error) error {
	b := r.tx.Bucket(bucketDegree)
	if b == nil {
		return fmt.Errorf("%w: missing degree bucket", ErrCorruptStore)
	}
	return b.ForEach(func(k, v []byte) error {
		nodeID, edgeType, ok := splitDegreeKey(k)
		if !ok {
			return fmt.Errorf("%w: bad degree key %x", ErrCorruptStore, k)
		}
		return fn(nodeID, edgeType, decodeUint64(v))
	})
}

// ForEachLogEntry calls fn for every replication log entry in order
func (r *Reader) ForEachLogEntry(fn func(seq uint64, entry LogEntry, err error) error) error {
	b := r.tx.Bucket(bucketLog)
	if b == nil {
		return fmt.Errorf("%w: missing log bucket", ErrCorruptStore)
	}
	return b.ForEach(func(k, v []byte) error {
		var entry LogEntry
		err := json.Unmarshal(v, &entry)
		return fn(decodeUint64(k), entry, err)
	})
}
