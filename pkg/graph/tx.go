package graph

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Txn is a unit of work on the local store. Writes are journaled and the
// journal is appended to the replication log on commit.
type Txn struct {
	tx       *bolt.Tx
	format   int
	writable bool
	ops      []Op
	done     bool
}

var _ Tx = (*Txn)(nil)

// Commit commits the unit of work and returns the replication log
// sequence it was recorded under (zero for units that wrote nothing)
func (t *Txn) Commit() (uint64, error) {
	if t.done {
		return 0, ErrTxClosed
	}
	if !t.writable {
		t.done = true
		return 0, t.tx.Rollback()
	}
	var seq uint64
	if len(t.ops) > 0 {
		meta := t.tx.Bucket(bucketMeta)
		seq = getUint64(meta, keySeq) + 1
		entry := LogEntry{Seq: seq, Ops: t.ops, Timestamp: time.Now().UnixNano()}
		if err := appendLog(t.tx, entry); err != nil {
			return 0, err
		}
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Rollback discards the unit of work. It is safe to call after Commit.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// Ops returns the mutations journaled so far
func (t *Txn) Ops() []Op {
	return t.ops
}

func (t *Txn) checkWrite() error {
	if t.done {
		return ErrTxClosed
	}
	if !t.writable {
		return ErrReadOnlyTx
	}
	return nil
}

func (t *Txn) record(op Op) {
	t.ops = append(t.ops, op)
}

func (t *Txn) nextID(key []byte) (uint64, error) {
	meta := t.tx.Bucket(bucketMeta)
	id := getUint64(meta, key)
	if id == 0 {
		id = 1
	}
	return id, putUint64(meta, key, id+1)
}

// bumpID keeps the counter ahead of an id allocated elsewhere
func (t *Txn) bumpID(key []byte, id uint64) error {
	meta := t.tx.Bucket(bucketMeta)
	if getUint64(meta, key) <= id {
		return putUint64(meta, key, id+1)
	}
	return nil
}

// CreateNode creates a node and returns its id
func (t *Txn) CreateNode(props map[string]string) (uint64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	id, err := t.nextID(keyNextNode)
	if err != nil {
		return 0, err
	}
	if err := t.putNode(Node{ID: id, Properties: copyProps(props)}); err != nil {
		return 0, nodeError("CreateNode", id, err)
	}
	t.record(Op{Kind: OpCreateNode, ID: id, Props: copyProps(props)})
	return id, nil
}

func (t *Txn) putNode(n Node) error {
	raw, err := marshalRecord(n)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketNodes).Put(encodeUint64(n.ID), raw)
}

func (t *Txn) putEdge(e Edge) error {
	raw, err := marshalRecord(e)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketEdges).Put(encodeUint64(e.ID), raw)
}

// Node returns a node by id
func (t *Txn) Node(id uint64) (Node, error) {
	if t.done {
		return Node{}, ErrTxClosed
	}
	raw := t.tx.Bucket(bucketNodes).Get(encodeUint64(id))
	if raw == nil {
		return Node{}, nodeError("Node", id, ErrNodeNotFound)
	}
	return unmarshalNode(raw)
}

// SetNodeProperty sets a string property on a node
func (t *Txn) SetNodeProperty(id uint64, key, value string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.setNodeProperty(id, key, value); err != nil {
		return err
	}
	t.record(Op{Kind: OpSetNodeProperty, ID: id, Key: key, Value: value})
	return nil
}

func (t *Txn) setNodeProperty(id uint64, key, value string) error {
	n, err := t.Node(id)
	if err != nil {
		return err
	}
	if n.Properties == nil {
		n.Properties = make(map[string]string)
	}
	n.Properties[key] = value
	return t.putNode(n)
}

// CreateEdge creates a typed edge between two existing nodes
func (t *Txn) CreateEdge(from, to uint64, edgeType string) (uint64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	if edgeType == "" {
		return 0, edgeError("CreateEdge", 0, ErrEmptyEdgeType)
	}
	id, err := t.nextID(keyNextEdge)
	if err != nil {
		return 0, err
	}
	if err := t.createEdge(Edge{ID: id, From: from, To: to, Type: edgeType}); err != nil {
		return 0, err
	}
	t.record(Op{Kind: OpCreateEdge, ID: id, From: from, To: to, Type: edgeType})
	return id, nil
}

func (t *Txn) createEdge(e Edge) error {
	nodes := t.tx.Bucket(bucketNodes)
	if nodes.Get(encodeUint64(e.From)) == nil {
		return edgeError("CreateEdge", e.ID, fmt.Errorf("from %d: %w", e.From, ErrNodeNotFound))
	}
	if nodes.Get(encodeUint64(e.To)) == nil {
		return edgeError("CreateEdge", e.ID, fmt.Errorf("to %d: %w", e.To, ErrNodeNotFound))
	}
	if t.tx.Bucket(bucketEdges).Get(encodeUint64(e.ID)) != nil {
		return edgeError("CreateEdge", e.ID, ErrEdgeExists)
	}
	if err := t.putEdge(e); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketOut).Put(adjacencyKey(e.From, e.ID), []byte(e.Type)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketIn).Put(adjacencyKey(e.To, e.ID), []byte(e.Type)); err != nil {
		return err
	}
	return t.adjustDegree(e.From, e.Type, 1)
}

func (t *Txn) adjustDegree(nodeID uint64, edgeType string, delta int) error {
	if t.format < 2 {
		return nil
	}
	b := t.tx.Bucket(bucketDegree)
	k := degreeKey(nodeID, edgeType)
	n := int64(getUint64(b, k)) + int64(delta)
	if n <= 0 {
		return b.Delete(k)
	}
	return putUint64(b, k, uint64(n))
}

// Edge returns an edge by id
func (t *Txn) Edge(id uint64) (Edge, error) {
	if t.done {
		return Edge{}, ErrTxClosed
	}
	raw := t.tx.Bucket(bucketEdges).Get(encodeUint64(id))
	if raw == nil {
		return Edge{}, edgeError("Edge", id, ErrEdgeNotFound)
	}
	return unmarshalEdge(raw)
}

// DeleteEdge removes an edge and its adjacency entries
func (t *Txn) DeleteEdge(id uint64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.deleteEdge(id); err != nil {
		return err
	}
	t.record(Op{Kind: OpDeleteEdge, ID: id})
	return nil
}

func (t *Txn) deleteEdge(id uint64) error {
	e, err := t.Edge(id)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketEdges).Delete(encodeUint64(id)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketOut).Delete(adjacencyKey(e.From, id)); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketIn).Delete(adjacencyKey(e.To, id)); err != nil {
		return err
	}
	return t.adjustDegree(e.From, e.Type, -1)
}

// SetEdgeProperty sets a string property on an edge
func (t *Txn) SetEdgeProperty(id uint64, key, value string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.setEdgeProperty(id, key, value); err != nil {
		return err
	}
	t.record(Op{Kind: OpSetEdgeProperty, ID: id, Key: key, Value: value})
	return nil
}

func (t *Txn) setEdgeProperty(id uint64, key, value string) error {
	e, err := t.Edge(id)
	if err != nil {
		return err
	}
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	e.Properties[key] = value
	return t.putEdge(e)
}

// OutgoingEdges lists a node's outgoing edges in ascending id order
func (t *Txn) OutgoingEdges(nodeID uint64, types ...string) ([]Edge, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	if t.tx.Bucket(bucketNodes).Get(encodeUint64(nodeID)) == nil {
		return nil, nodeError("OutgoingEdges", nodeID, ErrNodeNotFound)
	}
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}

	var edges []Edge
	prefix := encodeUint64(nodeID)
	c := t.tx.Bucket(bucketOut).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if len(want) > 0 && !want[string(v)] {
			continue
		}
		_, edgeID, ok := splitAdjacencyKey(k)
		if !ok {
			return nil, fmt.Errorf("%w: bad adjacency key %x", ErrCorruptStore, k)
		}
		e, err := t.Edge(edgeID)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Degree counts a node's outgoing edges of one type
func (t *Txn) Degree(nodeID uint64, edgeType string) (int, error) {
	if t.done {
		return 0, ErrTxClosed
	}
	if t.format >= 2 {
		return int(getUint64(t.tx.Bucket(bucketDegree), degreeKey(nodeID, edgeType))), nil
	}
	n := 0
	prefix := encodeUint64(nodeID)
	c := t.tx.Bucket(bucketOut).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if string(v) == edgeType {
			n++
		}
	}
	return n, nil
}

// replay applies one journaled op with its recorded ids
func (t *Txn) replay(op Op) error {
	switch op.Kind {
	case OpCreateNode:
		if t.tx.Bucket(bucketNodes).Get(encodeUint64(op.ID)) != nil {
			return nodeError("replay", op.ID, ErrNodeExists)
		}
		if err := t.putNode(Node{ID: op.ID, Properties: copyProps(op.Props)}); err != nil {
			return err
		}
		return t.bumpID(keyNextNode, op.ID)
	case OpSetNodeProperty:
		return t.setNodeProperty(op.ID, op.Key, op.Value)
	case OpCreateEdge:
		if err := t.createEdge(Edge{ID: op.ID, From: op.From, To: op.To, Type: op.Type}); err != nil {
			return err
		}
		return t.bumpID(keyNextEdge, op.ID)
	case OpDeleteEdge:
		return t.deleteEdge(op.ID)
	case OpSetEdgeProperty:
		return t.setEdgeProperty(op.ID, op.Key, op.Value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op.Kind)
	}
}
