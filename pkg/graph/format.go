package graph

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

const (
	// FileName is the store file inside a member's storage directory
	FileName = "graph.db"

	// CurrentFormat is the store format this build writes
	CurrentFormat = 2

	// MinFormat is the oldest store format this build can read
	MinFormat = 1
)

var (
	bucketMeta   = []byte("meta")
	bucketNodes  = []byte("nodes")
	bucketEdges  = []byte("edges")
	bucketOut    = []byte("out")
	bucketIn     = []byte("in")
	bucketDegree = []byte("degree")
	bucketLog    = []byte("log")

	keyFormat   = []byte("format")
	keyVersion  = []byte("version")
	keyNextNode = []byte("next_node")
	keyNextEdge = []byte("next_edge")
	keySeq      = []byte("seq")
)

// bucketsFor returns the buckets a given format requires
func bucketsFor(format int) [][]byte {
	buckets := [][]byte{bucketMeta, bucketNodes, bucketEdges, bucketOut, bucketIn, bucketLog}
	if format >= 2 {
		buckets = append(buckets, bucketDegree)
	}
	return buckets
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// adjacencyKey is node id followed by edge id, so a prefix scan on the
// node yields its edges in ascending id order
func adjacencyKey(nodeID, edgeID uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], nodeID)
	binary.BigEndian.PutUint64(k[8:], edgeID)
	return k
}

func splitAdjacencyKey(k []byte) (nodeID, edgeID uint64, ok bool) {
	if len(k) != 16 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(k[:8]), binary.BigEndian.Uint64(k[8:]), true
}

func degreeKey(nodeID uint64, edgeType string) []byte {
	k := make([]byte, 8, 8+len(edgeType))
	binary.BigEndian.PutUint64(k, nodeID)
	return append(k, edgeType...)
}

func splitDegreeKey(k []byte) (nodeID uint64, edgeType string, ok bool) {
	if len(k) < 8 {
		return 0, "", false
	}
	return binary.BigEndian.Uint64(k[:8]), string(k[8:]), true
}

func getUint64(b *bolt.Bucket, key []byte) uint64 {
	return decodeUint64(b.Get(key))
}

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	return b.Put(key, encodeUint64(v))
}

func readMeta(tx *bolt.Tx) (Meta, error) {
	b := tx.Bucket(bucketMeta)
	if b == nil {
		return Meta{}, fmt.Errorf("%w: missing meta bucket", ErrCorruptStore)
	}
	raw := b.Get(keyFormat)
	if raw == nil {
		return Meta{}, fmt.Errorf("%w: missing format", ErrCorruptStore)
	}
	format, err := strconv.Atoi(string(raw))
	if err != nil {
		return Meta{}, fmt.Errorf("%w: format %q", ErrUnknownFormat, raw)
	}
	return Meta{
		Format:   format,
		Version:  string(b.Get(keyVersion)),
		NextNode: getUint64(b, keyNextNode),
		NextEdge: getUint64(b, keyNextEdge),
		Seq:      getUint64(b, keySeq),
	}, nil
}

// initialize lays out an empty store of the given format
func initialize(tx *bolt.Tx, format int, version string) error {
	for _, name := range bucketsFor(format) {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	meta := tx.Bucket(bucketMeta)
	if err := meta.Put(keyFormat, []byte(strconv.Itoa(format))); err != nil {
		return err
	}
	if err := meta.Put(keyVersion, []byte(version)); err != nil {
		return err
	}
	if err := putUint64(meta, keyNextNode, 1); err != nil {
		return err
	}
	if err := putUint64(meta, keyNextEdge, 1); err != nil {
		return err
	}
	return putUint64(meta, keySeq, 0)
}

// upgrade migrates a store in place from one format to the next until it
// reaches target. Format 2 adds per-type outgoing degree counters.
func upgrade(tx *bolt.Tx, from, target int, version string) error {
	for format := from; format < target; format++ {
		switch format {
		case 1:
			if err := upgradeV1toV2(tx); err != nil {
				return fmt.Errorf("upgrade format 1 to 2: %w", err)
			}
		default:
			return fmt.Errorf("%w: no upgrade path from %d", ErrUnknownFormat, format)
		}
	}
	meta := tx.Bucket(bucketMeta)
	if err := meta.Put(keyFormat, []byte(strconv.Itoa(target))); err != nil {
		return err
	}
	return meta.Put(keyVersion, []byte(version))
}

func upgradeV1toV2(tx *bolt.Tx) error {
	if tx.Bucket(bucketDegree) != nil {
		if err := tx.DeleteBucket(bucketDegree); err != nil {
			return err
		}
	}
	degree, err := tx.CreateBucket(bucketDegree)
	if err != nil {
		return err
	}
	out := tx.Bucket(bucketOut)
	if out == nil {
		return fmt.Errorf("%w: missing out bucket", ErrCorruptStore)
	}
	counts := make(map[string]uint64)
	err = out.ForEach(func(k, v []byte) error {
		nodeID, _, ok := splitAdjacencyKey(k)
		if !ok {
			return fmt.Errorf("%w: bad adjacency key %x", ErrCorruptStore, k)
		}
		counts[string(degreeKey(nodeID, string(v)))]++
		return nil
	})
	if err != nil {
		return err
	}
	for k, n := range counts {
		if err := putUint64(degree, []byte(k), n); err != nil {
			return err
		}
	}
	return nil
}

func marshalRecord(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalNode(raw []byte) (Node, error) {
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, fmt.Errorf("%w: node record: %v", ErrCorruptStore, err)
	}
	return n, nil
}

func unmarshalEdge(raw []byte) (Edge, error) {
	var e Edge
	if err := json.Unmarshal(raw, &e); err != nil {
		return Edge{}, fmt.Errorf("%w: edge record: %v", ErrCorruptStore, err)
	}
	return e, nil
}
