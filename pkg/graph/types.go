package graph

// Node represents a vertex in the graph
type Node struct {
	ID         uint64            `json:"id"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Edge represents a typed link between two nodes
type Edge struct {
	ID         uint64            `json:"id"`
	From       uint64            `json:"from"`
	To         uint64            `json:"to"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Property returns a property value and whether it is set
func (n Node) Property(key string) (string, bool) {
	v, ok := n.Properties[key]
	return v, ok
}

// Property returns a property value and whether it is set
func (e Edge) Property(key string) (string, bool) {
	v, ok := e.Properties[key]
	return v, ok
}

// Tx is a unit of work against the graph. Implementations are the local
// bolt-backed transaction and the remote session a member handle opens
// over RPC; callers must not assume either.
type Tx interface {
	// CreateNode creates a node and returns its id
	CreateNode(props map[string]string) (uint64, error)
	// Node returns a node by id
	Node(id uint64) (Node, error)
	// SetNodeProperty sets a string property on a node
	SetNodeProperty(id uint64, key, value string) error
	// CreateEdge creates a typed edge and returns its id
	CreateEdge(from, to uint64, edgeType string) (uint64, error)
	// Edge returns an edge by id
	Edge(id uint64) (Edge, error)
	// DeleteEdge removes an edge by id
	DeleteEdge(id uint64) error
	// SetEdgeProperty sets a string property on an edge
	SetEdgeProperty(id uint64, key, value string) error
	// OutgoingEdges lists a node's outgoing edges in ascending id order,
	// restricted to the given types when any are passed
	OutgoingEdges(nodeID uint64, types ...string) ([]Edge, error)
	// Degree counts a node's outgoing edges of one type
	Degree(nodeID uint64, edgeType string) (int, error)
}

// OpKind identifies a journaled mutation
type OpKind string

const (
	OpCreateNode      OpKind = "create_node"
	OpSetNodeProperty OpKind = "set_node_property"
	OpCreateEdge      OpKind = "create_edge"
	OpDeleteEdge      OpKind = "delete_edge"
	OpSetEdgeProperty OpKind = "set_edge_property"
)

// Op is one mutation recorded by a unit of work. Ids are explicit so that
// followers replay the leader's allocation exactly.
type Op struct {
	Kind  OpKind            `json:"kind"`
	ID    uint64            `json:"id"`
	From  uint64            `json:"from,omitempty"`
	To    uint64            `json:"to,omitempty"`
	Type  string            `json:"type,omitempty"`
	Key   string            `json:"key,omitempty"`
	Value string            `json:"value,omitempty"`
	Props map[string]string `json:"props,omitempty"`
}

// LogEntry is one committed unit of work in the replication log
type LogEntry struct {
	Seq       uint64 `json:"seq"`
	Ops       []Op   `json:"ops"`
	Timestamp int64  `json:"timestamp"`
}

// Meta describes a store's header
type Meta struct {
	Format   int    `json:"format"`
	Version  string `json:"version"`
	NextNode uint64 `json:"next_node"`
	NextEdge uint64 `json:"next_edge"`
	Seq      uint64 `json:"seq"`
}

// Stats holds basic store statistics
type Stats struct {
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
	Seq   uint64 `json:"seq"`
}

func copyProps(props map[string]string) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
