package member

import (
	"encoding/json"
	"fmt"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

// Cluster port operations, used by coordinators and for write forwarding
const (
	OpPing       = "ping"
	OpStatus     = "status"
	OpPull       = "pull"
	OpCreateNode = "create_node"
	OpBegin      = "begin"
	OpTx         = "tx"
	OpCommit     = "commit"
	OpRollback   = "rollback"
	OpShutdown   = "shutdown"
)

// Replication port operations, used between members
const (
	OpPeerStatus = "peer_status"
	OpVote       = "vote"
	OpEntries    = "entries"
)

// Unit of work methods carried in TxCall
const (
	TxCreateNode      = "create_node"
	TxNode            = "node"
	TxSetNodeProperty = "set_node_property"
	TxCreateEdge      = "create_edge"
	TxEdge            = "edge"
	TxDeleteEdge      = "delete_edge"
	TxSetEdgeProperty = "set_edge_property"
	TxOutgoingEdges   = "outgoing_edges"
	TxDegree          = "degree"
)

// Request is one message to a member
type Request struct {
	Op      string          `json:"op"`
	Session string          `json:"session,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is a member's reply
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Status is what a member reports to coordinators
type Status struct {
	ID        int    `json:"id"`
	Role      string `json:"role"`
	LeaderID  int    `json:"leader_id"`
	Term      uint64 `json:"term"`
	Seq       uint64 `json:"seq"`
	LeaderSeq uint64 `json:"leader_seq"`
	Joined    bool   `json:"joined"`
	Version   string `json:"version"`
	Format    int    `json:"format"`
}

// BeginArgs opens a session
type BeginArgs struct {
	Writable bool `json:"writable"`
}

// BeginResult names the opened session
type BeginResult struct {
	Session string `json:"session"`
}

// CommitResult carries the sequence number of a committed unit of work
type CommitResult struct {
	Seq uint64 `json:"seq"`
}

// CreateNodeArgs creates one node outside a session
type CreateNodeArgs struct {
	Props map[string]string `json:"props,omitempty"`
}

// CreateNodeResult carries the new node id
type CreateNodeResult struct {
	ID uint64 `json:"id"`
}

// TxCall is one graph operation inside a session
type TxCall struct {
	Method string            `json:"method"`
	ID     uint64            `json:"id,omitempty"`
	From   uint64            `json:"from,omitempty"`
	To     uint64            `json:"to,omitempty"`
	Type   string            `json:"type,omitempty"`
	Key    string            `json:"key,omitempty"`
	Value  string            `json:"value,omitempty"`
	Props  map[string]string `json:"props,omitempty"`
	Types  []string          `json:"types,omitempty"`
}

// TxResult is the result of a TxCall
type TxResult struct {
	ID    uint64       `json:"id,omitempty"`
	Node  *graph.Node  `json:"node,omitempty"`
	Edge  *graph.Edge  `json:"edge,omitempty"`
	Edges []graph.Edge `json:"edges,omitempty"`
	Count int          `json:"count,omitempty"`
}

// EntriesArgs asks the leader for log entries after a sequence
type EntriesArgs struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
}

// EntriesResult is the leader's answer to EntriesArgs
type EntriesResult struct {
	LeaderID  int              `json:"leader_id"`
	Term      uint64           `json:"term"`
	LeaderSeq uint64           `json:"leader_seq"`
	Entries   []graph.LogEntry `json:"entries,omitempty"`
}

// decodeArgs unmarshals request arguments
func decodeArgs(req Request, v any) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("%w: %s args: %v", ErrBadRequest, req.Op, err)
	}
	return nil
}

// reply builds a response from a result and an error
func reply(data any, err error) Response {
	if err != nil {
		return Response{Error: err.Error(), Code: codeOf(err)}
	}
	resp := Response{OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{Error: err.Error(), Code: "internal"}
		}
		resp.Data = raw
	}
	return resp
}

// execTx runs one call against a local unit of work
func execTx(tx graph.Tx, call TxCall) (TxResult, error) {
	switch call.Method {
	case TxCreateNode:
		id, err := tx.CreateNode(call.Props)
		return TxResult{ID: id}, err
	case TxNode:
		n, err := tx.Node(call.ID)
		if err != nil {
			return TxResult{}, err
		}
		return TxResult{Node: &n}, nil
	case TxSetNodeProperty:
		return TxResult{}, tx.SetNodeProperty(call.ID, call.Key, call.Value)
	case TxCreateEdge:
		id, err := tx.CreateEdge(call.From, call.To, call.Type)
		return TxResult{ID: id}, err
	case TxEdge:
		e, err := tx.Edge(call.ID)
		if err != nil {
			return TxResult{}, err
		}
		return TxResult{Edge: &e}, nil
	case TxDeleteEdge:
		return TxResult{}, tx.DeleteEdge(call.ID)
	case TxSetEdgeProperty:
		return TxResult{}, tx.SetEdgeProperty(call.ID, call.Key, call.Value)
	case TxOutgoingEdges:
		edges, err := tx.OutgoingEdges(call.ID, call.Types...)
		return TxResult{Edges: edges}, err
	case TxDegree:
		n, err := tx.Degree(call.ID, call.Type)
		return TxResult{Count: n}, err
	default:
		return TxResult{}, fmt.Errorf("%w: tx method %q", ErrUnknownOp, call.Method)
	}
}
