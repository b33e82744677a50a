package member

import (
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/dd0wney/cluso-rollover/pkg/cluster"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

func openStore(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Open(graph.Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestExecTx tests that every unit of work method maps onto the local store
func TestExecTx(t *testing.T) {
	s := openStore(t)
	txn, err := s.Begin(true)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer txn.Rollback()

	res, err := execTx(txn, TxCall{Method: TxCreateNode, Props: map[string]string{"name": "anchor"}})
	if err != nil {
		t.Fatalf("create_node failed: %v", err)
	}
	anchor := res.ID
	res, _ = execTx(txn, TxCall{Method: TxCreateNode})
	target := res.ID

	res, err = execTx(txn, TxCall{Method: TxCreateEdge, From: anchor, To: target, Type: "type1"})
	if err != nil {
		t.Fatalf("create_edge failed: %v", err)
	}
	edge := res.ID

	steps := []TxCall{
		{Method: TxSetEdgeProperty, ID: edge, Key: "probe.link", Value: "1-2"},
		{Method: TxSetNodeProperty, ID: target, Key: "probe.endpoint", Value: "1-2"},
	}
	for _, call := range steps {
		if _, err := execTx(txn, call); err != nil {
			t.Fatalf("%s failed: %v", call.Method, err)
		}
	}

	res, err = execTx(txn, TxCall{Method: TxNode, ID: target})
	if err != nil || res.Node == nil || res.Node.Properties["probe.endpoint"] != "1-2" {
		t.Errorf("Expected endpoint label on node, got %+v, %v", res.Node, err)
	}
	res, err = execTx(txn, TxCall{Method: TxEdge, ID: edge})
	if err != nil || res.Edge == nil || res.Edge.Properties["probe.link"] != "1-2" {
		t.Errorf("Expected link label on edge, got %+v, %v", res.Edge, err)
	}
	res, err = execTx(txn, TxCall{Method: TxOutgoingEdges, ID: anchor, Types: []string{"type1"}})
	if err != nil || len(res.Edges) != 1 {
		t.Errorf("Expected 1 outgoing edge, got %d, %v", len(res.Edges), err)
	}
	res, err = execTx(txn, TxCall{Method: TxDegree, ID: anchor, Type: "type1"})
	if err != nil || res.Count != 1 {
		t.Errorf("Expected degree 1, got %d, %v", res.Count, err)
	}
	if _, err := execTx(txn, TxCall{Method: TxDeleteEdge, ID: edge}); err != nil {
		t.Errorf("delete_edge failed: %v", err)
	}
	if _, err := execTx(txn, TxCall{Method: TxEdge, ID: edge}); !errors.Is(err, graph.ErrEdgeNotFound) {
		t.Errorf("Expected ErrEdgeNotFound after delete, got %v", err)
	}
	if _, err := execTx(txn, TxCall{Method: "drop_everything"}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("Expected ErrUnknownOp, got %v", err)
	}
}

// TestErrorCodes tests that sentinel errors survive the trip through a response
func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not leader", cluster.ErrNotLeader, "not_leader"},
		{"no leader", cluster.ErrNoLeader, "no_leader"},
		{"busy", ErrBusy, "busy"},
		{"no session", ErrNoSession, "no_session"},
		{"wrapped node not found", &graph.OpError{Op: "Node", Entity: "node", ID: 9, Cause: graph.ErrNodeNotFound}, "node_not_found"},
		{"read only", graph.ErrReadOnlyTx, "read_only"},
		{"unknown", errors.New("disk on fire"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := reply(nil, tt.err)
			if resp.OK {
				t.Fatal("Expected failed response")
			}
			if resp.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, resp.Code)
			}

			err := remoteError("begin", resp.Code, resp.Error)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Expected *RemoteError, got %T", err)
			}
			if tt.code != "internal" && errors.Unwrap(err) == nil {
				t.Errorf("Expected remote error to unwrap to a sentinel")
			}
			if tt.code == "not_leader" && !errors.Is(err, cluster.ErrNotLeader) {
				t.Errorf("Expected errors.Is ErrNotLeader, got %v", err)
			}
			if tt.code == "node_not_found" && !errors.Is(err, graph.ErrNodeNotFound) {
				t.Errorf("Expected errors.Is ErrNodeNotFound, got %v", err)
			}
		})
	}
}

// TestReplyData tests that successful replies carry encoded data
func TestReplyData(t *testing.T) {
	resp := reply(CreateNodeResult{ID: 42}, nil)
	if !resp.OK {
		t.Fatalf("Expected OK response, got %+v", resp)
	}
	if string(resp.Data) != `{"id":42}` {
		t.Errorf("Unexpected data %s", resp.Data)
	}
	if resp := reply(nil, nil); !resp.OK || resp.Data != nil {
		t.Errorf("Expected empty OK response, got %+v", resp)
	}
}

// TestDecodeArgs tests malformed arguments are reported as bad requests
func TestDecodeArgs(t *testing.T) {
	var args BeginArgs
	if err := decodeArgs(Request{Op: OpBegin, Args: []byte(`{"writable":true}`)}, &args); err != nil || !args.Writable {
		t.Errorf("Expected writable begin, got %+v, %v", args, err)
	}
	if err := decodeArgs(Request{Op: OpBegin, Args: []byte(`{"writable":`)}, &args); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got %v", err)
	}
	if err := decodeArgs(Request{Op: OpPing}, &args); err != nil {
		t.Errorf("Expected no error for empty args, got %v", err)
	}
}

// TestFlagsRoundTrip tests that Args renders a config BindFlags parses back
func TestFlagsRoundTrip(t *testing.T) {
	peers, err := cluster.ParsePeers("1@10.0.0.2:5001:6001:6363,2@10.0.0.3:5002:6002:6364")
	if err != nil {
		t.Fatalf("ParsePeers failed: %v", err)
	}
	want := cluster.DefaultMemberConfig(0, "10.0.0.1")
	want.StoragePath = "/var/lib/graphdb/member-0"
	want.Version = "2.1.0"
	want.StoreFormat = 2
	want.AllowStoreUpgrade = false
	want.HeartbeatInterval = 250 * time.Millisecond
	want.Peers = peers

	var got cluster.MemberConfig
	fs := flag.NewFlagSet("graphdb-member", flag.ContinueOnError)
	BindFlags(fs, &got)
	if err := fs.Parse(Args(want)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got.ID != want.ID || got.Host != want.Host || got.StoragePath != want.StoragePath {
		t.Errorf("Identity mismatch: got %+v", got)
	}
	if got.ClusterPort != want.ClusterPort || got.ReplicationPort != want.ReplicationPort || got.BackupPort != want.BackupPort {
		t.Errorf("Port mismatch: got %d/%d/%d", got.ClusterPort, got.ReplicationPort, got.BackupPort)
	}
	if got.Version != want.Version || got.StoreFormat != want.StoreFormat || got.AllowStoreUpgrade {
		t.Errorf("Store settings mismatch: got %+v", got)
	}
	if got.HeartbeatInterval != want.HeartbeatInterval || got.ElectionTimeout != want.ElectionTimeout || got.PullInterval != want.PullInterval {
		t.Errorf("Timing mismatch: got %v/%v/%v", got.HeartbeatInterval, got.ElectionTimeout, got.PullInterval)
	}
	if cluster.FormatPeers(got.Peers) != cluster.FormatPeers(want.Peers) {
		t.Errorf("Expected peers %s, got %s", cluster.FormatPeers(want.Peers), cluster.FormatPeers(got.Peers))
	}
}
