package member

import (
	"context"

	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

// remoteTx is a graph.Tx whose calls run inside a session on a member
type remoteTx struct {
	ctx     context.Context
	rpc     *rpcClient
	session string
}

var _ graph.Tx = (*remoteTx)(nil)

func (t *remoteTx) do(call TxCall) (TxResult, error) {
	var res TxResult
	err := t.rpc.call(t.ctx, OpTx, t.session, call, &res)
	return res, err
}

func (t *remoteTx) CreateNode(props map[string]string) (uint64, error) {
	res, err := t.do(TxCall{Method: TxCreateNode, Props: props})
	return res.ID, err
}

func (t *remoteTx) Node(id uint64) (graph.Node, error) {
	res, err := t.do(TxCall{Method: TxNode, ID: id})
	if err != nil {
		return graph.Node{}, err
	}
	if res.Node == nil {
		return graph.Node{}, graph.ErrNodeNotFound
	}
	return *res.Node, nil
}

func (t *remoteTx) SetNodeProperty(id uint64, key, value string) error {
	_, err := t.do(TxCall{Method: TxSetNodeProperty, ID: id, Key: key, Value: value})
	return err
}

func (t *remoteTx) CreateEdge(from, to uint64, edgeType string) (uint64, error) {
	res, err := t.do(TxCall{Method: TxCreateEdge, From: from, To: to, Type: edgeType})
	return res.ID, err
}

func (t *remoteTx) Edge(id uint64) (graph.Edge, error) {
	res, err := t.do(TxCall{Method: TxEdge, ID: id})
	if err != nil {
		return graph.Edge{}, err
	}
	if res.Edge == nil {
		return graph.Edge{}, graph.ErrEdgeNotFound
	}
	return *res.Edge, nil
}

func (t *remoteTx) DeleteEdge(id uint64) error {
	_, err := t.do(TxCall{Method: TxDeleteEdge, ID: id})
	return err
}

func (t *remoteTx) SetEdgeProperty(id uint64, key, value string) error {
	_, err := t.do(TxCall{Method: TxSetEdgeProperty, ID: id, Key: key, Value: value})
	return err
}

func (t *remoteTx) OutgoingEdges(nodeID uint64, types ...string) ([]graph.Edge, error) {
	res, err := t.do(TxCall{Method: TxOutgoingEdges, ID: nodeID, Types: types})
	return res.Edges, err
}

func (t *remoteTx) Degree(nodeID uint64, edgeType string) (int, error) {
	res, err := t.do(TxCall{Method: TxDegree, ID: nodeID, Type: edgeType})
	return res.Count, err
}
