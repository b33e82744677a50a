package member

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultCallTimeout bounds one request/reply exchange
const DefaultCallTimeout = 2 * time.Second

// rpcClient issues requests to one member port over a REQ socket. Calls
// are serialized; a failed exchange drops the socket and the next call
// dials again.
type rpcClient struct {
	addr    string
	factory SocketFactory
	timeout time.Duration

	mu     sync.Mutex
	sock   DialSocket
	closed bool
}

func newRPCClient(addr string, factory SocketFactory, timeout time.Duration) *rpcClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &rpcClient{addr: addr, factory: factory, timeout: timeout}
}

// call sends op and decodes the reply data into out, which may be nil
func (c *rpcClient) call(ctx context.Context, op, session string, args, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := Request{Op: op, Session: session}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode %s args: %w", op, err)
		}
		req.Args = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	raw, err := c.exchange(payload, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, op, c.addr, err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("%w: %s %s: bad reply: %v", ErrUnreachable, op, c.addr, err)
	}
	if !resp.OK {
		return remoteError(op, resp.Code, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s reply: %w", op, err)
		}
	}
	return nil
}

func (c *rpcClient) exchange(payload []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrStopping
	}

	if c.sock == nil {
		sock, err := c.factory.NewReqSocket()
		if err != nil {
			return nil, err
		}
		if err := sock.Dial(endpoint(c.addr)); err != nil {
			sock.Close()
			return nil, err
		}
		c.sock = sock
	}

	raw, err := c.roundTrip(payload, timeout)
	if err != nil {
		c.sock.Close()
		c.sock = nil
		return nil, err
	}
	return raw, nil
}

func (c *rpcClient) roundTrip(payload []byte, timeout time.Duration) ([]byte, error) {
	if err := c.sock.SetSendDeadline(timeout); err != nil {
		return nil, err
	}
	if err := c.sock.SetRecvDeadline(timeout); err != nil {
		return nil, err
	}
	if err := c.sock.Send(payload); err != nil {
		return nil, err
	}
	return c.sock.Recv()
}

// Close releases the socket; later calls fail with ErrStopping
func (c *rpcClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}
