package member

import (
	"io"
	"time"
)

// Socket carries one member RPC exchange at a time. Deadlines are relative
// and surface as errors wrapping ErrTimeout.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is the reply side bound on a member's cluster or
// replication port
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket is the request side used by handles and peer clients
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SocketFactory builds the sockets for one transport. The default is
// mangos; building with the zmq tag switches to ZeroMQ.
type SocketFactory interface {
	NewRepSocket() (ListenSocket, error)
	NewReqSocket() (DialSocket, error)
}

// MaxMessageSize bounds one request or reply. Snapshots travel over the
// backup endpoint, so this only has to fit log batches.
const MaxMessageSize = 16 << 20

func endpoint(addr string) string {
	return "tcp://" + addr
}
