//go:build zmq

package member

import (
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// zmqSocket wraps a zmq4 socket to implement our Socket interface.
type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return mapZMQError(err)
}

func (s *zmqSocket) Recv() ([]byte, error) {
	msg, err := s.sock.RecvBytes(0)
	return msg, mapZMQError(err)
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error {
	return s.sock.Bind(addr)
}

func (s *zmqSocket) Dial(addr string) error {
	return s.sock.Connect(addr)
}

func mapZMQError(err error) error {
	if err != nil && zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// ZMQSocketFactory creates ZeroMQ REQ/REP sockets.
type ZMQSocketFactory struct{}

// DefaultSocketFactory returns the transport compiled into this build
func DefaultSocketFactory() SocketFactory {
	return ZMQSocketFactory{}
}

func (ZMQSocketFactory) NewRepSocket() (ListenSocket, error) {
	return newZMQSocket(zmq.REP)
}

func (ZMQSocketFactory) NewReqSocket() (DialSocket, error) {
	return newZMQSocket(zmq.REQ)
}

func newZMQSocket(t zmq.Type) (*zmqSocket, error) {
	sock, err := zmq.NewSocket(t)
	if err != nil {
		return nil, fmt.Errorf("failed to create %v socket: %w", t, err)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetMaxmsgsize(MaxMessageSize); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

// Ensure ZMQSocketFactory implements SocketFactory
var _ SocketFactory = ZMQSocketFactory{}
