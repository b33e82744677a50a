//go:build !zmq

package member

import (
	"errors"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register the TCP transport
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// mangosSocket wraps a mangos.Socket to implement our Socket interface.
type mangosSocket struct {
	sock mangos.Socket
}

func (s *mangosSocket) Send(data []byte) error {
	return mapMangosError(s.sock.Send(data))
}

func (s *mangosSocket) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	return msg, mapMangosError(err)
}

func (s *mangosSocket) Close() error {
	return s.sock.Close()
}

func (s *mangosSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *mangosSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *mangosSocket) Listen(addr string) error {
	return s.sock.Listen(addr)
}

func (s *mangosSocket) Dial(addr string) error {
	return s.sock.Dial(addr)
}

func mapMangosError(err error) error {
	if errors.Is(err, mangos.ErrRecvTimeout) || errors.Is(err, mangos.ErrSendTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// MangosSocketFactory creates mangos REQ/REP sockets.
type MangosSocketFactory struct{}

// DefaultSocketFactory returns the transport compiled into this build
func DefaultSocketFactory() SocketFactory {
	return MangosSocketFactory{}
}

func (MangosSocketFactory) NewRepSocket() (ListenSocket, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, err
	}
	return newMangosSocket(sock)
}

func (MangosSocketFactory) NewReqSocket() (DialSocket, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, err
	}
	return newMangosSocket(sock)
}

func newMangosSocket(sock mangos.Socket) (*mangosSocket, error) {
	if err := sock.SetOption(mangos.OptionMaxRecvSize, MaxMessageSize); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to set max message size: %w", err)
	}
	return &mangosSocket{sock: sock}, nil
}

// Ensure MangosSocketFactory implements SocketFactory
var _ SocketFactory = MangosSocketFactory{}
