package core

import "context"

// Frame is a raw signaling message.
type Frame []byte

// SignalConnection abstracts the server side of a client's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Socket is the client side of a message transport to the signaling server.
type Socket interface {
	ReadMessage() (Frame, error)
	WriteMessage(Frame) error
	Close() error
}

// Dialer opens sockets to the signaling server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
