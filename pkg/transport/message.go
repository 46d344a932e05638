package transport

import "net"

// ReceivedMessage is one inbound datagram. Data holds the raw frame as read
// from the wire; decoding is left to the caller.
type ReceivedMessage struct {
	// Data contains the raw frame bytes.
	Data []byte
	// Addr is the source of the datagram.
	Addr net.Addr
}

// MessageHandler is called for each received datagram from the read loop.
// Implementations should return quickly and hand work to another goroutine.
type MessageHandler func(msg *ReceivedMessage)
