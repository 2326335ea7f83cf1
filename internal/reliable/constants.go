package reliable

import "time"

const (
	// SendBufferSize is the capacity of the array of packets we track
	// in-flight at any given moment (outgoing).
	SendBufferSize = 12

	// RecvBufferSize is the capacity of the array of packets we track
	// in-flight at any given moment (incoming).
	RecvBufferSize = SendBufferSize

	// MaxACKsPerPacket is the maximum number of ACKs we pack into an
	// outgoing packet's ack array.
	MaxACKsPerPacket = 4

	// InitialTimeout is the initial retransmission timeout for a freshly
	// inserted outgoing packet.
	InitialTimeout = 2 * time.Second

	// MaxBackoff bounds the exponential retransmission backoff.
	MaxBackoff = 60 * time.Second

	// fastRetransmitThreshold is the number of ACKs for higher packet ids
	// that trigger an out-of-turn retransmission of a lower, still-unacked
	// packet (fast retransmit, mirroring TCP's triple-ACK heuristic).
	fastRetransmitThreshold = 3
)
