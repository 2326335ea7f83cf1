package reliable

import (
	"sort"
	"time"

	"github.com/vpncore/protoengine/internal/model"
)

// inFlightPacket is an outgoing control packet awaiting an ACK.
type inFlightPacket struct {
	packet *model.Packet

	// deadline is when this packet is next scheduled for retransmission.
	deadline time.Time

	// higherACKs counts ACKs seen for packets with a higher id than this
	// one, used for fast retransmit.
	higherACKs int

	// retries is a monotonically increasing retransmission counter, used
	// to compute the exponential backoff.
	retries uint8
}

func newInFlightPacket(p *model.Packet) *inFlightPacket {
	return &inFlightPacket{packet: p}
}

func (p *inFlightPacket) ackForHigherPacket() {
	p.higherACKs++
}

func (p *inFlightPacket) scheduleRetransmission(now time.Time) {
	p.deadline = now.Add(p.backoff())
	p.retries++
}

func (p *inFlightPacket) backoff() time.Duration {
	backoff := InitialTimeout << p.retries
	if backoff > MaxBackoff || backoff <= 0 {
		return MaxBackoff
	}
	return backoff
}

// inflightSequence is a sortable slice of in-flight packets, ordered by
// packet id.
type inflightSequence []*inFlightPacket

func (s inflightSequence) Len() int           { return len(s) }
func (s inflightSequence) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s inflightSequence) Less(i, j int) bool { return s[i].packet.ID < s[j].packet.ID }

// nearestDeadline returns the earliest retransmission deadline across the
// sequence, never earlier than now.
func (s inflightSequence) nearestDeadline(now time.Time, fallback time.Duration) time.Time {
	timeout := now.Add(fallback)
	for _, p := range s {
		if p.deadline.Before(timeout) {
			timeout = p.deadline
		}
	}
	if timeout.Before(now) {
		timeout = now.Add(time.Nanosecond)
	}
	return timeout
}

// readyToSend returns the subset of the sequence whose deadline has
// expired, or that qualifies for fast retransmission.
func (s inflightSequence) readyToSend(now time.Time) inflightSequence {
	ready := make(inflightSequence, 0, len(s))
	for _, p := range s {
		if p.higherACKs >= fastRetransmitThreshold || !p.deadline.After(now) {
			ready = append(ready, p)
		}
	}
	return ready
}

// incomingPacket is a received control packet buffered for in-order
// delivery.
type incomingPacket struct {
	packet *model.Packet
}

// incomingSequence is a sortable slice of incoming packets, ordered by
// packet id.
type incomingSequence []*incomingPacket

func (s incomingSequence) Len() int           { return len(s) }
func (s incomingSequence) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s incomingSequence) Less(i, j int) bool { return s[i].packet.ID < s[j].packet.ID }

func sortIncoming(s incomingSequence) { sort.Sort(s) }
func sortInflight(s inflightSequence) { sort.Sort(s) }
