// Package transport wraps github.com/codecat/go-enet, the reliable-UDP
// (ENet) transport Moonlight speaks on its RTSP setup and control channels.
// Both channels are single-listener, single-peer hosts that poll with a
// bounded timeout, so this package factors that shape out once.
package transport

import (
	"errors"
	"time"

	enet "github.com/codecat/go-enet"
)

// ErrNotConnected indicates a send was attempted with no peer connected yet.
var ErrNotConnected = errors.New("transport: no peer connected")

// EventKind classifies a polled ENet event.
type EventKind int

const (
	EventNone EventKind = iota
	EventConnect
	EventDisconnect
	EventReceive
)

// Event is a normalized ENet host event.
type Event struct {
	Kind EventKind
	Peer enet.Peer
	Data []byte
}

// Host is a single-channel ENet listener with at most one connected peer,
// matching the protocol's one-active-session invariant.
type Host struct {
	host enet.Host
	peer enet.Peer
	have bool
}

// Listen creates an ENet host bound to port on all interfaces, accepting a
// single peer.
func Listen(port uint16) (*Host, error) {
	addr := enet.NewListenAddress(port)

	h, err := enet.NewHost(addr, 1, 1, 0, 0)
	if err != nil {
		return nil, err
	}

	return &Host{host: h}, nil
}

// Destroy releases the underlying ENet host.
func (h *Host) Destroy() {
	if h.host != nil {
		h.host.Destroy()
	}
}

// Poll services the host for up to timeout, returning the next event. A
// Receive event's Packet is destroyed before Poll returns; Data is a copy
// safe to retain.
func (h *Host) Poll(timeout time.Duration) (Event, error) {
	ev, err := h.host.Service(uint32(timeout / time.Millisecond))
	if err != nil {
		return Event{}, err
	}

	switch ev.GetType() {
	case enet.EventConnect:
		h.peer = ev.GetPeer()
		h.have = true
		return Event{Kind: EventConnect, Peer: h.peer}, nil
	case enet.EventDisconnect:
		h.have = false
		return Event{Kind: EventDisconnect, Peer: ev.GetPeer()}, nil
	case enet.EventReceive:
		pkt := ev.GetPacket()
		data := append([]byte(nil), pkt.GetData()...)
		pkt.Destroy()
		return Event{Kind: EventReceive, Peer: ev.GetPeer(), Data: data}, nil
	default:
		return Event{Kind: EventNone}, nil
	}
}

// Send transmits payload reliably to the currently connected peer.
func (h *Host) Send(payload []byte) error {
	if !h.have {
		return ErrNotConnected
	}
	if err := h.peer.SendBytes(payload, 0, enet.PacketFlagReliable); err != nil {
		return err
	}
	h.host.Flush()
	return nil
}

// SendTo transmits payload reliably to a specific peer (used by the RTSP
// server, which replies to the peer carried on the event rather than the
// host's cached one).
func SendTo(peer enet.Peer, host enet.Host, payload []byte) error {
	if err := peer.SendBytes(payload, 0, enet.PacketFlagReliable); err != nil {
		return err
	}
	host.Flush()
	return nil
}

// HostHandle exposes the underlying enet.Host for SendTo callers.
func (h *Host) HostHandle() enet.Host {
	return h.host
}
