package websocket

import "sync/atomic"

// Metrics counts relay activity since start.
type Metrics struct {
	connected    atomic.Uint64
	disconnected atomic.Uint64
	rejected     atomic.Uint64
	messages     atomic.Uint64
	delivered    atomic.Uint64
	failed       atomic.Uint64
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	OnlineUsers      int    `json:"onlineUsers"`
	Connections      int    `json:"connections"`
	Rooms            int    `json:"rooms"`
	Subscriptions    int    `json:"subscriptions"`
	ConnectsTotal    uint64 `json:"connectsTotal"`
	DisconnectsTotal uint64 `json:"disconnectsTotal"`
	RejectedTotal    uint64 `json:"rejectedTotal"`
	MessagesTotal    uint64 `json:"messagesTotal"`
	DeliveriesTotal  uint64 `json:"deliveriesTotal"`
	DeliveryFailures uint64 `json:"deliveryFailures"`
}

func (r *Relay) Stats() Stats {
	users, conns := r.registry.Count()
	rooms, subs := r.rooms.Count()
	return Stats{
		OnlineUsers:      users,
		Connections:      conns,
		Rooms:            rooms,
		Subscriptions:    subs,
		ConnectsTotal:    r.metrics.connected.Load(),
		DisconnectsTotal: r.metrics.disconnected.Load(),
		RejectedTotal:    r.metrics.rejected.Load(),
		MessagesTotal:    r.metrics.messages.Load(),
		DeliveriesTotal:  r.metrics.delivered.Load(),
		DeliveryFailures: r.metrics.failed.Load(),
	}
}
