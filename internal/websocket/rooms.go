package websocket

import "sync"

// RoomIndex tracks which live connections receive fan-out for which
// conversation. Both directions live under one lock so every operation,
// including UnsubscribeAll, is atomic with respect to SubscribersOf.
//
// The index is a cache of membership derived at subscribe time. It is not
// reconciled with the conversation store; membership-change flows must call
// Subscribe/Unsubscribe themselves.
type RoomIndex struct {
	mu            sync.RWMutex
	rooms         map[string]map[string]Connection // conversationID -> connID -> conn
	subscriptions map[string]map[string]struct{}   // connID -> conversationIDs
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:         make(map[string]map[string]Connection),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds conn to the room of conversationID. It reports whether the
// subscription is new.
func (ri *RoomIndex) Subscribe(conn Connection, conversationID string) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	members := ri.rooms[conversationID]
	if members == nil {
		members = make(map[string]Connection)
		ri.rooms[conversationID] = members
	}
	if _, ok := members[conn.ID()]; ok {
		return false
	}
	members[conn.ID()] = conn

	subs := ri.subscriptions[conn.ID()]
	if subs == nil {
		subs = make(map[string]struct{})
		ri.subscriptions[conn.ID()] = subs
	}
	subs[conversationID] = struct{}{}
	return true
}

// Unsubscribe removes conn from the room of conversationID. It reports
// whether a subscription was removed.
func (ri *RoomIndex) Unsubscribe(conn Connection, conversationID string) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.unsubscribeLocked(conn.ID(), conversationID)
}

// UnsubscribeAll removes every subscription of conn and returns the
// conversations it was removed from.
func (ri *RoomIndex) UnsubscribeAll(conn Connection) []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	subs := ri.subscriptions[conn.ID()]
	removed := make([]string, 0, len(subs))
	for conversationID := range subs {
		removed = append(removed, conversationID)
	}
	for _, conversationID := range removed {
		ri.unsubscribeLocked(conn.ID(), conversationID)
	}
	delete(ri.subscriptions, conn.ID())
	return removed
}

func (ri *RoomIndex) unsubscribeLocked(connID, conversationID string) bool {
	members, ok := ri.rooms[conversationID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(ri.rooms, conversationID)
	}

	if subs, ok := ri.subscriptions[connID]; ok {
		delete(subs, conversationID)
		if len(subs) == 0 {
			delete(ri.subscriptions, connID)
		}
	}
	return true
}

// SubscribersOf returns the fan-out targets of conversationID at this moment.
func (ri *RoomIndex) SubscribersOf(conversationID string) []Connection {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	members := ri.rooms[conversationID]
	conns := make([]Connection, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}

// SubscriptionsOf returns the conversations a connection is subscribed to.
func (ri *RoomIndex) SubscriptionsOf(connID string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	subs := ri.subscriptions[connID]
	ids := make([]string, 0, len(subs))
	for conversationID := range subs {
		ids = append(ids, conversationID)
	}
	return ids
}

func (ri *RoomIndex) IsSubscribed(connID, conversationID string) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.rooms[conversationID][connID]
	return ok
}

// Count returns the number of non-empty rooms and total subscriptions.
func (ri *RoomIndex) Count() (rooms, subscriptions int) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	for _, members := range ri.rooms {
		subscriptions += len(members)
	}
	return len(ri.rooms), subscriptions
}
