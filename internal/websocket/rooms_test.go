package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomIndex_SubscribeUnsubscribe(t *testing.T) {
	ri := NewRoomIndex()
	c := newMockConn("c1", "")

	assert.True(t, ri.Subscribe(c, "conv1"))
	assert.False(t, ri.Subscribe(c, "conv1"), "second subscribe is a no-op")
	assert.True(t, ri.IsSubscribed("c1", "conv1"))
	assert.Equal(t, []Connection{c}, ri.SubscribersOf("conv1"))
	assert.Equal(t, []string{"conv1"}, ri.SubscriptionsOf("c1"))

	assert.True(t, ri.Unsubscribe(c, "conv1"))
	assert.False(t, ri.Unsubscribe(c, "conv1"), "unsubscribing twice is a no-op")
	assert.Empty(t, ri.SubscribersOf("conv1"))
	assert.Empty(t, ri.SubscriptionsOf("c1"))

	rooms, subs := ri.Count()
	assert.Zero(t, rooms)
	assert.Zero(t, subs)
}

func TestRoomIndex_UnsubscribeAll(t *testing.T) {
	ri := NewRoomIndex()
	c1 := newMockConn("c1", "")
	c2 := newMockConn("c2", "")

	ri.Subscribe(c1, "conv1")
	ri.Subscribe(c1, "conv2")
	ri.Subscribe(c2, "conv1")

	removed := ri.UnsubscribeAll(c1)
	assert.ElementsMatch(t, []string{"conv1", "conv2"}, removed)

	assert.Equal(t, []Connection{c2}, ri.SubscribersOf("conv1"))
	assert.Empty(t, ri.SubscribersOf("conv2"))
	assert.Empty(t, ri.SubscriptionsOf("c1"))

	assert.Empty(t, ri.UnsubscribeAll(c1))
}

// Both directions must always agree: conn is in room R exactly when R is in
// conn's subscription set.
func TestRoomIndex_ConcurrentConsistency(t *testing.T) {
	ri := NewRoomIndex()
	conns := make([]*mockConn, 20)
	for i := range conns {
		conns[i] = newMockConn(fmt.Sprintf("c%d", i), "")
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *mockConn) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				room := fmt.Sprintf("conv%d", (i+j)%7)
				ri.Subscribe(c, room)
				_ = ri.SubscribersOf(room)
				if j%3 == 0 {
					ri.Unsubscribe(c, room)
				}
				if j%17 == 0 {
					ri.UnsubscribeAll(c)
				}
			}
		}(i, c)
	}
	wg.Wait()

	for _, c := range conns {
		for _, room := range ri.SubscriptionsOf(c.ID()) {
			assert.Contains(t, ri.SubscribersOf(room), Connection(c))
		}
	}
	for r := 0; r < 7; r++ {
		room := fmt.Sprintf("conv%d", r)
		for _, c := range ri.SubscribersOf(room) {
			assert.Contains(t, ri.SubscriptionsOf(c.ID()), room)
		}
	}
}
