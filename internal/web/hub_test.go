package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	a := hub.Register()
	b := hub.Register()
	assert.Equal(t, 2, hub.Count())

	hub.Broadcast([]byte("hello"))
	assert.Equal(t, "hello", string(<-a.Send))
	assert.Equal(t, "hello", string(<-b.Send))

	hub.Unregister(a)
	hub.Unregister(a)
	assert.Equal(t, 1, hub.Count())
	_, open := <-a.Send
	assert.False(t, open)
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub()
	c := hub.Register()
	for i := 0; i < cap(c.Send)+5; i++ {
		hub.Broadcast([]byte("x"))
	}
	assert.Len(t, c.Send, cap(c.Send))
}
