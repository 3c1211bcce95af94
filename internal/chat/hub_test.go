package chat_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/broadcast-relay/internal/chat"
)

func TestHub_Register(t *testing.T) {
	hub := chat.NewHub()

	hub.Register(newMockConn("a"))

	assert.Equal(t, 1, hub.Count())
}

func TestHub_Register_MultipleClients(t *testing.T) {
	hub := chat.NewHub()

	for i := 0; i < 3; i++ {
		hub.Register(newMockConn(fmt.Sprintf("conn-%d", i)))
	}

	assert.Equal(t, 3, hub.Count())
}

func TestHub_Unregister(t *testing.T) {
	hub := chat.NewHub()
	a := newMockConn("a")
	b := newMockConn("b")
	hub.Register(a)
	hub.Register(b)

	hub.Unregister(a)

	require.Equal(t, 1, hub.Count())
	snapshot := hub.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "b", snapshot[0].ID())
}

func TestHub_Unregister_NeverRegistered(t *testing.T) {
	hub := chat.NewHub()
	hub.Register(newMockConn("a"))

	assert.NotPanics(t, func() {
		hub.Unregister(newMockConn("ghost"))
	})
	assert.Equal(t, 1, hub.Count())
}

func TestHub_Unregister_Twice(t *testing.T) {
	hub := chat.NewHub()
	a := newMockConn("a")
	hub.Register(a)

	hub.Unregister(a)
	hub.Unregister(a)

	assert.Equal(t, 0, hub.Count())
}

func TestHub_Snapshot_IsDetached(t *testing.T) {
	hub := chat.NewHub()
	hub.Register(newMockConn("a"))
	hub.Register(newMockConn("b"))

	snapshot := hub.Snapshot()
	hub.Register(newMockConn("c"))
	hub.Unregister(newMockConn("a"))

	assert.Len(t, snapshot, 2)
	ids := []string{snapshot[0].ID(), snapshot[1].ID()}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Equal(t, 2, hub.Count())
}

func TestHub_Snapshot_Empty(t *testing.T) {
	hub := chat.NewHub()

	assert.Empty(t, hub.Snapshot())
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := chat.NewHub()
	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newMockConn(fmt.Sprintf("conn-%d", i))
			for j := 0; j < 100; j++ {
				hub.Register(conn)
				_ = hub.Snapshot()
				_ = hub.Count()
				hub.Unregister(conn)
			}
			hub.Register(conn)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, hub.Count())
}
