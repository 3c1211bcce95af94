package transport_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/broadcast-relay/internal/chat"
	"github.com/omochice/broadcast-relay/internal/transport"
)

func TestOutbox_PushAndDrain(t *testing.T) {
	box := transport.NewOutbox(2)
	require.NoError(t, box.Push([]byte("a")))
	require.NoError(t, box.Push([]byte("b")))

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- box.Drain(func(data []byte) error {
			got <- string(data)
			return nil
		})
	}()

	assert.Equal(t, "a", <-got)
	assert.Equal(t, "b", <-got)

	box.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after Close")
	}
}

func TestOutbox_Full(t *testing.T) {
	box := transport.NewOutbox(1)

	require.NoError(t, box.Push([]byte("a")))
	assert.ErrorIs(t, box.Push([]byte("b")), chat.ErrSendQueueFull)
}

func TestOutbox_PushAfterClose(t *testing.T) {
	box := transport.NewOutbox(1)

	assert.True(t, box.Close())
	assert.False(t, box.Close())
	assert.ErrorIs(t, box.Push([]byte("a")), chat.ErrConnClosed)
}

func TestOutbox_DrainStopsOnWriteError(t *testing.T) {
	box := transport.NewOutbox(1)
	require.NoError(t, box.Push([]byte("a")))
	boom := errors.New("boom")

	err := box.Drain(func([]byte) error { return boom })

	assert.ErrorIs(t, err, boom)
}
