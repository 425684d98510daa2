package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFansOutAndDropsWhenFull(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(EventJobCompleted, 1)
	b, unsubB := bus.Subscribe(EventJobCompleted, 2)
	defer unsubB()

	bus.Publish(EventJobCompleted, 1)
	bus.Publish(EventJobCompleted, 2)
	bus.Publish(EventTradeExecuted, "other topic")

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 1, <-b)
	assert.Equal(t, 2, <-b)
	assert.Equal(t, uint64(1), bus.Dropped())

	unsubA()
	unsubA()
	_, open := <-a
	require.False(t, open)
}
