package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEvent struct {
	key   Key
	value int
}

func (e testEvent) Key() Key { return e.key }

func TestPublishToKey(t *testing.T) {
	var h Hub
	var got []int
	h.Subscribe("a", func(e Event) { got = append(got, e.(testEvent).value) })
	h.Publish(testEvent{"a", 1})
	h.Publish(testEvent{"b", 2})
	assert.Equal(t, []int{1}, got)
}

func TestWildcard(t *testing.T) {
	var h Hub
	var got []Key
	h.Subscribe(All, func(e Event) { got = append(got, e.Key()) })
	h.Publish(testEvent{"a", 1})
	h.Publish(testEvent{"b", 2})
	assert.Equal(t, []Key{"a", "b"}, got)
}

func TestCancel(t *testing.T) {
	var h Hub
	calls := 0
	cancel := h.Subscribe("a", func(Event) { calls++ })
	h.Publish(testEvent{"a", 1})
	cancel()
	cancel()
	h.Publish(testEvent{"a", 2})
	assert.Equal(t, 1, calls)
	assert.Zero(t, h.Subscribers("a"))
}

func TestCancelInsideHandler(t *testing.T) {
	var h Hub
	calls := 0
	var cancel func()
	cancel = h.Subscribe("a", func(Event) {
		calls++
		cancel()
	})
	other := 0
	h.Subscribe("a", func(Event) { other++ })
	h.Publish(testEvent{"a", 1})
	h.Publish(testEvent{"a", 2})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
	assert.Equal(t, 1, h.Subscribers("a"))
}
