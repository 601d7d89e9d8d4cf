package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchOrder(t *testing.T) {
	d := NewDispatcher[int]()
	var order []string
	d.Subscribe(func(value int) { order = append(order, "first") })
	d.Subscribe(func(value int) { order = append(order, "second") })
	d.Subscribe(func(value int) { order = append(order, "third") })
	d.Dispatch(0)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDispatchValue(t *testing.T) {
	d := NewDispatcher[string]()
	var got string
	d.Subscribe(func(value string) { got = value })
	d.Dispatch("hello")
	assert.Equal(t, "hello", got)
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher[int]()
	count := 0
	id := d.Subscribe(func(value int) { count++ })
	assert.Equal(t, 1, d.Len())
	d.Dispatch(0)
	assert.True(t, d.Unsubscribe(id))
	d.Dispatch(0)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Unsubscribe(id))
}

func TestSubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher[int]()
	lateFired := false
	d.Subscribe(func(value int) {
		// Registering mid dispatch must not fire in the same dispatch
		// and must not invalidate the in flight iteration
		d.Subscribe(func(value int) { lateFired = true })
	})
	d.Dispatch(0)
	assert.False(t, lateFired)
	assert.Equal(t, 2, d.Len())
	d.Dispatch(0)
	assert.True(t, lateFired)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher[int]()
	var ids []int
	fired := make([]int, 3)
	for i := 0; i < 3; i++ {
		i := i
		ids = append(ids, d.Subscribe(func(value int) {
			fired[i]++
			// Each listener removes the next one mid dispatch
			if i < 2 {
				d.Unsubscribe(ids[i+1])
			}
		}))
	}
	d.Dispatch(0)
	// The snapshot taken at dispatch time still fires everyone once
	assert.Equal(t, []int{1, 1, 1}, fired)
	d.Dispatch(0)
	assert.Equal(t, []int{2, 1, 1}, fired)
}
