package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishFansOutInOrder(t *testing.T) {
	bus := NewBus[int]()
	var mu sync.Mutex
	var got []int

	bus.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v*10)
		mu.Unlock()
	})
	bus.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v*100)
		mu.Unlock()
	})

	bus.Publish(3)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{30, 300}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus[string]()
	calls := 0
	id := bus.Subscribe(func(string) { calls++ })

	bus.Publish("a")
	assert.Equal(t, 1, calls)

	bus.Unsubscribe(id)
	bus.Publish("b")
	assert.Equal(t, 1, calls, "unsubscribed handler must not fire again")
}

func TestBus_UnsubscribeUnknownIDIsNoop(t *testing.T) {
	bus := NewBus[int]()
	assert.NotPanics(t, func() { bus.Unsubscribe(ListenerID(999)) })
}

func TestBus_Len(t *testing.T) {
	bus := NewBus[int]()
	assert.Equal(t, 0, bus.Len())
	id1 := bus.Subscribe(func(int) {})
	bus.Subscribe(func(int) {})
	assert.Equal(t, 2, bus.Len())
	bus.Unsubscribe(id1)
	assert.Equal(t, 1, bus.Len())
}

// TestBus_ReentrantSubscribeDoesNotDeadlock exercises the snapshot-before-invoke
// rule: a handler that subscribes a new listener during Publish must not
// deadlock, and the new listener must not see the in-flight event.
func TestBus_ReentrantSubscribeDoesNotDeadlock(t *testing.T) {
	bus := NewBus[int]()
	var mu sync.Mutex
	var secondCalls int

	bus.Subscribe(func(int) {
		mu.Lock()
		bus.Subscribe(func(int) { secondCalls++ })
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(1)
		close(done)
	}()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, secondCalls, "listener added mid-publish should not see the in-flight event")
	assert.Equal(t, 2, bus.Len())
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	assert.NotNil(t, hub.BarcodeReceived)
	assert.NotNil(t, hub.TaskSucceeded)
	assert.NotNil(t, hub.TaskFailed)
	assert.NotNil(t, hub.TaskCancelled)
	assert.NotNil(t, hub.DeviceStatusChanged)

	var got BarcodeReceived
	hub.BarcodeReceived.Subscribe(func(ev BarcodeReceived) { got = ev })
	hub.BarcodeReceived.Publish(BarcodeReceived{DeviceID: "d1", TaskID: "t1", Barcode: "1234567890"})
	assert.Equal(t, "d1", got.DeviceID)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, "1234567890", got.Barcode)
}
