package eventbus_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
)

func TestDispatchDeliversToRegisteredHandlersInOrder(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var order []string

	bus.Register(eventbus.HandlerFunc{IDStr: "a", Fn: func(eventbus.Event) error {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return nil
	}})
	bus.Register(eventbus.HandlerFunc{IDStr: "b", Fn: func(eventbus.Event) error {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return nil
	}})

	bus.Dispatch(eventbus.Event{Table: kv.TableSchemas, RowID: 1, Op: eventbus.OpInsert})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestHandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := eventbus.New()
	var called bool
	bus.Register(eventbus.HandlerFunc{IDStr: "broken", Fn: func(eventbus.Event) error {
		return errors.New("boom")
	}})
	bus.Register(eventbus.HandlerFunc{IDStr: "ok", Fn: func(eventbus.Event) error {
		called = true
		return nil
	}})

	bus.Dispatch(eventbus.Event{Table: kv.TableSchemas, RowID: 1, Op: eventbus.OpInsert})
	assert.True(t, called, "a later handler must still run after an earlier one errors")
}

func TestUnregisterRemovesHandler(t *testing.T) {
	bus := eventbus.New()
	var called bool
	bus.Register(eventbus.HandlerFunc{IDStr: "h", Fn: func(eventbus.Event) error {
		called = true
		return nil
	}})
	assert.True(t, bus.Unregister("h"))
	assert.False(t, bus.Unregister("h"), "unregistering twice reports no-op")

	bus.Dispatch(eventbus.Event{Table: kv.TableSchemas, RowID: 1, Op: eventbus.OpInsert})
	assert.False(t, called)
}

func TestSubscribeReceivesDispatchedEvents(t *testing.T) {
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Dispatch(eventbus.Event{Table: kv.TableJobs, RowID: 9, Op: eventbus.OpDelete})

	select {
	case ev := <-ch:
		assert.Equal(t, kv.RowID(9), ev.RowID)
		assert.Equal(t, eventbus.OpDelete, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive dispatched event")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(1)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSlowSubscriberDropsRatherThanBlocksDispatch(t *testing.T) {
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Dispatch(eventbus.Event{Table: kv.TableJobs, RowID: kv.RowID(i), Op: eventbus.OpInsert})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow subscriber instead of dropping")
	}
	<-ch // drain whatever made it through without asserting which one
}

func TestOpString(t *testing.T) {
	require.Equal(t, "insert", eventbus.OpInsert.String())
	require.Equal(t, "update", eventbus.OpUpdate.String())
	require.Equal(t, "delete", eventbus.OpDelete.String())
}
