package events

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishJSON(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bus := NewEventBus(&logger)

	var got []BookingPayload
	var ids []int64
	bus.Subscribe(TypeBookingCreated, func(ev Event) error {
		var p BookingPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		got = append(got, p)
		ids = append(ids, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
		return nil
	})

	require.NoError(t, bus.PublishJSON(TypeBookingCreated, BookingPayload{BookingID: 1, SlotID: 7, Owner: "CLIENT-AAAAAAAA"}))
	require.NoError(t, bus.PublishJSON(TypeBookingCreated, BookingPayload{BookingID: 2, SlotID: 8}))
	require.NoError(t, bus.PublishJSON(TypeBookingCancelled, BookingPayload{BookingID: 1}))

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].SlotID)
	assert.Equal(t, "CLIENT-AAAAAAAA", got[0].Owner)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestEventBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus(nil)

	calls := 0
	bus.Subscribe(TypeBookingCancelled, func(Event) error {
		calls++
		return errors.New("boom")
	})
	bus.Subscribe(TypeBookingCancelled, func(Event) error {
		calls++
		return nil
	})

	bus.Publish(Event{Type: TypeBookingCancelled})
	assert.Equal(t, 2, calls)
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus(nil)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	bus.Subscribe(TypeBookingCreated, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.ID] = true
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: TypeBookingCreated})
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}
