package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

// testBusPublisher fake BusPublisher forwarding publishes to a channel
type testBusPublisher struct {
	published chan busRecord
	failNext  bool
}

type busRecord struct {
	subject string
	payload []byte
}

func (b *testBusPublisher) Publish(subject string, payload []byte) error {
	if b.failNext {
		b.failNext = false
		return fmt.Errorf("bus unavailable")
	}
	b.published <- busRecord{subject: subject, payload: payload}
	return nil
}

func TestInstantPublisher(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	defer goleak.VerifyNone(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	bus := &testBusPublisher{published: make(chan busRecord, 8)}
	uut, err := GetInstantPublisher(bus, "availability", 8, utCtxt)
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))

	// Case 0: PublishNow lands on the topic channel with internal source
	departure := time.Date(2026, 9, 2, 6, 45, 0, 0, time.UTC)
	uut.PublishNow(
		"tunis marseille", "CTN-001", departure, map[string]int{"seats": 98, "vehicles": 11},
	)
	{
		record := <-bus.published
		assert.Equal("availability.TUNIS-MARSEILLE", record.subject)
		var event AvailabilityEvent
		assert.Nil(json.Unmarshal(record.payload, &event))
		assert.Equal("CTN-001", event.FerryID)
		assert.Equal("TUNIS-MARSEILLE", event.Topic)
		assert.Equal(SourceInternal, event.Source)
		assert.Equal(map[string]int{"seats": 98, "vehicles": 11}, event.Availability)
		assert.True(departure.Equal(event.DepartureTime))
		assert.False(event.UpdatedAt.IsZero())
	}

	// Case 1: a bus failure is swallowed and later publishes still flow
	bus.failNext = true
	uut.PublishNow("tunis marseille", "CTN-001", departure, map[string]int{"seats": 97})
	uut.PublishNow("tunis genoa", "CTN-002", departure, map[string]int{"seats": 200})
	{
		record := <-bus.published
		assert.Equal("availability.TUNIS-GENOA", record.subject)
	}

	// Case 2: an event without a topic is rejected before queueing
	assert.NotNil(uut.PublishEvent(AvailabilityEvent{FerryID: "CTN-003"}))

	// Case 3: PublishEvent carries a prebuilt event through unchanged
	external := AvailabilityEvent{
		FerryID:       "CTN-004",
		Topic:         "MARSEILLE-GENOA",
		DepartureTime: departure,
		Availability:  map[string]int{"cabins": 4},
		Source:        SourceExternal,
		UpdatedAt:     time.Now().UTC(),
	}
	assert.Nil(uut.PublishEvent(external))
	{
		record := <-bus.published
		assert.Equal("availability.MARSEILLE-GENOA", record.subject)
		var event AvailabilityEvent
		assert.Nil(json.Unmarshal(record.payload, &event))
		assert.Equal(SourceExternal, event.Source)
		assert.Equal("CTN-004", event.FerryID)
	}

	assert.Nil(uut.Stop())
}
