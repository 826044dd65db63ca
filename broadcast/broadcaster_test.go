package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestBroadcasterDelivery(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry, err := GetConnectionRegistry("ut-broadcaster")
	assert.Nil(err)
	uut, err := GetBroadcaster(registry, "ut-broadcaster")
	assert.Nil(err)

	subscriber := &testConnection{}
	subscriberID, err := registry.Register(subscriber)
	assert.Nil(err)
	registry.Subscribe(subscriberID, []string{"Tunis Marseille"})

	wildcard := &testConnection{}
	wildcardID, err := registry.Register(wildcard)
	assert.Nil(err)
	registry.Subscribe(wildcardID, []string{"all"})

	bystander := &testConnection{}
	bystanderID, err := registry.Register(bystander)
	assert.Nil(err)
	registry.Subscribe(bystanderID, []string{"Tunis Genoa"})

	event := AvailabilityEvent{
		FerryID:       "CTN-001",
		Topic:         "TUNIS-MARSEILLE",
		DepartureTime: time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC),
		Availability:  map[string]int{"seats": 120, "vehicles": 14},
		Source:        SourceInternal,
		UpdatedAt:     time.Now().UTC(),
	}

	// Case 0: topic subscribers and ALL subscribers receive, no one else
	uut.Deliver("tunis marseille", event)
	{
		msgs := subscriber.messages()
		assert.Len(msgs, 2)
		var update UpdateMessage
		assert.Nil(json.Unmarshal(msgs[1], &update))
		assert.Equal(MsgTypeUpdate, update.Type)
		assert.Equal("TUNIS-MARSEILLE", update.Route)
		assert.Equal(event.FerryID, update.Data.FerryID)
		assert.Equal(event.Availability, update.Data.Availability)
		assert.False(update.Timestamp.IsZero())
	}
	assert.Len(wildcard.messages(), 2)
	assert.Len(bystander.messages(), 1)

	// Case 1: delivery on a topic with no subscribers is a no-op
	uut.Deliver("MARSEILLE-GENOA", event)
	assert.Len(subscriber.messages(), 2)
	assert.Len(wildcard.messages(), 3)

	// Case 2: a failing subscriber is deregistered, the rest still receive
	subscriber.failSend = true
	uut.Deliver("TUNIS-MARSEILLE", event)
	assert.Len(wildcard.messages(), 4)
	stats := registry.Stats()
	assert.Equal(2, stats.ActiveConnections)
	_, present := stats.Subscriptions["TUNIS-MARSEILLE"]
	assert.False(present)

	// Case 3: the dead subscriber stays gone on subsequent deliveries
	uut.Deliver("TUNIS-MARSEILLE", event)
	assert.Len(wildcard.messages(), 5)
	assert.Equal(2, registry.Stats().ActiveConnections)
}
