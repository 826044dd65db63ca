package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/broadcast"
	"github.com/stretchr/testify/assert"
)

// testOperatorSource fake OperatorSource with per-topic canned responses and
// scriptable failure counts
type testOperatorSource struct {
	lock     sync.Mutex
	sailings map[string][]SailingAvailability
	failures map[string]int
	fetchLog []string
}

func (s *testOperatorSource) FetchAvailability(
	ctxt context.Context, topic string,
) ([]SailingAvailability, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fetchLog = append(s.fetchLog, topic)
	if s.failures[topic] > 0 {
		s.failures[topic]--
		return nil, fmt.Errorf("operator unavailable for %s", topic)
	}
	return s.sailings[topic], nil
}

func (s *testOperatorSource) fetchCount(topic string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	count := 0
	for _, fetched := range s.fetchLog {
		if fetched == topic {
			count++
		}
	}
	return count
}

// testEventPublisher fake EventPublisher recording published events
type testEventPublisher struct {
	lock      sync.Mutex
	published []broadcast.AvailabilityEvent
	failNext  bool
}

func (p *testEventPublisher) PublishEvent(event broadcast.AvailabilityEvent) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.failNext {
		p.failNext = false
		return fmt.Errorf("publish queue full")
	}
	p.published = append(p.published, event)
	return nil
}

func (p *testEventPublisher) events() []broadcast.AvailabilityEvent {
	p.lock.Lock()
	defer p.lock.Unlock()
	result := make([]broadcast.AvailabilityEvent, len(p.published))
	copy(result, p.published)
	return result
}

func TestReconciliationCycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	defer wg.Wait()
	defer utCtxtCancel()

	departure := time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC)
	source := &testOperatorSource{
		sailings: map[string][]SailingAvailability{
			"TUNIS-MARSEILLE": {
				{
					FerryID:       "CTN-001",
					DepartureTime: departure,
					Availability:  map[string]int{"seats": 120, "vehicles": 14},
				},
				{
					FerryID:       "CTN-002",
					DepartureTime: departure.Add(time.Hour * 6),
					Availability:  map[string]int{"seats": 200},
				},
			},
		},
		failures: map[string]int{},
	}
	publisher := &testEventPublisher{}
	cache, err := GetSnapshotCache(time.Minute)
	assert.Nil(err)

	uut, err := GetReconciliationPoller(
		source, cache, publisher, []string{"tunis marseille"}, 3, utCtxt, &wg,
	)
	assert.Nil(err)

	// Case 0: first cycle publishes every sailing as a change
	assert.Nil(uut.RunCycle(utCtxt))
	{
		events := publisher.events()
		assert.Len(events, 2)
		assert.Equal("CTN-001", events[0].FerryID)
		assert.Equal("TUNIS-MARSEILLE", events[0].Topic)
		assert.Equal(broadcast.SourceExternal, events[0].Source)
		assert.Equal(map[string]int{"seats": 120, "vehicles": 14}, events[0].Availability)
	}

	// Case 1: identical data on the next cycle publishes nothing
	assert.Nil(uut.RunCycle(utCtxt))
	assert.Len(publisher.events(), 2)

	// Case 2: a changed sailing is republished, unchanged ones are not
	source.sailings["TUNIS-MARSEILLE"][0].Availability = map[string]int{
		"seats": 118, "vehicles": 14,
	}
	assert.Nil(uut.RunCycle(utCtxt))
	{
		events := publisher.events()
		assert.Len(events, 3)
		assert.Equal("CTN-001", events[2].FerryID)
		assert.Equal(map[string]int{"seats": 118, "vehicles": 14}, events[2].Availability)
	}

	// Case 3: a publish failure leaves the cache stale for retry next cycle
	source.sailings["TUNIS-MARSEILLE"][1].Availability = map[string]int{"seats": 198}
	publisher.failNext = true
	assert.Nil(uut.RunCycle(utCtxt))
	assert.Len(publisher.events(), 3)
	assert.Nil(uut.RunCycle(utCtxt))
	{
		events := publisher.events()
		assert.Len(events, 4)
		assert.Equal("CTN-002", events[3].FerryID)
	}
}

func TestReconciliationFetchFailures(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	defer wg.Wait()
	defer utCtxtCancel()

	departure := time.Date(2026, 9, 4, 7, 15, 0, 0, time.UTC)
	source := &testOperatorSource{
		sailings: map[string][]SailingAvailability{
			"TUNIS-MARSEILLE": {
				{FerryID: "CTN-001", DepartureTime: departure, Availability: map[string]int{"seats": 50}},
			},
			"TUNIS-GENOA": {
				{FerryID: "CTN-009", DepartureTime: departure, Availability: map[string]int{"seats": 75}},
			},
		},
		failures: map[string]int{},
	}
	publisher := &testEventPublisher{}
	cache, err := GetSnapshotCache(time.Minute)
	assert.Nil(err)

	uut, err := GetReconciliationPoller(
		source, cache, publisher, []string{"TUNIS-MARSEILLE", "TUNIS-GENOA"}, 3, utCtxt, &wg,
	)
	assert.Nil(err)

	// Case 0: one flaky topic recovers within the retry budget
	source.failures["TUNIS-MARSEILLE"] = 2
	assert.Nil(uut.RunCycle(utCtxt))
	assert.Equal(3, source.fetchCount("TUNIS-MARSEILLE"))
	assert.Len(publisher.events(), 2)

	// Case 1: a topic exhausting its budget is skipped, the rest still reconcile
	source.failures["TUNIS-MARSEILLE"] = 3
	source.sailings["TUNIS-MARSEILLE"][0].Availability = map[string]int{"seats": 49}
	source.sailings["TUNIS-GENOA"][0].Availability = map[string]int{"seats": 74}
	assert.Nil(uut.RunCycle(utCtxt))
	{
		events := publisher.events()
		assert.Len(events, 3)
		assert.Equal("CTN-009", events[2].FerryID)
	}

	// Case 2: the skipped change surfaces on the next healthy cycle
	assert.Nil(uut.RunCycle(utCtxt))
	{
		events := publisher.events()
		assert.Len(events, 4)
		assert.Equal("CTN-001", events[3].FerryID)
		assert.Equal(map[string]int{"seats": 49}, events[3].Availability)
	}

	// Case 3: a cancelled context aborts the cycle
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotNil(uut.RunCycle(cancelled))
}
