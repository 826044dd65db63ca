// Copyright 2025-2026 The medferry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
)

// EventPublisher hands detected changes to the bus publish path.
// broadcast.InstantPublisher satisfies this.
type EventPublisher interface {
	PublishEvent(event broadcast.AvailabilityEvent) error
}

// ReconciliationPoller periodically diffs external operator availability
// against the snapshot cache and republishes on change. This is the fallback
// path catching mutations made outside the platform, and the safety net for
// lost instant publishes.
type ReconciliationPoller interface {
	// Start begin running reconciliation cycles at the poll interval
	Start(interval time.Duration) error
	// Stop stop the cycle schedule
	Stop() error
	// RunCycle run one reconciliation cycle over all monitored topics.
	// Per-topic failures are skipped, never aborting the rest of the cycle.
	RunCycle(ctxt context.Context) error
}

// reconciliationPollerImpl implements ReconciliationPoller
type reconciliationPollerImpl struct {
	common.Component
	source          OperatorSource
	cache           SnapshotCache
	publisher       EventPublisher
	topics          []string
	maxFetchAttempt int
	timer           common.IntervalTimer
	rootContext     context.Context
}

// GetReconciliationPoller define a new ReconciliationPoller
func GetReconciliationPoller(
	source OperatorSource,
	cache SnapshotCache,
	publisher EventPublisher,
	monitoredTopics []string,
	maxFetchAttempt int,
	ctxt context.Context,
	wg *sync.WaitGroup,
) (ReconciliationPoller, error) {
	logTags := log.Fields{
		"module":    "reconcile",
		"component": "poller",
	}
	timer, err := common.GetIntervalTimerInstance("reconcile-cycle", ctxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define cycle timer")
		return nil, err
	}
	return &reconciliationPollerImpl{
		Component:       common.Component{LogTags: logTags},
		source:          source,
		cache:           cache,
		publisher:       publisher,
		topics:          broadcast.NormalizeTopics(monitoredTopics),
		maxFetchAttempt: maxFetchAttempt,
		timer:           timer,
		rootContext:     ctxt,
	}, nil
}

// Start begin running reconciliation cycles at the poll interval
func (p *reconciliationPollerImpl) Start(interval time.Duration) error {
	log.WithFields(p.LogTags).Infof("Monitoring %d topics", len(p.topics))
	return p.timer.Start(interval, func() error {
		return p.RunCycle(p.rootContext)
	}, false)
}

// Stop stop the cycle schedule
func (p *reconciliationPollerImpl) Stop() error {
	return p.timer.Stop()
}

// RunCycle run one reconciliation cycle over all monitored topics
func (p *reconciliationPollerImpl) RunCycle(ctxt context.Context) error {
	published := 0
	for _, topic := range p.topics {
		if ctxt.Err() != nil {
			return ctxt.Err()
		}
		sailings, err := p.fetchWithRetry(ctxt, topic)
		if err != nil {
			// Skipped until the next scheduled cycle
			log.WithError(err).WithFields(p.LogTags).Errorf(
				"Abandoning topic %s this cycle", topic,
			)
			continue
		}
		published += p.reconcileTopic(topic, sailings)
	}
	log.WithFields(p.LogTags).Infof("Cycle complete. Published %d change events", published)
	return nil
}

// fetchWithRetry query the operator source for one topic within the per-cycle
// retry budget
func (p *reconciliationPollerImpl) fetchWithRetry(
	ctxt context.Context, topic string,
) ([]SailingAvailability, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxFetchAttempt; attempt++ {
		sailings, err := p.source.FetchAvailability(ctxt, topic)
		if err == nil {
			return sailings, nil
		}
		lastErr = err
		log.WithError(err).WithFields(p.LogTags).Warnf(
			"Fetch %s attempt %d/%d failed", topic, attempt, p.maxFetchAttempt,
		)
	}
	return nil, lastErr
}

// reconcileTopic diff one topic's sailings against the snapshot cache,
// publishing an external-source event per changed sailing
func (p *reconciliationPollerImpl) reconcileTopic(
	topic string, sailings []SailingAvailability,
) int {
	published := 0
	for _, sailing := range sailings {
		snapshot, err := canonicalSnapshot(sailing)
		if err != nil {
			log.WithError(err).WithFields(p.LogTags).Errorf(
				"Failed to serialize snapshot for %s/%s", topic, sailing.FerryID,
			)
			continue
		}
		previous, found := p.cache.Get(topic, sailing.FerryID)
		if found && previous == snapshot {
			continue
		}
		event := broadcast.AvailabilityEvent{
			FerryID:       sailing.FerryID,
			Topic:         topic,
			DepartureTime: sailing.DepartureTime,
			Availability:  sailing.Availability,
			Source:        broadcast.SourceExternal,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := p.publisher.PublishEvent(event); err != nil {
			// Cache entry left stale so the change is retried next cycle
			log.WithError(err).WithFields(p.LogTags).Errorf(
				"Failed to publish change for %s/%s", topic, sailing.FerryID,
			)
			continue
		}
		p.cache.Put(topic, sailing.FerryID, snapshot)
		published++
	}
	return published
}

// canonicalSnapshot serialize a sailing's availability for change detection.
// JSON object keys marshal in sorted order, so equal maps always serialize
// identically.
func canonicalSnapshot(sailing SailingAvailability) (string, error) {
	serialized, err := json.Marshal(sailing.Availability)
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}
