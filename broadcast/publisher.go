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

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/common"
)

// BusPublisher writes payloads onto the shared fan-out bus.
// core.NatsClient satisfies this.
type BusPublisher interface {
	Publish(subject string, payload []byte) error
}

// InstantPublisher publishes availability change events onto the bus without
// blocking the caller. The booking workflow calls PublishNow right after a
// capacity-changing mutation commits; a publish failure is logged and
// swallowed since the reconciliation poller is the safety net.
type InstantPublisher interface {
	// Start starts the outbound publish task
	Start(wg *sync.WaitGroup) error
	// Stop stops the outbound publish task
	Stop() error
	// PublishNow enqueue an internal-source event. Fire-and-forget: never
	// returns an error to the booking caller.
	PublishNow(topic, ferryID string, departureTime time.Time, availability map[string]int)
	// PublishEvent enqueue a fully-formed event. Fails only if the outbound
	// queue is full.
	PublishEvent(event AvailabilityEvent) error
}

// publishEventTask outbound queue entry
type publishEventTask struct {
	event AvailabilityEvent
}

// instantPublisherImpl implements InstantPublisher
type instantPublisherImpl struct {
	common.Component
	bus           BusPublisher
	channelPrefix string
	tp            common.TaskProcessor
}

// GetInstantPublisher define a new InstantPublisher
func GetInstantPublisher(
	bus BusPublisher, channelPrefix string, queueDepth int, ctxt context.Context,
) (InstantPublisher, error) {
	logTags := log.Fields{
		"module":    "broadcast",
		"component": "instant-publisher",
	}
	tp, err := common.GetNewTaskProcessorInstance("bus-publish", queueDepth, ctxt)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instance := &instantPublisherImpl{
		Component:     common.Component{LogTags: logTags},
		bus:           bus,
		channelPrefix: channelPrefix,
		tp:            tp,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(publishEventTask{}), instance.processPublishEventTask,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// Start starts the outbound publish task
func (p *instantPublisherImpl) Start(wg *sync.WaitGroup) error {
	return p.tp.StartEventLoop(wg)
}

// Stop stops the outbound publish task
func (p *instantPublisherImpl) Stop() error {
	return p.tp.StopEventLoop()
}

// PublishNow enqueue an internal-source event without blocking the caller
func (p *instantPublisherImpl) PublishNow(
	topic, ferryID string, departureTime time.Time, availability map[string]int,
) {
	event := AvailabilityEvent{
		FerryID:       ferryID,
		Topic:         NormalizeTopic(topic),
		DepartureTime: departureTime,
		Availability:  availability,
		Source:        SourceInternal,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.PublishEvent(event); err != nil {
		// Swallowed. The booking transaction must never fail on bus trouble.
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Dropped instant publish for %s/%s", event.Topic, ferryID,
		)
	}
}

// PublishEvent enqueue a fully-formed event
func (p *instantPublisherImpl) PublishEvent(event AvailabilityEvent) error {
	if event.Topic == "" {
		return fmt.Errorf("availability event missing topic")
	}
	return p.tp.TrySubmit(publishEventTask{event: event})
}

// processPublishEventTask publish one queued event onto its bus channel
func (p *instantPublisherImpl) processPublishEventTask(param interface{}) error {
	task, ok := param.(publishEventTask)
	if !ok {
		return fmt.Errorf("received unexpected task param %s", reflect.TypeOf(param))
	}
	channel := ChannelName(p.channelPrefix, task.event.Topic)
	payload, err := json.Marshal(&task.event)
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Failed to serialize event for %s", channel,
		)
		return nil
	}
	if err := p.bus.Publish(channel, payload); err != nil {
		// Logged, not propagated. Reconciliation will surface the change.
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Bus publish on %s failed", channel,
		)
	} else {
		log.WithFields(p.LogTags).Debugf(
			"Published %s event on %s", task.event.Source, channel,
		)
	}
	return nil
}
