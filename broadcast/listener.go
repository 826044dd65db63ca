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
	"sync"

	"github.com/apex/log"
	"github.com/medferry/availability/common"
	"github.com/medferry/availability/core"
	"github.com/nats-io/nats.go"
)

// BusListener per-instance background task converting inbound bus messages
// into local broadcasts.
//
// If this task dies the instance silently stops receiving updates, so it only
// exits on context cancel. Bus connection loss is handled by the NATS client's
// reconnect-with-backoff; subscriptions survive reconnects.
type BusListener interface {
	// Start subscribe to the availability channel pattern and begin the
	// read loop
	Start(wg *sync.WaitGroup) error
}

// busListenerImpl implements BusListener
type busListenerImpl struct {
	common.Component
	client        *core.NatsClient
	broadcaster   Broadcaster
	channelPrefix string
	lock          *sync.Mutex
	started       bool
	ctxt          context.Context
}

// GetBusListener define a new BusListener
func GetBusListener(
	client *core.NatsClient,
	broadcaster Broadcaster,
	channelPrefix string,
	ctxt context.Context,
) (BusListener, error) {
	logTags := log.Fields{
		"module":    "broadcast",
		"component": "bus-listener",
		"pattern":   ChannelPattern(channelPrefix),
	}
	return &busListenerImpl{
		Component:     common.Component{LogTags: logTags},
		client:        client,
		broadcaster:   broadcaster,
		channelPrefix: channelPrefix,
		lock:          &sync.Mutex{},
		started:       false,
		ctxt:          ctxt,
	}, nil
}

// Start subscribe to the availability channel pattern and begin the read loop
func (l *busListenerImpl) Start(wg *sync.WaitGroup) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.started {
		return fmt.Errorf("already started")
	}

	msgChan := make(chan *nats.Msg, 64)
	sub, err := l.client.ChanSubscribe(ChannelPattern(l.channelPrefix), msgChan)
	if err != nil {
		log.WithError(err).WithFields(l.LogTags).Error("Unable to subscribe on bus")
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithFields(l.LogTags).Info("Starting bus read loop")
		defer log.WithFields(l.LogTags).Info("Stopping bus read loop")
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				log.WithError(err).WithFields(l.LogTags).Error("Unsubscribe failed")
			}
		}()
		for {
			select {
			case <-l.ctxt.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					log.WithFields(l.LogTags).Error("Bus message channel closed")
					return
				}
				l.processBusMessage(msg.Subject, msg.Data)
			}
		}
	}()

	l.started = true
	return nil
}

// processBusMessage parse one inbound bus message and hand it to the
// broadcaster. Malformed payloads are logged and dropped, never fatal.
func (l *busListenerImpl) processBusMessage(subject string, payload []byte) {
	topic, err := TopicFromChannel(l.channelPrefix, subject)
	if err != nil {
		log.WithError(err).WithFields(l.LogTags).Warnf("Dropping message on %s", subject)
		return
	}
	var event AvailabilityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.WithError(err).WithFields(l.LogTags).Warnf(
			"Dropping malformed payload on %s", subject,
		)
		return
	}
	if event.Topic == "" {
		event.Topic = topic
	}
	l.broadcaster.Deliver(topic, event)
}
