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
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/common"
)

// Broadcaster delivers decoded availability events to locally-registered
// subscribers
type Broadcaster interface {
	// Deliver push one event to every local subscriber of the topic and of
	// the reserved ALL topic. A failing send deregisters that subscriber and
	// never blocks delivery to the rest.
	Deliver(topic string, event AvailabilityEvent)
}

// broadcasterImpl implements Broadcaster
type broadcasterImpl struct {
	common.Component
	registry ConnectionRegistry
}

// GetBroadcaster define a new Broadcaster over a connection registry
func GetBroadcaster(registry ConnectionRegistry, instance string) (Broadcaster, error) {
	logTags := log.Fields{
		"module":    "broadcast",
		"component": "broadcaster",
		"instance":  instance,
	}
	return &broadcasterImpl{
		Component: common.Component{LogTags: logTags},
		registry:  registry,
	}, nil
}

// Deliver push one event to every local subscriber of the topic
func (b *broadcasterImpl) Deliver(topic string, event AvailabilityEvent) {
	topicKey := NormalizeTopic(topic)
	targets := b.registry.broadcastTargets(topicKey)
	if len(targets) == 0 {
		log.WithFields(b.LogTags).Debugf("No local subscribers for %s", topicKey)
		return
	}

	envelope := UpdateMessage{
		Type:      MsgTypeUpdate,
		Route:     topicKey,
		Data:      event,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(&envelope)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Failed to serialize update for %s", topicKey,
		)
		return
	}

	delivered := 0
	for clientID, conn := range targets {
		if err := conn.Send(payload); err != nil {
			// Send failure means a dead connection. Drop it and keep going,
			// one bad subscriber must not starve the others.
			log.WithError(err).WithFields(b.LogTags).Warnf(
				"Send to client %s failed. Deregistering", clientID,
			)
			b.registry.Deregister(clientID)
			continue
		}
		delivered++
	}
	log.WithFields(b.LogTags).Debugf(
		"Delivered %s update to %d/%d subscribers", topicKey, delivered, len(targets),
	)
}
