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
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/medferry/availability/common"
)

// ClientConnection transport-facing handle of one live client session
type ClientConnection interface {
	// Send transmit one serialized message to the client
	Send(payload []byte) error
	// Close close the underlying transport
	Close() error
}

// RegistryStats read-only snapshot of the registry for observability
type RegistryStats struct {
	// ActiveConnections is the number of live connections on this instance
	ActiveConnections int `json:"active_connections"`
	// Subscriptions maps each topic to its subscriber count
	Subscriptions map[string]int `json:"subscriptions"`
	// TotalSubscriptions is the sum of all topic memberships
	TotalSubscriptions int `json:"total_subscriptions"`
}

// ConnectionRegistry per-instance registry of live client connections and
// their topic subscriptions
type ConnectionRegistry interface {
	// Register accept a new connection and assign it a client ID
	Register(conn ClientConnection) (string, error)
	// Deregister remove a connection and all its subscriptions. Idempotent.
	Deregister(clientID string)
	// Subscribe add the connection to each route's topic subscriber set and
	// acknowledge. Routes are normalized first. No-op for an unknown client.
	Subscribe(clientID string, routes []string)
	// Unsubscribe symmetric removal, pruning topics left without subscribers
	Unsubscribe(clientID string, routes []string)
	// Topics fetch the normalized topic set a client is subscribed to
	Topics(clientID string) []string
	// Stats fetch a read-only registry snapshot
	Stats() RegistryStats
	// broadcastTargets snapshot the connections a broadcast on a topic must reach
	broadcastTargets(topic string) map[string]ClientConnection
}

// clientRecord registry entry for one live connection
type clientRecord struct {
	conn      ClientConnection
	topics    map[string]bool
	createdAt time.Time
}

// connectionRegistryImpl implements ConnectionRegistry.
//
// The two indexes (connection to topics, topic to connections) are mutated
// together under one lock so they can never disagree.
type connectionRegistryImpl struct {
	common.Component
	lock *sync.RWMutex
	// clients index: client ID => connection and its topic set
	clients map[string]*clientRecord
	// topics reverse index: topic => subscribed client IDs
	topics map[string]map[string]bool
}

// GetConnectionRegistry define a new ConnectionRegistry
func GetConnectionRegistry(instance string) (ConnectionRegistry, error) {
	logTags := log.Fields{
		"module":    "broadcast",
		"component": "connection-registry",
		"instance":  instance,
	}
	return &connectionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		lock:      &sync.RWMutex{},
		clients:   make(map[string]*clientRecord),
		topics:    make(map[string]map[string]bool),
	}, nil
}

// Register accept a new connection and assign it a client ID
func (r *connectionRegistryImpl) Register(conn ClientConnection) (string, error) {
	clientID := uuid.New().String()
	r.lock.Lock()
	r.clients[clientID] = &clientRecord{
		conn:      conn,
		topics:    make(map[string]bool),
		createdAt: time.Now().UTC(),
	}
	r.lock.Unlock()
	log.WithFields(r.LogTags).Infof("Registered client %s", clientID)
	return clientID, nil
}

// Deregister remove a connection and all its subscriptions. Idempotent.
func (r *connectionRegistryImpl) Deregister(clientID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	record, ok := r.clients[clientID]
	if !ok {
		return
	}
	for topic := range record.topics {
		r.dropMembership(topic, clientID)
	}
	delete(r.clients, clientID)
	log.WithFields(r.LogTags).Infof("Deregistered client %s", clientID)
}

// dropMembership remove one topic membership, pruning the topic when its
// subscriber set becomes empty. Caller must hold the write lock.
func (r *connectionRegistryImpl) dropMembership(topic, clientID string) {
	subscribers, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subscribers, clientID)
	if len(subscribers) == 0 {
		delete(r.topics, topic)
	}
}

// Subscribe add the connection to each route's topic subscriber set
func (r *connectionRegistryImpl) Subscribe(clientID string, routes []string) {
	r.lock.Lock()
	record, ok := r.clients[clientID]
	if !ok {
		r.lock.Unlock()
		log.WithFields(r.LogTags).Debugf("Subscribe for unknown client %s ignored", clientID)
		return
	}
	for _, topic := range NormalizeTopics(routes) {
		record.topics[topic] = true
		subscribers, ok := r.topics[topic]
		if !ok {
			subscribers = make(map[string]bool)
			r.topics[topic] = subscribers
		}
		subscribers[clientID] = true
	}
	conn := record.conn
	r.lock.Unlock()

	log.WithFields(r.LogTags).Infof("Client %s subscribed to %v", clientID, routes)
	r.acknowledge(clientID, conn, RoutesAckMessage{Type: MsgTypeSubscribed, Routes: routes})
}

// Unsubscribe symmetric removal, pruning topics left without subscribers
func (r *connectionRegistryImpl) Unsubscribe(clientID string, routes []string) {
	r.lock.Lock()
	record, ok := r.clients[clientID]
	if !ok {
		r.lock.Unlock()
		log.WithFields(r.LogTags).Debugf("Unsubscribe for unknown client %s ignored", clientID)
		return
	}
	for _, topic := range NormalizeTopics(routes) {
		delete(record.topics, topic)
		r.dropMembership(topic, clientID)
	}
	conn := record.conn
	r.lock.Unlock()

	log.WithFields(r.LogTags).Infof("Client %s unsubscribed from %v", clientID, routes)
	r.acknowledge(clientID, conn, RoutesAckMessage{Type: MsgTypeUnsubscribed, Routes: routes})
}

// acknowledge send a protocol acknowledgement. A failing send marks the
// connection dead and triggers deregistration.
func (r *connectionRegistryImpl) acknowledge(
	clientID string, conn ClientConnection, ack interface{},
) {
	payload, err := json.Marshal(&ack)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to serialize ack for client %s", clientID,
		)
		return
	}
	if err := conn.Send(payload); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Ack send to client %s failed. Deregistering", clientID,
		)
		r.Deregister(clientID)
	}
}

// Topics fetch the normalized topic set a client is subscribed to
func (r *connectionRegistryImpl) Topics(clientID string) []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	record, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(record.topics))
	for topic := range record.topics {
		result = append(result, topic)
	}
	return result
}

// Stats fetch a read-only registry snapshot
func (r *connectionRegistryImpl) Stats() RegistryStats {
	r.lock.RLock()
	defer r.lock.RUnlock()
	stats := RegistryStats{
		ActiveConnections: len(r.clients),
		Subscriptions:     make(map[string]int, len(r.topics)),
	}
	for topic, subscribers := range r.topics {
		stats.Subscriptions[topic] = len(subscribers)
		stats.TotalSubscriptions += len(subscribers)
	}
	return stats
}

// broadcastTargets snapshot the connections subscribed to a topic or to the
// reserved ALL topic
func (r *connectionRegistryImpl) broadcastTargets(topic string) map[string]ClientConnection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	targets := make(map[string]ClientConnection)
	for _, topicKey := range []string{NormalizeTopic(topic), TopicAll} {
		for clientID := range r.topics[topicKey] {
			if record, ok := r.clients[clientID]; ok {
				targets[clientID] = record.conn
			}
		}
	}
	return targets
}
