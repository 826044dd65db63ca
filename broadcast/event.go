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

import "time"

// Event source tags
const (
	// SourceInternal marks events triggered by local booking mutations
	SourceInternal = "internal"
	// SourceExternal marks events detected by the reconciliation poller
	SourceExternal = "external"
)

// AvailabilityEvent an immutable availability-change fact published on the bus
type AvailabilityEvent struct {
	// FerryID identifies the sailing whose capacity changed
	FerryID string `json:"ferry_id" validate:"required"`
	// Topic is the normalized route topic the change belongs to
	Topic string `json:"topic"`
	// DepartureTime is the scheduled departure of the sailing
	DepartureTime time.Time `json:"departure_time"`
	// Availability holds current counts per capacity category
	// (seats, vehicles, cabins by type)
	Availability map[string]int `json:"availability"`
	// Source tags who detected the change: "internal" or "external"
	Source string `json:"source"`
	// UpdatedAt is when the change was detected. Clients use it for
	// freshness comparison since duplicate delivery is possible.
	UpdatedAt time.Time `json:"updated_at"`
}

// ========================================================================================
// Server to client message envelopes

// Server to client message types
const (
	MsgTypeConnected    = "connected"
	MsgTypeSubscribed   = "subscribed"
	MsgTypeUnsubscribed = "unsubscribed"
	MsgTypeUpdate       = "availability_update"
	MsgTypePong         = "pong"
	MsgTypeStats        = "stats"
	MsgTypeError        = "error"
)

// ConnectedMessage connect acknowledgement carrying the assigned client ID
type ConnectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// RoutesAckMessage acknowledgement of a subscribe / unsubscribe request
type RoutesAckMessage struct {
	Type   string   `json:"type"`
	Routes []string `json:"routes"`
}

// UpdateMessage envelope delivering one availability event to a subscriber
type UpdateMessage struct {
	Type      string            `json:"type"`
	Route     string            `json:"route"`
	Data      AvailabilityEvent `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// PongMessage reply to a ping request
type PongMessage struct {
	Type string `json:"type"`
}

// StatsMessage reply to a stats request
type StatsMessage struct {
	Type string        `json:"type"`
	Data RegistryStats `json:"data"`
}

// ErrorMessage protocol error reply. The connection stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
