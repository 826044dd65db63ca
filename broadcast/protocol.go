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
	"fmt"
)

// Client control message actions
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
	actionStats       = "stats"
)

// ClientRequest one decoded client control message
type ClientRequest interface {
	isClientRequest()
}

// SubscribeRequest client asks to subscribe to a set of routes
type SubscribeRequest struct {
	Routes []string
}

// UnsubscribeRequest client asks to unsubscribe from a set of routes
type UnsubscribeRequest struct {
	Routes []string
}

// PingRequest client liveness probe
type PingRequest struct{}

// StatsRequest client asks for the registry stats snapshot
type StatsRequest struct{}

// UnknownRequest client sent a well-formed message with an unrecognized action
type UnknownRequest struct {
	Action string
}

func (SubscribeRequest) isClientRequest()   {}
func (UnsubscribeRequest) isClientRequest() {}
func (PingRequest) isClientRequest()        {}
func (StatsRequest) isClientRequest()       {}
func (UnknownRequest) isClientRequest()     {}

// rawClientMessage wire shape of a client control message
type rawClientMessage struct {
	Action string   `json:"action"`
	Routes []string `json:"routes"`
}

// DecodeClientMessage decode one client control message into its request type.
// The message is decoded exactly once at this boundary; callers match on the
// concrete type. A JSON parse failure is returned as an error so the caller
// can reply with a protocol error without closing the connection.
func DecodeClientMessage(payload []byte) (ClientRequest, error) {
	var raw rawClientMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in client message: %w", err)
	}
	switch raw.Action {
	case actionSubscribe:
		return SubscribeRequest{Routes: raw.Routes}, nil
	case actionUnsubscribe:
		return UnsubscribeRequest{Routes: raw.Routes}, nil
	case actionPing:
		return PingRequest{}, nil
	case actionStats:
		return StatsRequest{}, nil
	default:
		return UnknownRequest{Action: raw.Action}, nil
	}
}
