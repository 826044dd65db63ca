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

package apis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
)

// wsConnection adapts a gorilla websocket connection to the registry's
// ClientConnection. The write lock serializes broadcast sends with protocol
// replies since gorilla allows only one concurrent writer.
type wsConnection struct {
	conn        *websocket.Conn
	writeLock   sync.Mutex
	sendTimeout time.Duration
}

// Send transmit one serialized message to the client
func (c *wsConnection) Send(payload []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close close the underlying transport
func (c *wsConnection) Close() error {
	return c.conn.Close()
}

// AvailabilityWSHandler serves the long-lived availability websocket endpoint
type AvailabilityWSHandler struct {
	common.Component
	registry    broadcast.ConnectionRegistry
	upgrader    websocket.Upgrader
	sendTimeout time.Duration
}

// GetAvailabilityWSHandler define AvailabilityWSHandler
func GetAvailabilityWSHandler(
	registry broadcast.ConnectionRegistry, sendTimeout time.Duration,
) (AvailabilityWSHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "availability-websocket",
	}
	return AvailabilityWSHandler{
		Component: common.Component{LogTags: logTags},
		registry:  registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Connection identity is opaque, origin is not a trust boundary
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendTimeout: sendTimeout,
	}, nil
}

// ServeWS handle one websocket session: register, subscribe initial routes,
// then run the control-message read loop until the transport closes
func (h AvailabilityWSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader already replied to the client
		log.WithError(err).WithFields(h.LogTags).Error("Websocket upgrade failed")
		return
	}
	wrapped := &wsConnection{conn: conn, sendTimeout: h.sendTimeout}

	clientID, err := h.registry.Register(wrapped)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to register connection")
		_ = wrapped.Close()
		return
	}
	defer func() {
		h.registry.Deregister(clientID)
		_ = wrapped.Close()
	}()

	logTags := log.Fields{}
	for lKey, lVal := range h.LogTags {
		logTags[lKey] = lVal
	}
	logTags["client"] = clientID
	if token := r.URL.Query().Get("token"); token != "" {
		// Identity is opaque to this subsystem. Recorded for correlation only.
		logTags["identity"] = token
	}

	if err := h.sendJSON(wrapped, broadcast.ConnectedMessage{
		Type:     broadcast.MsgTypeConnected,
		ClientID: clientID,
		Message:  "Connected to availability updates",
	}); err != nil {
		log.WithError(err).WithFields(logTags).Error("Connect ack failed")
		return
	}

	// Subscribe any routes requested on the connect URL
	if routesParam := r.URL.Query().Get("routes"); routesParam != "" {
		h.registry.Subscribe(clientID, strings.Split(routesParam, ","))
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(logTags).Warn("Websocket read failed")
			} else {
				log.WithFields(logTags).Debug("Websocket closed")
			}
			return
		}
		if sendErr := h.dispatch(clientID, wrapped, payload); sendErr != nil {
			log.WithError(sendErr).WithFields(logTags).Warn("Protocol reply failed")
			return
		}
	}
}

// dispatch decode one control message and apply it. Returned errors are
// transport failures; protocol problems are answered in-band.
func (h AvailabilityWSHandler) dispatch(
	clientID string, conn *wsConnection, payload []byte,
) error {
	request, err := broadcast.DecodeClientMessage(payload)
	if err != nil {
		return h.sendJSON(conn, broadcast.ErrorMessage{
			Type: broadcast.MsgTypeError, Message: "Invalid JSON",
		})
	}
	switch request := request.(type) {
	case broadcast.SubscribeRequest:
		h.registry.Subscribe(clientID, request.Routes)
		return nil
	case broadcast.UnsubscribeRequest:
		h.registry.Unsubscribe(clientID, request.Routes)
		return nil
	case broadcast.PingRequest:
		return h.sendJSON(conn, broadcast.PongMessage{Type: broadcast.MsgTypePong})
	case broadcast.StatsRequest:
		return h.sendJSON(conn, broadcast.StatsMessage{
			Type: broadcast.MsgTypeStats, Data: h.registry.Stats(),
		})
	case broadcast.UnknownRequest:
		return h.sendJSON(conn, broadcast.ErrorMessage{
			Type:    broadcast.MsgTypeError,
			Message: fmt.Sprintf("Unknown action '%s'", request.Action),
		})
	default:
		return nil
	}
}

// sendJSON serialize and send one protocol reply
func (h AvailabilityWSHandler) sendJSON(conn *wsConnection, msg interface{}) error {
	payload, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// ServeWSHandler Wrapper around ServeWS
func (h AvailabilityWSHandler) ServeWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r)
	}
}
