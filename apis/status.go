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
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
	"github.com/medferry/availability/core"
	"github.com/nats-io/nats.go"
)

// APIRestAvailabilityHandler REST handler for the availability service
// observability and internal publish surfaces
type APIRestAvailabilityHandler struct {
	goutils.RestAPIHandler
	registry   broadcast.ConnectionRegistry
	publisher  broadcast.InstantPublisher
	natsClient *core.NatsClient
	validate   *validator.Validate
}

// GetAPIRestAvailabilityHandler define APIRestAvailabilityHandler
func GetAPIRestAvailabilityHandler(
	registry broadcast.ConnectionRegistry,
	publisher broadcast.InstantPublisher,
	natsClient *core.NatsClient,
	httpConfig *common.HTTPConfig,
) (APIRestAvailabilityHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "availability-status",
	}
	return APIRestAvailabilityHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		registry:   registry,
		publisher:  publisher,
		natsClient: natsClient,
		validate:   validator.New(),
	}, nil
}

// =======================================================================
// Observability

// APIRestRespStats response wrapping the registry stats snapshot
type APIRestRespStats struct {
	goutils.RestAPIBaseResponse
	// Stats is the connection registry snapshot
	Stats broadcast.RegistryStats `json:"stats"`
}

// Stats godoc
// @Summary Connection registry snapshot
// @Description Read-only view of active connections and topic subscriptions
// on this instance, for health dashboards
// @tags Availability
// @Produce json
// @Param Medferry-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespStats "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/availability/stats [get]
func (h APIRestAvailabilityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespStats{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Stats:               h.registry.Stats(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, &resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatsHandler Wrapper around Stats
func (h APIRestAvailabilityHandler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Stats(w, r)
	}
}

// =======================================================================
// Instant publish

// APIRestReqPublish request body for an instant availability publish
type APIRestReqPublish struct {
	// Route is the route or ferry name the change belongs to
	Route string `json:"route" validate:"required"`
	// FerryID identifies the sailing whose capacity changed
	FerryID string `json:"ferry_id" validate:"required"`
	// DepartureTime is the scheduled departure of the sailing
	DepartureTime time.Time `json:"departure_time"`
	// Availability holds current counts per capacity category
	Availability map[string]int `json:"availability" validate:"required"`
}

// PublishChange godoc
// @Summary Publish an availability change
// @Description Called by the booking workflow right after a capacity-changing
// mutation commits. Enqueues the change for bus fan-out and returns
// immediately; bus trouble never fails the caller.
// @tags Availability
// @Accept json
// @Produce json
// @Param Medferry-Request-ID header string false "User provided request ID to match against logs"
// @Param change body APIRestReqPublish true "Availability change"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/availability/publish [post]
func (h APIRestAvailabilityHandler) PublishChange(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request APIRestReqPublish
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Invalid publish request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.publisher.PublishNow(
		request.Route, request.FerryID, request.DepartureTime, request.Availability,
	)

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// PublishChangeHandler Wrapper around PublishChange
func (h APIRestAvailabilityHandler) PublishChangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PublishChange(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For availability REST API liveness check
// @Description Will return success to indicate the availability REST API module is live
// @tags Availability
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestAvailabilityHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestAvailabilityHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For availability REST API readiness check
// @Description Will return success if the fan-out bus connection is up. An
// instance without a live bus connection silently misses updates.
// @tags Availability
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestAvailabilityHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.natsClient.NATs().Status() == nats.CONNECTED {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestAvailabilityHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
