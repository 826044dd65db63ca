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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/medferry/availability/apis"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
	"github.com/medferry/availability/core"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunAvailabilityServer run the availability broadcast server
func RunAvailabilityServer(
	runTimeContext context.Context,
	config *common.ServerConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "availability-server",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Define the broadcast subsystem

	registry, err := broadcast.GetConnectionRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define connection registry")
		return err
	}

	broadcaster, err := broadcast.GetBroadcaster(registry, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define broadcaster")
		return err
	}

	publisher, err := broadcast.GetInstantPublisher(
		natsClient,
		config.Broadcast.ChannelPrefix,
		config.Broadcast.PublishQueueDepth,
		localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define instant publisher")
		return err
	}
	if err := publisher.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start instant publisher")
		return err
	}

	listener, err := broadcast.GetBusListener(
		natsClient, broadcaster, config.Broadcast.ChannelPrefix, localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define bus listener")
		return err
	}
	if err := listener.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start bus listener")
		return err
	}

	// -------------------------------------------------------------------
	// Define the API handlers

	wsHandler, err := apis.GetAvailabilityWSHandler(
		registry, time.Second*time.Duration(config.Broadcast.SendTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define websocket handler")
		return err
	}

	httpHandler, err := apis.GetAPIRestAvailabilityHandler(
		registry, publisher, natsClient, &config.HTTPSetting,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Client websocket endpoint
	_ = apis.RegisterPathPrefix(
		mainRouter, "/ws/availability", map[string]http.HandlerFunc{
			"get": wsHandler.ServeWSHandler(),
		},
	)

	// Instant publish for the booking workflow
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/availability/publish", map[string]http.HandlerFunc{
			"post": httpHandler.PublishChangeHandler(),
		},
	)

	// Observability
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/availability/stats", map[string]http.HandlerFunc{
			"get": httpHandler.StatsHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTPSetting.Server.ListenOn, config.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		IdleTimeout: time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:     h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	// Stop the outbound publish task
	if err := publisher.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping instant publisher")
	}

	return nil
}
