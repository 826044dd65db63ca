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
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
	"github.com/medferry/availability/core"
	"github.com/medferry/availability/reconcile"
)

// RunReconciler run the reconciliation poller against external operator systems
func RunReconciler(
	runTimeContext context.Context,
	config *common.ReconcilerConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "reconciler",
		"instance":  instance,
	}

	if len(config.Topics) == 0 {
		return fmt.Errorf("reconciler can't start without monitored topics")
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	publisher, err := broadcast.GetInstantPublisher(
		natsClient,
		config.Broadcast.ChannelPrefix,
		config.Broadcast.PublishQueueDepth,
		localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define bus publisher")
		return err
	}
	if err := publisher.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start bus publisher")
		return err
	}

	cache, err := reconcile.GetSnapshotCache(time.Second * time.Duration(config.CacheTTL))
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define snapshot cache")
		return err
	}

	source, err := reconcile.GetOperatorHTTPSource(
		config.Operator.BaseURL,
		time.Second*time.Duration(config.Operator.RequestTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define operator source")
		return err
	}

	poller, err := reconcile.GetReconciliationPoller(
		source, cache, publisher, config.Topics, config.MaxFetchAttempts, localCtxt, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define poller")
		return err
	}
	if err := poller.Start(time.Second * time.Duration(config.PollInterval)); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start poller")
		return err
	}

	log.WithFields(logTags).Infof(
		"Reconciling %d topics every %ds", len(config.Topics), config.PollInterval,
	)

	// ============================================================================

	<-runTimeContext.Done()

	if err := poller.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping poller")
	}
	if err := publisher.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping bus publisher")
	}

	return nil
}
