/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/openshelf/openshelf"
	"github.com/openshelf/openshelf/config"
	redis_db "github.com/openshelf/openshelf/internal/redis-db"
	"github.com/openshelf/openshelf/providers"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues maps queue names to priorities. The numbered enrichment
// queues share one priority; the enhancer queue runs beside them so a long
// scan never starves enrichment throughput.
func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.EnhancerQueue] = 1

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.EnrichmentQueue, i)
		queues[queueName] = 3
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	// The group aggregator folds batchable edition tasks into one bulk
	// primary-provider call per group flush.
	groupMaxSize := conf.Queue.BatchSize
	if groupMaxSize > providers.BatchLimit {
		groupMaxSize = providers.BatchLimit
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency:      1,
			Queues:           queues,
			GroupAggregator:  asynq.GroupAggregatorFunc(openshelf.AggregateEnrichmentTasks),
			GroupGracePeriod: openshelf.BatchGracePeriod,
			GroupMaxDelay:    openshelf.BatchMaxDelay,
			GroupMaxSize:     groupMaxSize,
		},
	), nil
}

func initializeTaskHandlers(b *shelfInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.EnrichmentQueue, i)
		mux.HandleFunc(queueName, b.shelf.ProcessEnrichmentTask)
	}

	mux.HandleFunc(openshelf.BatchTaskType, b.shelf.ProcessEnrichmentBatch)
	mux.HandleFunc(cfg.Queue.EnhancerQueue, b.shelf.ProcessEnhancerTask)
}

// workerCommands defines the "workers" command, which consumes the
// enrichment and enhancer queues and serves asynqmon for monitoring.
func workerCommands(b *shelfInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start openshelf workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Works whose enrichment task got lost between enqueue and merge
			// are re-enqueued by the recovery processor.
			recovery := openshelf.NewQueueRecoveryProcessor(b.shelf)
			recovery.Start(ctx)
			defer recovery.Stop()

			// Asynqmon serves queue health and the dead-letter view.
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
