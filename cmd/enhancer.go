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

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf/config"
	redis_db "github.com/openshelf/openshelf/internal/redis-db"
)

// enhancerCommands defines the "enhancer" command group: a scheduler process
// that enqueues periodic enhancer passes, and a one-off manual run.
func enhancerCommands(b *shelfInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enhancer",
		Short: "synthetic record enhancement",
	}

	cmd.AddCommand(enhancerScheduleCommands())
	cmd.AddCommand(enhancerRunCommands(b))

	return cmd
}

// enhancerScheduleCommands starts the asynq scheduler that enqueues an
// enhancer pass every scan interval. The workers process consumes them; this
// process only keeps time.
func enhancerScheduleCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "run the enhancer scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("Error parsing Redis URL: %v", err)
			}

			scheduler := asynq.NewScheduler(
				asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
				nil,
			)

			cronspec := fmt.Sprintf("@every %dm", conf.Enhancer.ScanIntervalMin)
			task := asynq.NewTask(conf.Queue.EnhancerQueue, nil, asynq.Queue(conf.Queue.EnhancerQueue))
			entryID, err := scheduler.Register(cronspec, task)
			if err != nil {
				log.Fatalf("could not register enhancer schedule: %v", err)
			}
			log.Printf("Enhancer scheduled every %dm (entry %s)", conf.Enhancer.ScanIntervalMin, entryID)

			if err := scheduler.Run(); err != nil {
				log.Fatalf("could not run scheduler: %v", err)
			}
		},
	}

	return cmd
}

// enhancerRunCommands runs one enhancer pass in-process and exits.
func enhancerRunCommands(b *shelfInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run one enhancer pass now",
		Run: func(cmd *cobra.Command, args []string) {
			if err := b.shelf.EnhanceSyntheticWorks(context.Background()); err != nil {
				log.Fatalf("enhancer pass failed: %v", err)
			}
			log.Println("enhancer pass complete")
		},
	}

	return cmd
}
