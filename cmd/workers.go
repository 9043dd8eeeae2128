/*
Copyright 2024 Cartera Authors.

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
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/crediflow/cartera"
	"github.com/crediflow/cartera/config"
	redis_db "github.com/crediflow/cartera/internal/redis-db"
	"github.com/crediflow/cartera/internal/traces"
)

// processRun executes a causation run pulled from the Redis queue. Run-level
// failures are returned so asynq retries them up to the configured limit;
// a run that was already completed or failed is a no-op.
func (b *carteraInstance) processRun(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("cartera.causation.worker").Start(ctx, "Process Run From Redis Queue")
	defer span.End()

	var payload cartera.RunTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.cartera.ExecuteRun(ctx, payload.RunID); err != nil {
		logrus.Infof("Run %s pushed back for retry due to error: %v", payload.RunID, err)
		return err
	}

	log.Println(" [*] Run Processed", payload.RunID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	// Runs within one queue execute serially; two concurrent runs over the
	// same loans would race on checkpoints.
	return map[string]int{cfg.Queue.CausationQueue: 1}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *carteraInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.CausationQueue, b.processRun)
	mux.HandleFunc(scheduleTaskType, b.processScheduledRun)
}

// workerCommands defines the "workers" command, which consumes queued
// causation runs and executes them against the portfolio.
func workerCommands(b *carteraInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start cartera workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := traces.SetupOTelSDK(ctx, conf.ProjectName)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
