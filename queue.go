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

package cartera

import (
	"context"
	"encoding/json"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"

	"github.com/crediflow/cartera/config"
	redis_db "github.com/crediflow/cartera/internal/redis-db"
	"github.com/crediflow/cartera/model"
)

// Queue hands causation runs to the worker pool over Redis.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// RunTaskPayload is the body of a queued causation task. The worker only
// needs the run id; everything else lives in the run row.
type RunTaskPayload struct {
	RunID string `json:"run_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueRun queues a process run for asynchronous execution. The task id is
// the run id, so a run enqueued twice collapses into one task. Transient
// Redis failures are retried with exponential backoff before giving up.
func (q *Queue) EnqueueRun(ctx context.Context, run *model.ProcessRun) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(RunTaskPayload{RunID: run.RunID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(cfg.Queue.CausationQueue, payload,
		asynq.TaskID(run.RunID),
		asynq.Queue(cfg.Queue.CausationQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	)

	enqueue := func() error {
		info, err := q.Client.EnqueueContext(ctx, task)
		if err != nil {
			log.Println("failed to enqueue run", run.RunID, err, info)
			return err
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(enqueue, bo); err != nil {
		return err
	}
	log.Printf(" [*] Successfully enqueued run: %+v", run.RunID)
	return nil
}

// PendingRuns reports how many causation tasks are waiting in the queue.
func (q *Queue) PendingRuns() (int, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	info, err := q.Inspector.GetQueueInfo(cfg.Queue.CausationQueue)
	if err != nil {
		return 0, err
	}
	return info.Pending + info.Retry + info.Scheduled, nil
}
