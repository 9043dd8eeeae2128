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
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crediflow/cartera"
	"github.com/crediflow/cartera/config"
	"github.com/crediflow/cartera/internal/apierror"
	redis_db "github.com/crediflow/cartera/internal/redis-db"
	"github.com/crediflow/cartera/model"
)

// scheduleTaskType is the asynq task type for cron-triggered run creation.
// The scheduler enqueues these on the causation queue; the worker picks them
// up and creates the actual run for the current date.
const scheduleTaskType = "causation:schedule"

type scheduleRunPayload struct {
	ProcessType model.ProcessType `json:"process_type"`
}

// processScheduledRun creates a causation run for today when a cron trigger
// fires. A run that already exists for the date, or a date whose accounting
// period is closed, is skipped rather than retried.
func (b *carteraInstance) processScheduledRun(ctx context.Context, t *asynq.Task) error {
	var payload scheduleRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	run, err := b.cartera.CreateRun(ctx, cartera.RunRequest{
		ProcessType:   payload.ProcessType,
		ProcessDate:   today,
		ScopeType:     model.ScopeGeneral,
		TriggerSource: model.TriggerCron,
		TriggeredBy:   "scheduler",
	})
	if err != nil {
		if apierror.IsCode(err, apierror.ErrConflict) {
			logrus.Infof("Run for %s on %s already exists, skipping", payload.ProcessType, today.Format(time.DateOnly))
			return nil
		}
		if apierror.IsCode(err, apierror.ErrBadRequest) {
			logrus.Warnf("Scheduled %s run rejected: %v", payload.ProcessType, err)
			return nil
		}
		return err
	}

	log.Println(" [*] Scheduled Run Created", run.RunID)
	return nil
}

// cronEntries pairs each process type with its configured cron spec. Empty
// specs disable that schedule. Keyed by process type so several types may
// share one spec.
func cronEntries(cfg *config.Configuration) map[model.ProcessType]string {
	entries := make(map[model.ProcessType]string)
	if spec := cfg.Scheduler.CurrentInterest; spec != "" {
		entries[model.ProcessCurrentInterest] = spec
	}
	if spec := cfg.Scheduler.LateInterest; spec != "" {
		entries[model.ProcessLateInterest] = spec
	}
	if spec := cfg.Scheduler.Insurance; spec != "" {
		entries[model.ProcessInsurance] = spec
	}
	if spec := cfg.Scheduler.BillingConcepts; spec != "" {
		entries[model.ProcessOther] = spec
	}
	return entries
}

// schedulerCommands defines the "scheduler" command, which fires the
// configured cron schedules and enqueues run-creation triggers for the
// workers.
func schedulerCommands(b *carteraInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "start cartera run scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
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
				&asynq.SchedulerOpts{Location: time.UTC},
			)

			for pt, spec := range cronEntries(conf) {
				payload, err := json.Marshal(scheduleRunPayload{ProcessType: pt})
				if err != nil {
					log.Fatal(err)
				}
				entryID, err := scheduler.Register(spec, asynq.NewTask(scheduleTaskType, payload,
					asynq.Queue(conf.Queue.CausationQueue)))
				if err != nil {
					log.Fatalf("could not register %s schedule: %v", pt, err)
				}
				log.Printf(" [*] Registered %s schedule %q (entry %s)", pt, spec, entryID)
			}

			if err := scheduler.Run(); err != nil {
				log.Fatalf("could not run scheduler: %v", err)
			}
		},
	}

	return cmd
}
