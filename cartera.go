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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/crediflow/cartera/config"
	"github.com/crediflow/cartera/database"
	redis_db "github.com/crediflow/cartera/internal/redis-db"
)

// Cartera is the causation engine facade. All run orchestration and accrual
// calculation hangs off this struct.
type Cartera struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewCartera initializes the engine with the provided datasource. It fetches
// the configuration and wires the Redis client and the run queue.
func NewCartera(db database.IDataSource) (*Cartera, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Cartera{datasource: db, queue: newQueue, redis: redisClient.Client()}, nil
}

// Config fetches the active configuration.
func (s *Cartera) Config() *config.Configuration {
	cfg, err := config.Fetch()
	if err != nil {
		return nil
	}
	return cfg
}
