/*
Copyright 2026 Teaflow Authors.

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

package teaflow

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/database"
	redis_db "github.com/teaflowhq/teaflow/internal/redis-db"
	"github.com/teaflowhq/teaflow/internal/search"
)

var tracer = otel.Tracer("teaflow")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Teaflow represents the main struct for the Teaflow application.
type Teaflow struct {
	engine     *WorkflowEngine
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	datasource database.IDataSource
}

// NewTeaflow initializes a new instance of Teaflow with the provided database datasource.
// It fetches the configuration and initializes the Redis client, the workflow
// engine, the queue and the search client.
func NewTeaflow(db database.IDataSource) (*Teaflow, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newSearch := search.NewTypesenseClient(configuration.TypeSenseKey, []string{configuration.TypeSense.Dns})

	newTeaflow := &Teaflow{
		engine:     DefaultWorkflowEngine(),
		queue:      newQueue,
		search:     newSearch,
		redis:      redisClient.Client(),
		datasource: db,
	}
	return newTeaflow, nil
}

// Engine exposes the workflow engine for callers that only need the pure
// validation operations.
func (s *Teaflow) Engine() *WorkflowEngine {
	return s.engine
}
