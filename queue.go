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
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/teaflowhq/teaflow/config"
	redis_db "github.com/teaflowhq/teaflow/internal/redis-db"
	"github.com/teaflowhq/teaflow/model"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// AutomationPayload is the task payload for a deferred workflow rule
// evaluation of one bid.
type AutomationPayload struct {
	Data model.Bid
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

// queueIndexData enqueues a task to index data in a specified collection.
func (q *Queue) queueIndexData(id string, collection string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.IndexQueue)}
	task := asynq.NewTask(cfg.Queue.IndexQueue, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
	return nil
}

// Enqueue enqueues a bid for deferred workflow rule evaluation.
func (q *Queue) Enqueue(ctx context.Context, bid *model.Bid) error {
	ctx, span := tracer.Start(ctx, "Adding Bid To Automation Queue")
	defer span.End()

	payload, err := json.Marshal(AutomationPayload{Data: *bid})
	if err != nil {
		return err
	}
	task, err := q.getTask(bid, payload)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued bid: %+v", bid.BidID)

	return nil
}

// getTask generates an automation task for a bid and assigns it to a
// specific queue by hashing the bid ID. All tasks for one bid land on the
// same queue, so rule evaluations of a bid are processed serially and
// never race one another.
func (q *Queue) getTask(bid *model.Bid, payload []byte) (*asynq.Task, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	queueIndex := hashBidID(bid.BidID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.AutomationQueue, queueIndex+1)

	taskOptions := []asynq.Option{asynq.TaskID(bid.BidID), asynq.Queue(queueName)}
	return asynq.NewTask(queueName, payload, taskOptions...), nil
}

// hashBidID returns a consistent hash value for a string bid ID.
func hashBidID(bidID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(bidID))
	return int(hasher.Sum32())
}

// GetBidFromQueue retrieves a queued bid by its ID, searching every
// automation queue.
func (q *Queue) GetBidFromQueue(bidID string) (*model.Bid, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.AutomationQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, bidID)
		if err == nil && task != nil {
			var queued AutomationPayload
			if err := json.Unmarshal(task.Payload, &queued); err != nil {
				return nil, err
			}
			return &queued.Data, nil
		}
	}
	return nil, nil // Return nil if the bid is not found in any queue
}
