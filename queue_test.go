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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/model"
)

func TestGetAutomationTask(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	q := &Queue{}

	bid := &model.Bid{BidID: "bid_1", Status: model.StatusBidIntake}
	payload, err := json.Marshal(AutomationPayload{Data: *bid})
	assert.NoError(t, err)

	task, err := q.getTask(bid, payload)
	assert.NoError(t, err)
	assert.NotNil(t, task)
	assert.Equal(t, "new:automation_1", task.Type())

	// The queue assignment is a pure function of the bid ID, so every
	// evaluation of one bid lands on the same queue.
	again, err := q.getTask(bid, payload)
	assert.NoError(t, err)
	assert.Equal(t, task.Type(), again.Type())

	// The payload round-trips through the handler's envelope.
	var queued AutomationPayload
	assert.NoError(t, json.Unmarshal(task.Payload(), &queued))
	assert.Equal(t, "bid_1", queued.Data.BidID)
	assert.Equal(t, model.StatusBidIntake, queued.Data.Status)
}
