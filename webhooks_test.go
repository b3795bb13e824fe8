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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/model"
)

func TestSendWebhook(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	mockConfig := &config.Configuration{
		Redis: config.RedisConfig{
			Dns: mr.Addr(),
		},
	}
	mockConfig.Notification.Webhook.Url = "https://localhost:5001/webhook"
	config.MockConfig(mockConfig)

	testData := NewWebhook{
		Event: "bid.created",
		Payload: &model.Bid{
			BidID:  "bid_1",
			LotID:  "LOT-42",
			Buyer:  gofakeit.Company(),
			Amount: 184500.00,
		},
	}

	err = SendWebhook(testData)
	assert.NoError(t, err)

	// Verify that the task was enqueued
	tasks := mr.Keys()
	assert.NotEmpty(t, tasks)
}

func TestSendWebhookNoURL(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	// No webhook URL configured means nothing to enqueue and no error.
	assert.NoError(t, SendWebhook(NewWebhook{Event: "bid.created"}))
}

func TestProcessWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	mockConfig := &config.Configuration{}
	mockConfig.Notification.Webhook.Url = "https://example.com/webhook"
	config.MockConfig(mockConfig)

	httpmock.RegisterResponder("POST", "https://example.com/webhook",
		httpmock.NewStringResponder(200, "ok"))

	payload, err := json.Marshal(NewWebhook{
		Event:   "inflow.matched",
		Payload: map[string]interface{}{"inflow_id": "inflow_1", "bid_id": "bid_1"},
	})
	assert.NoError(t, err)

	task := asynq.NewTask("new:webhook", payload)
	err = ProcessWebhook(context.Background(), task)
	assert.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetEventFromStatus(t *testing.T) {
	assert.Equal(t, "bid.created", getEventFromStatus(model.StatusBidIntake))
	assert.Equal(t, "bid.eslip_sent", getEventFromStatus(model.StatusESlipSent))
	assert.Equal(t, "bid.payment_matching", getEventFromStatus(model.StatusPaymentMatching))
	assert.Equal(t, "bid.split_processing", getEventFromStatus(model.StatusSplitProcessing))
	assert.Equal(t, "bid.payout_approval", getEventFromStatus(model.StatusPayoutApproval))
	assert.Equal(t, "bid.tea_released", getEventFromStatus(model.StatusTeaRelease))
	assert.Equal(t, "bid.unknown", getEventFromStatus(model.Status("archived")))
}
