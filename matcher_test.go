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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teaflowhq/teaflow/model"
)

func TestMatchConfidenceAllSignals(t *testing.T) {
	inflow := &model.PaymentInflow{
		InflowID:      "inflow_1",
		Amount:        184500.00,
		PayerName:     "CHAI TRADERS LTD",
		Reference:     "eslip_8f2a",
		BankReference: "FT2408/eslip_8f2a",
		Status:        model.InflowUnmatched,
	}
	bid := &model.OutstandingBid{
		BidID:          "bid_1",
		Buyer:          "Chai Traders Ltd",
		Amount:         184500.00,
		ESlipReference: "eslip_8f2a",
	}

	// Exact amount also scores the approximate signal, so a perfect pair
	// lands on 40 + 30 + 50 + 20.
	assert.Equal(t, 140, MatchConfidence(inflow, bid))
}

func TestMatchConfidenceAmount(t *testing.T) {
	bid := &model.OutstandingBid{BidID: "bid_1", Buyer: "x", Amount: 100000.00}

	// Within the absolute tolerance: exact plus approximate.
	inflow := &model.PaymentInflow{Amount: 100000.01}
	assert.Equal(t, 60, MatchConfidence(inflow, bid))

	// Off by a bank charge: approximate only.
	inflow = &model.PaymentInflow{Amount: 99000.00}
	assert.Equal(t, 20, MatchConfidence(inflow, bid))

	// A 5% shortfall is outside the drift.
	inflow = &model.PaymentInflow{Amount: 95000.00}
	assert.Equal(t, 0, MatchConfidence(inflow, bid))
}

func TestMatchConfidenceBuyerName(t *testing.T) {
	bid := &model.OutstandingBid{BidID: "bid_1", Buyer: "Chai Traders Ltd", Amount: 50000}

	// Banks truncate names; containment either way counts.
	inflow := &model.PaymentInflow{Amount: 1, PayerName: "CHAI TRADERS"}
	assert.Equal(t, 30, MatchConfidence(inflow, bid))

	inflow = &model.PaymentInflow{Amount: 1, PayerName: "CHAI TRADERS LTD NAIROBI"}
	assert.Equal(t, 30, MatchConfidence(inflow, bid))

	// An unrelated payer does not match.
	inflow = &model.PaymentInflow{Amount: 1, PayerName: "Mombasa Coffee Works"}
	assert.Equal(t, 0, MatchConfidence(inflow, bid))

	// Empty names never match each other.
	bid3 := &model.OutstandingBid{BidID: "bid_3", Buyer: "", Amount: 50000}
	inflow = &model.PaymentInflow{Amount: 1, PayerName: ""}
	assert.Equal(t, 0, MatchConfidence(inflow, bid3))
}

func TestMatchConfidenceReference(t *testing.T) {
	bid := &model.OutstandingBid{BidID: "bid_1", Buyer: "x", Amount: 50000, ESlipReference: "eslip_8f2a"}

	// Narration reference must equal the e-slip reference.
	inflow := &model.PaymentInflow{Amount: 1, Reference: "ESLIP_8F2A"}
	assert.Equal(t, 50, MatchConfidence(inflow, bid))

	inflow = &model.PaymentInflow{Amount: 1, Reference: "eslip_8f2a_extra"}
	assert.Equal(t, 0, MatchConfidence(inflow, bid))

	// The bank reference only needs to contain it.
	inflow = &model.PaymentInflow{Amount: 1, BankReference: "FT2408-eslip_8f2a-001"}
	assert.Equal(t, 50, MatchConfidence(inflow, bid))

	// A bid with no e-slip yet can never earn the reference score.
	bid2 := &model.OutstandingBid{BidID: "bid_2", Buyer: "x", Amount: 50000}
	inflow = &model.PaymentInflow{Amount: 1, Reference: ""}
	assert.Equal(t, 0, MatchConfidence(inflow, bid2))
}

func TestAutoMatchPaymentsThreshold(t *testing.T) {
	bids := []*model.OutstandingBid{
		{BidID: "bid_1", Buyer: "Chai Traders Ltd", Amount: 184500.00, ESlipReference: "eslip_8f2a"},
	}

	// Name alone (30) and amount alone (60) both fall short; name plus
	// exact amount (90) clears the threshold.
	inflows := []*model.PaymentInflow{
		{InflowID: "inflow_name", Amount: 1, PayerName: "Chai Traders Ltd", Status: model.InflowUnmatched},
		{InflowID: "inflow_amount", Amount: 184500.00, Status: model.InflowUnmatched},
		{InflowID: "inflow_both", Amount: 184500.00, PayerName: "Chai Traders Ltd", Status: model.InflowUnmatched},
	}

	suggestions := AutoMatchPayments(inflows, bids)
	assert.Len(t, suggestions, 1)
	assert.Equal(t, "inflow_both", suggestions[0].InflowID)
	assert.Equal(t, "bid_1", suggestions[0].BidID)
	assert.Equal(t, 90, suggestions[0].Confidence)
}

func TestAutoMatchPaymentsSkipsMatchedInflows(t *testing.T) {
	bids := []*model.OutstandingBid{
		{BidID: "bid_1", Buyer: "Chai Traders Ltd", Amount: 184500.00, ESlipReference: "eslip_8f2a"},
	}
	inflows := []*model.PaymentInflow{
		{InflowID: "inflow_matched", Amount: 184500.00, PayerName: "Chai Traders Ltd", Reference: "eslip_8f2a", Status: model.InflowMatched},
		{InflowID: "inflow_pending", Amount: 184500.00, PayerName: "Chai Traders Ltd", Reference: "eslip_8f2a", Status: model.InflowPending},
	}

	assert.Empty(t, AutoMatchPayments(inflows, bids))
}

func TestAutoMatchPaymentsOrdering(t *testing.T) {
	bids := []*model.OutstandingBid{
		{BidID: "bid_a", Buyer: "Chai Traders Ltd", Amount: 184500.00, ESlipReference: "eslip_a"},
		{BidID: "bid_b", Buyer: "Chai Traders Ltd", Amount: 184500.00, ESlipReference: "eslip_b"},
	}
	inflows := []*model.PaymentInflow{
		// 90 against both bids (amount + name), 140 against bid_b (reference).
		{InflowID: "inflow_1", Amount: 184500.00, PayerName: "Chai Traders Ltd", Reference: "eslip_b", Status: model.InflowUnmatched},
	}

	suggestions := AutoMatchPayments(inflows, bids)
	assert.Len(t, suggestions, 2)
	assert.Equal(t, "bid_b", suggestions[0].BidID)
	assert.Equal(t, 140, suggestions[0].Confidence)
	assert.Equal(t, "bid_a", suggestions[1].BidID)
	assert.Equal(t, 90, suggestions[1].Confidence)
}

func TestAutoMatchPaymentsStableForTies(t *testing.T) {
	bids := []*model.OutstandingBid{
		{BidID: "bid_a", Buyer: "Chai Traders Ltd", Amount: 184500.00},
		{BidID: "bid_b", Buyer: "Chai Traders Ltd", Amount: 184500.00},
	}
	inflows := []*model.PaymentInflow{
		{InflowID: "inflow_1", Amount: 184500.00, PayerName: "Chai Traders Ltd", Status: model.InflowUnmatched},
		{InflowID: "inflow_2", Amount: 184500.00, PayerName: "Chai Traders Ltd", Status: model.InflowUnmatched},
	}

	suggestions := AutoMatchPayments(inflows, bids)
	assert.Len(t, suggestions, 4)

	// Equal confidence keeps inflow order first, then bid order.
	assert.Equal(t, "inflow_1", suggestions[0].InflowID)
	assert.Equal(t, "bid_a", suggestions[0].BidID)
	assert.Equal(t, "inflow_1", suggestions[1].InflowID)
	assert.Equal(t, "bid_b", suggestions[1].BidID)
	assert.Equal(t, "inflow_2", suggestions[2].InflowID)
	assert.Equal(t, "inflow_2", suggestions[3].InflowID)
}

func TestMatchesRules(t *testing.T) {
	s := &Teaflow{}
	now := time.Now()

	bid := &model.OutstandingBid{
		BidID:          "bid_1",
		Buyer:          "Chai Traders Ltd",
		Amount:         184500.00,
		Currency:       "KES",
		CreatedAt:      now,
		ESlipReference: "eslip_8f2a",
	}
	inflow := &model.PaymentInflow{
		Amount:    183000.00,
		Currency:  "kes",
		PayerName: "Chai Traderz Ltd",
		Reference: "eslip_8f2a",
		Date:      now.Add(2 * time.Hour),
	}

	rules := []model.MatchingRule{
		{
			RuleID: "rule_1",
			Name:   "tolerant settlement",
			Criteria: []model.MatchingCriteria{
				{Field: "amount", Operator: "equals", AllowableDrift: 0.01},
				{Field: "currency", Operator: "equals"},
				{Field: "payer_name", Operator: "contains", AllowableDrift: 10},
				{Field: "date", Operator: "after"},
			},
		},
	}

	assert.True(t, s.matchesRules(inflow, bid, rules))

	// One failing criterion fails the whole rule.
	inflow.Currency = "USD"
	assert.False(t, s.matchesRules(inflow, bid, rules))

	// Any matching rule is enough.
	rules = append(rules, model.MatchingRule{
		RuleID: "rule_2",
		Name:   "reference only",
		Criteria: []model.MatchingCriteria{
			{Field: "reference", Operator: "equals"},
		},
	})
	assert.True(t, s.matchesRules(inflow, bid, rules))
}

func TestPartialMatch(t *testing.T) {
	s := &Teaflow{}

	// Containment always matches, regardless of drift.
	assert.True(t, s.partialMatch("Chai Traders Ltd Nairobi", "chai traders ltd", 0))

	// One edit in sixteen characters is within a 10% drift.
	assert.True(t, s.partialMatch("chai traderz ltd", "chai traders ltd", 10))
	assert.False(t, s.partialMatch("chai traderz ltd", "chai traders ltd", 5))
}
