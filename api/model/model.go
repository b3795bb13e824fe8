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
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/teaflowhq/teaflow/model"
)

// CreateBid is the request body for recording a new bid.
type CreateBid struct {
	LotID      string                 `json:"lot_id"`
	Buyer      string                 `json:"buyer"`
	Grade      string                 `json:"grade"`
	QuantityKg float64                `json:"quantity_kg"`
	PricePerKg float64                `json:"price_per_kg"`
	Amount     float64                `json:"amount"`
	Currency   string                 `json:"currency"`
	MetaData   map[string]interface{} `json:"meta_data"`
}

// TransitionRequest is the request body for validating or committing a
// status transition. Permissions are the raw capability tokens of the
// acting user; the server never infers them.
type TransitionRequest struct {
	TargetStatus string   `json:"target_status"`
	Permissions  []string `json:"permissions"`
	Actor        string   `json:"actor"`
}

// RecordInflow is the request body for recording a single payment inflow
// outside a statement upload.
type RecordInflow struct {
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PayerName     string    `json:"payer_name"`
	Reference     string    `json:"reference"`
	BankReference string    `json:"bank_reference"`
	Date          time.Time `json:"date"`
}

// ConfirmMatch is the request body for applying a match between an
// inflow and a bid.
type ConfirmMatch struct {
	InflowID string `json:"inflow_id"`
	BidID    string `json:"bid_id"`
}

// SplitBeneficiary is one party in a split configuration request.
type SplitBeneficiary struct {
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Percent float64 `json:"percent"`
}

// ConfigureSplit is the request body for configuring a bid's proceeds
// split. Amounts are computed server-side from the percentages.
type ConfigureSplit struct {
	Beneficiaries []SplitBeneficiary `json:"beneficiaries"`
}

// ReviewPayout is the request body for approving or rejecting a payout.
type ReviewPayout struct {
	Reviewer string `json:"reviewer"`
	Decision string `json:"decision"` // approve or reject
}

// RecordRelease is the request body for stamping the warehouse warrant
// on a released bid.
type RecordRelease struct {
	WarrantNumber string `json:"warrant_number"`
}

func (b *CreateBid) ValidateCreateBid() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.LotID, validation.Required),
		validation.Field(&b.Buyer, validation.Required),
		validation.Field(&b.Currency, validation.Required),
		validation.Field(&b.Amount, validation.By(amountOrQuantityValidation(b))),
	)
}

func amountOrQuantityValidation(b *CreateBid) validation.RuleFunc {
	return func(value interface{}) error {
		if b.Amount <= 0 && (b.QuantityKg <= 0 || b.PricePerKg <= 0) {
			return errors.New("either amount or quantity_kg and price_per_kg are required")
		}
		return nil
	}
}

func (t *TransitionRequest) ValidateTransitionRequest() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.TargetStatus, validation.Required),
		validation.Field(&t.Permissions, validation.Required),
	)
}

func (r *RecordInflow) ValidateRecordInflow() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.Required, validation.Min(0.01)),
		validation.Field(&r.PayerName, validation.Required),
	)
}

func (c *ConfirmMatch) ValidateConfirmMatch() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.InflowID, validation.Required),
		validation.Field(&c.BidID, validation.Required),
	)
}

func (s *ConfigureSplit) ValidateConfigureSplit() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Beneficiaries, validation.Required, validation.Length(1, 0)),
	)
}

func (r *ReviewPayout) ValidateReviewPayout() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reviewer, validation.Required),
		validation.Field(&r.Decision, validation.Required, validation.In("approve", "reject")),
	)
}

func (r *RecordRelease) ValidateRecordRelease() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.WarrantNumber, validation.Required),
	)
}

func (b *CreateBid) ToBid() *model.Bid {
	return &model.Bid{
		LotID:      b.LotID,
		Buyer:      b.Buyer,
		Grade:      b.Grade,
		QuantityKg: b.QuantityKg,
		PricePerKg: b.PricePerKg,
		Amount:     b.Amount,
		Currency:   b.Currency,
		MetaData:   b.MetaData,
	}
}

func (r *RecordInflow) ToInflow() *model.PaymentInflow {
	return &model.PaymentInflow{
		Amount:        r.Amount,
		Currency:      r.Currency,
		PayerName:     r.PayerName,
		Reference:     r.Reference,
		BankReference: r.BankReference,
		Date:          r.Date,
	}
}

func (s *ConfigureSplit) ToBeneficiaries() []model.Beneficiary {
	beneficiaries := make([]model.Beneficiary, len(s.Beneficiaries))
	for i, b := range s.Beneficiaries {
		beneficiaries[i] = model.Beneficiary{
			Name:    b.Name,
			Role:    b.Role,
			Percent: b.Percent,
		}
	}
	return beneficiaries
}
