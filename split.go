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
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/teaflowhq/teaflow/internal/apierror"
	"github.com/teaflowhq/teaflow/model"
)

// AllocateSplit computes each beneficiary's amount from their percentage
// of the bid amount. Amounts are computed in decimal and rounded to two
// places; any rounding remainder is assigned to the first beneficiary so
// the allocations always sum to exactly the bid amount. Percentages must
// sum to 100.
func AllocateSplit(amount float64, beneficiaries []model.Beneficiary) ([]model.Beneficiary, error) {
	if len(beneficiaries) == 0 {
		return nil, fmt.Errorf("at least one beneficiary is required")
	}

	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	for _, b := range beneficiaries {
		p := decimal.NewFromFloat(b.Percent)
		if p.IsNegative() || p.IsZero() {
			return nil, fmt.Errorf("beneficiary %s has a non-positive percentage", b.Name)
		}
		total = total.Add(p)
	}
	if !total.Equal(hundred) {
		return nil, fmt.Errorf("split percentages must sum to 100, got %s", total.String())
	}

	bidAmount := decimal.NewFromFloat(amount)
	allocated := make([]model.Beneficiary, len(beneficiaries))
	sum := decimal.Zero
	for i, b := range beneficiaries {
		share := bidAmount.Mul(decimal.NewFromFloat(b.Percent)).Div(hundred).Round(2)
		allocated[i] = b
		allocated[i].Amount, _ = share.Float64()
		allocated[i].Status = model.BeneficiaryPending
		sum = sum.Add(share)
	}

	// Rounding remainder goes to the first beneficiary, conventionally
	// the producer with the largest share.
	remainder := bidAmount.Sub(sum)
	if !remainder.IsZero() {
		first := decimal.NewFromFloat(allocated[0].Amount).Add(remainder)
		allocated[0].Amount, _ = first.Float64()
	}

	return allocated, nil
}

// ConfigureSplit validates and stores the proceeds split for a bid in
// split processing. The stored amounts come from AllocateSplit, never
// from the caller.
func (s *Teaflow) ConfigureSplit(ctx context.Context, bidID string, beneficiaries []model.Beneficiary) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Configuring Split")
	defer span.End()

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != model.StatusSplitProcessing {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Bid is not in split processing", nil)
	}

	allocated, err := AllocateSplit(bid.Amount, beneficiaries)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	bid.Split = &model.SplitDetails{Beneficiaries: allocated}
	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// MarkBeneficiaryReady flags one beneficiary of a bid's split as ready
// for payout.
func (s *Teaflow) MarkBeneficiaryReady(ctx context.Context, bidID, name string) (*model.Bid, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Split == nil || len(bid.Split.Beneficiaries) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Split beneficiaries have not been configured", nil)
	}

	found := false
	for i := range bid.Split.Beneficiaries {
		if bid.Split.Beneficiaries[i].Name == name {
			bid.Split.Beneficiaries[i].Status = model.BeneficiaryReady
			found = true
			break
		}
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Beneficiary '%s' not found in split", name), nil)
	}

	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}
