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
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/wacul/ptr"

	"github.com/teaflowhq/teaflow/internal/apierror"
	redlock "github.com/teaflowhq/teaflow/internal/lock"
	"github.com/teaflowhq/teaflow/internal/notification"
	"github.com/teaflowhq/teaflow/internal/search"
	"github.com/teaflowhq/teaflow/model"
)

const (
	bidLockTimeout     = 30 * time.Second
	bidLockWaitTimeout = 10 * time.Second
)

// CreateBid records a new bid at the start of the pipeline. The amount is
// derived from quantity and price when not supplied explicitly.
func (s *Teaflow) CreateBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Creating Bid")
	defer span.End()

	if bid.Amount == 0 {
		bid.Amount = bid.QuantityKg * bid.PricePerKg
	}
	if bid.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Bid amount must be positive", nil)
	}

	bid.BidID = model.GenerateUUIDWithSuffix("bid")
	bid.Status = model.StatusBidIntake
	bid.CreatedAt = time.Now()
	bid.Payment = &model.PaymentDetails{
		Status:         model.PaymentPending,
		ExpectedAmount: bid.Amount,
	}

	created, err := s.datasource.RecordBid(ctx, bid)
	if err != nil {
		return nil, err
	}

	s.postBidActions(ctx, created)
	return created, nil
}

// GetBid retrieves a bid by its public ID.
func (s *Teaflow) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Fetching Bid")
	defer span.End()

	return s.datasource.GetBidByID(ctx, id)
}

// ListBids retrieves bids, newest first.
func (s *Teaflow) ListBids(ctx context.Context, limit, offset int) ([]model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Fetching All Bids")
	defer span.End()

	return s.datasource.GetAllBids(ctx, limit, offset)
}

// ListBidsByStatus retrieves bids sitting in one pipeline stage.
func (s *Teaflow) ListBidsByStatus(ctx context.Context, status model.Status, limit, offset int) ([]*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Fetching Bids By Status")
	defer span.End()

	if !status.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown status '%s'", status), nil)
	}
	return s.datasource.GetBidsByStatus(ctx, status, limit, offset)
}

// GetTransitionHistory retrieves a bid's committed status changes.
func (s *Teaflow) GetTransitionHistory(ctx context.Context, bidID string) ([]*model.TransitionLog, error) {
	return s.datasource.GetTransitionLogs(ctx, bidID)
}

// ValidateBidTransition checks a proposed transition without committing
// anything.
func (s *Teaflow) ValidateBidTransition(ctx context.Context, bidID string, target model.Status, permissions model.PermissionSet) (model.TransitionResult, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return model.TransitionResult{}, err
	}
	return s.engine.ValidateTransition(bid, target, permissions), nil
}

// NextAllowedStatuses returns the statuses the caller could attempt to
// move the bid to from its current stage.
func (s *Teaflow) NextAllowedStatuses(ctx context.Context, bidID string, permissions model.PermissionSet) ([]model.Status, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	return s.engine.NextAllowedStatuses(bid, permissions), nil
}

// BidProgress reports how far along the pipeline a bid is, as a
// percentage.
func (s *Teaflow) BidProgress(ctx context.Context, bidID string) (float64, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return 0, err
	}
	return s.engine.Progress(bid.Status)
}

// CommitTransition validates and commits a status change under the bid's
// lock, so concurrent commits and automation runs against the same bid
// are serialized. On success the new status is persisted, the change is
// appended to the audit trail and post-commit actions (webhook, search
// indexing, automation) are dispatched.
func (s *Teaflow) CommitTransition(ctx context.Context, bidID string, target model.Status, permissions model.PermissionSet, actor string) (model.TransitionResult, error) {
	ctx, span := tracer.Start(ctx, "Committing Bid Transition")
	defer span.End()

	locker := redlock.NewLocker(s.redis, fmt.Sprintf("bid:%s", bidID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, bidLockTimeout, bidLockWaitTimeout); err != nil {
		return model.TransitionResult{}, err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			notification.NotifyError(err)
		}
	}()

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return model.TransitionResult{}, err
	}

	result := s.engine.ValidateTransition(bid, target, permissions)
	if !result.Valid {
		return result, nil
	}

	if err := s.commitStatus(ctx, bid, target, actor, false); err != nil {
		return model.TransitionResult{}, err
	}

	bid.Status = target
	s.postBidActions(ctx, bid)
	s.queueAutomation(ctx, bid)
	return result, nil
}

// RevertBidStatus rolls a bid back to an earlier stage. This is an
// administrative override; it bypasses the transition table but still
// records the change in the audit trail.
func (s *Teaflow) RevertBidStatus(ctx context.Context, bidID string, target model.Status, permissions model.PermissionSet, actor string) (model.TransitionResult, error) {
	ctx, span := tracer.Start(ctx, "Reverting Bid Status")
	defer span.End()

	locker := redlock.NewLocker(s.redis, fmt.Sprintf("bid:%s", bidID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, bidLockTimeout, bidLockWaitTimeout); err != nil {
		return model.TransitionResult{}, err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			notification.NotifyError(err)
		}
	}()

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return model.TransitionResult{}, err
	}

	result := s.engine.Revert(bid, target, permissions)
	if !result.Valid {
		return result, nil
	}

	if err := s.commitStatus(ctx, bid, target, actor, true); err != nil {
		return model.TransitionResult{}, err
	}

	bid.Status = target
	if err := SendWebhook(NewWebhook{Event: "bid.reverted", Payload: bid}); err != nil {
		notification.NotifyError(err)
	}
	s.indexBid(bid)
	return result, nil
}

// commitStatus persists the status change and appends it to the audit
// trail. Callers must hold the bid's lock.
func (s *Teaflow) commitStatus(ctx context.Context, bid *model.Bid, target model.Status, actor string, reverted bool) error {
	if err := s.datasource.UpdateBidStatus(ctx, bid.BidID, target); err != nil {
		return err
	}
	logEntry := &model.TransitionLog{
		LogID:      model.GenerateUUIDWithSuffix("tlog"),
		BidID:      bid.BidID,
		FromStatus: bid.Status,
		ToStatus:   target,
		Actor:      actor,
		Reverted:   reverted,
		CreatedAt:  time.Now(),
	}
	if err := s.datasource.RecordTransitionLog(ctx, logEntry); err != nil {
		// The status change stands; a missing audit row is reported, not
		// rolled back.
		notification.NotifyError(err)
	}
	return nil
}

// postBidActions dispatches the side effects of a bid change: webhook
// notification and search indexing. Failures are reported and never
// surfaced to the caller.
func (s *Teaflow) postBidActions(_ context.Context, bid *model.Bid) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   getEventFromStatus(bid.Status),
			Payload: bid,
		})
		if err != nil {
			notification.NotifyError(err)
		}
		s.indexBid(bid)
	}()
}

func (s *Teaflow) indexBid(bid *model.Bid) {
	if err := s.queue.queueIndexData(bid.BidID, search.CollectionBids, bid); err != nil {
		notification.NotifyError(err)
	}
}

// queueAutomation enqueues the bid for deferred workflow rule evaluation.
func (s *Teaflow) queueAutomation(ctx context.Context, bid *model.Bid) {
	if err := s.queue.Enqueue(ctx, bid); err != nil {
		notification.NotifyError(err)
	}
}

// ProcessAutomation is the asynq handler for automation tasks. It
// re-fetches the bid so rules see current state, then evaluates the
// default rule set under the bid's lock.
func (s *Teaflow) ProcessAutomation(ctx context.Context, task *asynq.Task) error {
	var queued AutomationPayload
	if err := json.Unmarshal(task.Payload(), &queued); err != nil {
		return err
	}

	locker := redlock.NewLocker(s.redis, fmt.Sprintf("bid:%s", queued.Data.BidID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, bidLockTimeout, bidLockWaitTimeout); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			notification.NotifyError(err)
		}
	}()

	bid, err := s.datasource.GetBidByID(ctx, queued.Data.BidID)
	if err != nil {
		return err
	}

	s.engine.EvaluateRules(ctx, bid, s.DefaultWorkflowRules())
	return nil
}

// DefaultWorkflowRules returns the built-in automation rules evaluated
// after every committed transition.
func (s *Teaflow) DefaultWorkflowRules() []model.WorkflowRule {
	return []model.WorkflowRule{
		{
			RuleID:   "notify-payout-review",
			Name:     "Request payout review",
			Priority: 100,
			Enabled:  true,
			Condition: func(b *model.Bid) bool {
				return b.Status == model.StatusPayoutApproval && b.Payout == nil
			},
			Action: func(ctx context.Context, b *model.Bid) error {
				b.Payout = &model.PayoutDetails{Status: model.PayoutPending}
				if err := s.datasource.UpdateBidDetails(ctx, b); err != nil {
					return err
				}
				return SendWebhook(NewWebhook{Event: "payout.review_requested", Payload: b})
			},
		},
		{
			RuleID:   "auto-advance-paid-bid",
			Name:     "Advance fully paid bid to split processing",
			Priority: 50,
			Enabled:  true,
			Condition: func(b *model.Bid) bool {
				return b.Status == model.StatusPaymentMatching && b.PaymentReceived()
			},
			Action: func(ctx context.Context, b *model.Bid) error {
				// The system actor carries the wildcard; the transition
				// still runs through the full validation path.
				result := s.engine.ValidateTransition(b, model.StatusSplitProcessing, model.NewPermissionSet(model.PermissionWildcard))
				if !result.Valid {
					return fmt.Errorf("auto-advance refused: %s", result.Message)
				}
				if err := s.commitStatus(ctx, b, model.StatusSplitProcessing, "system", false); err != nil {
					return err
				}
				b.Status = model.StatusSplitProcessing
				s.postBidActions(ctx, b)
				return nil
			},
		},
		{
			RuleID:   "notify-released-bid",
			Name:     "Notify warehouse of released tea",
			Priority: 10,
			Enabled:  true,
			Condition: func(b *model.Bid) bool {
				return b.Status == model.StatusTeaRelease && b.Release != nil
			},
			Action: func(_ context.Context, b *model.Bid) error {
				return SendWebhook(NewWebhook{Event: "tea.release_confirmed", Payload: b})
			},
		},
	}
}

// GenerateESlip creates the settlement slip for a bid in intake. The
// reference is what buyers quote in their bank transfer narration.
func (s *Teaflow) GenerateESlip(ctx context.Context, bidID string) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Generating E-Slip")
	defer span.End()

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.ESlip != nil && bid.ESlip.Reference != "" {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "E-slip already generated for this bid", nil)
	}

	bid.ESlip = &model.ESlipDetails{
		Reference:   model.GenerateUUIDWithSuffix("eslip"),
		Status:      model.ESlipGenerated,
		GeneratedAt: time.Now(),
	}
	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// MarkESlipSent records that the e-slip reached the buyer.
func (s *Teaflow) MarkESlipSent(ctx context.Context, bidID string) (*model.Bid, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.ESlip == nil || bid.ESlip.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "E-slip has not been generated", nil)
	}

	bid.ESlip.Status = model.ESlipSent
	bid.ESlip.SentAt = ptr.Time(time.Now())
	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// RecordPaymentReceipt applies a received amount against a bid and
// updates the payment sub-record's status. An amount within the matcher's
// tolerance of the expected total marks the bid paid.
func (s *Teaflow) RecordPaymentReceipt(ctx context.Context, bidID string, amount float64) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Recording Payment Receipt")
	defer span.End()

	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payment amount must be positive", nil)
	}

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Payment == nil {
		bid.Payment = &model.PaymentDetails{
			Status:         model.PaymentPending,
			ExpectedAmount: bid.Amount,
		}
	}

	bid.Payment.ReceivedAmount += amount
	bid.Payment.ReceivedAt = ptr.Time(time.Now())
	if bid.Payment.ReceivedAmount >= bid.Payment.ExpectedAmount ||
		math.Abs(bid.Payment.ReceivedAmount-bid.Payment.ExpectedAmount) <= amountTolerance {
		bid.Payment.Status = model.PaymentPaid
	} else {
		bid.Payment.Status = model.PaymentPartial
	}

	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// ReviewPayout moves a bid's payout sub-record through review. Approving
// stamps the reviewer and approval time; rejecting only records the
// reviewer.
func (s *Teaflow) ReviewPayout(ctx context.Context, bidID, reviewer string, approve bool) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Reviewing Payout")
	defer span.End()

	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != model.StatusPayoutApproval {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Bid is not awaiting payout approval", nil)
	}
	if bid.Payout == nil {
		bid.Payout = &model.PayoutDetails{Status: model.PayoutPending}
	}

	bid.Payout.ReviewedBy = reviewer
	if approve {
		bid.Payout.Status = model.PayoutApproved
		bid.Payout.ApprovedAt = ptr.Time(time.Now())
	} else {
		bid.Payout.Status = model.PayoutRejected
	}

	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// RecordTeaRelease stamps the warehouse warrant under which the tea left
// the auction floor.
func (s *Teaflow) RecordTeaRelease(ctx context.Context, bidID, warrantNumber string) (*model.Bid, error) {
	bid, err := s.datasource.GetBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if !bid.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Bid has not reached tea release", nil)
	}

	bid.Release = &model.ReleaseDetails{
		WarrantNumber: warrantNumber,
		ReleasedAt:    ptr.Time(time.Now()),
	}
	if err := s.datasource.UpdateBidDetails(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}
