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

package database

import (
	"context"

	"github.com/teaflowhq/teaflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	bid           // Interface for bid-related operations
	inflow        // Interface for payment inflow operations
	matchingRule  // Interface for matching rule operations
	transitionLog // Interface for the status transition audit trail
}

// bid defines methods for handling bids.
type bid interface {
	RecordBid(ctx context.Context, bid *model.Bid) (*model.Bid, error)                                 // Records a new bid
	GetBidByID(ctx context.Context, id string) (*model.Bid, error)                                     // Retrieves a bid by ID
	GetAllBids(ctx context.Context, limit, offset int) ([]model.Bid, error)                            // Retrieves all bids
	GetBidsByStatus(ctx context.Context, status model.Status, limit, offset int) ([]*model.Bid, error) // Retrieves bids in a given stage
	UpdateBidStatus(ctx context.Context, id string, status model.Status) error                         // Updates the status of a bid
	UpdateBidDetails(ctx context.Context, bid *model.Bid) error                                        // Persists a bid's sub-records
	GetOutstandingBids(ctx context.Context) ([]*model.OutstandingBid, error)                           // Retrieves bids awaiting payment
}

// inflow defines methods for handling payment inflows.
type inflow interface {
	RecordInflow(ctx context.Context, inflow *model.PaymentInflow) error                                      // Records a parsed inflow
	GetInflowByID(ctx context.Context, id string) (*model.PaymentInflow, error)                               // Retrieves an inflow by ID
	GetInflowsPaginated(ctx context.Context, uploadID string, limit int, offset int64) ([]*model.PaymentInflow, error) // Retrieves inflows for an upload
	GetUnmatchedInflows(ctx context.Context) ([]*model.PaymentInflow, error)                                  // Retrieves all unmatched inflows
	UpdateInflowStatus(ctx context.Context, id string, status string, matchedBidID string) error              // Updates an inflow's matching status
}

// matchingRule defines methods for handling matching rules.
type matchingRule interface {
	RecordMatchingRule(ctx context.Context, rule *model.MatchingRule) error       // Records a matching rule
	GetMatchingRules(ctx context.Context) ([]*model.MatchingRule, error)          // Retrieves all matching rules
	GetMatchingRule(ctx context.Context, id string) (*model.MatchingRule, error)  // Retrieves a matching rule by ID
	UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) error       // Updates a matching rule
	DeleteMatchingRule(ctx context.Context, id string) error                      // Deletes a matching rule
}

// transitionLog defines methods for the status change audit trail.
type transitionLog interface {
	RecordTransitionLog(ctx context.Context, log *model.TransitionLog) error                  // Records a committed status change
	GetTransitionLogs(ctx context.Context, bidID string) ([]*model.TransitionLog, error)      // Retrieves a bid's status history
}
