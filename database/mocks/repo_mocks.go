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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/teaflowhq/teaflow/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Bid methods

func (m *MockDataSource) RecordBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	args := m.Called(ctx, bid)
	return args.Get(0).(*model.Bid), args.Error(1)
}

func (m *MockDataSource) GetBidByID(ctx context.Context, id string) (*model.Bid, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Bid), args.Error(1)
}

func (m *MockDataSource) GetAllBids(ctx context.Context, limit, offset int) ([]model.Bid, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Bid), args.Error(1)
}

func (m *MockDataSource) GetBidsByStatus(ctx context.Context, status model.Status, limit, offset int) ([]*model.Bid, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]*model.Bid), args.Error(1)
}

func (m *MockDataSource) UpdateBidStatus(ctx context.Context, id string, status model.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) UpdateBidDetails(ctx context.Context, bid *model.Bid) error {
	args := m.Called(ctx, bid)
	return args.Error(0)
}

func (m *MockDataSource) GetOutstandingBids(ctx context.Context) ([]*model.OutstandingBid, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.OutstandingBid), args.Error(1)
}

// Inflow methods

func (m *MockDataSource) RecordInflow(ctx context.Context, inflow *model.PaymentInflow) error {
	args := m.Called(ctx, inflow)
	return args.Error(0)
}

func (m *MockDataSource) GetInflowByID(ctx context.Context, id string) (*model.PaymentInflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentInflow), args.Error(1)
}

func (m *MockDataSource) GetInflowsPaginated(ctx context.Context, uploadID string, limit int, offset int64) ([]*model.PaymentInflow, error) {
	args := m.Called(ctx, uploadID, limit, offset)
	return args.Get(0).([]*model.PaymentInflow), args.Error(1)
}

func (m *MockDataSource) GetUnmatchedInflows(ctx context.Context) ([]*model.PaymentInflow, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.PaymentInflow), args.Error(1)
}

func (m *MockDataSource) UpdateInflowStatus(ctx context.Context, id string, status string, matchedBidID string) error {
	args := m.Called(ctx, id, status, matchedBidID)
	return args.Error(0)
}

// Matching rule methods

func (m *MockDataSource) RecordMatchingRule(ctx context.Context, rule *model.MatchingRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockDataSource) GetMatchingRules(ctx context.Context) ([]*model.MatchingRule, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.MatchingRule), args.Error(1)
}

func (m *MockDataSource) GetMatchingRule(ctx context.Context, id string) (*model.MatchingRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MatchingRule), args.Error(1)
}

func (m *MockDataSource) UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockDataSource) DeleteMatchingRule(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Transition log methods

func (m *MockDataSource) RecordTransitionLog(ctx context.Context, log *model.TransitionLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockDataSource) GetTransitionLogs(ctx context.Context, bidID string) ([]*model.TransitionLog, error) {
	args := m.Called(ctx, bidID)
	return args.Get(0).([]*model.TransitionLog), args.Error(1)
}
