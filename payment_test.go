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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/teaflowhq/teaflow/model"
)

var inflowColumns = []string{
	"id", "inflow_id", "upload_id", "amount", "currency", "payer_name",
	"reference", "bank_reference", "date", "status", "matched_bid_id", "source",
}

func inflowRow(inflowID string, amount float64, status string, matchedBidID interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(inflowColumns).AddRow(
		1, inflowID, "upload_1", amount, "KES", "Chai Traders Ltd",
		"eslip_8f2a", "FT2408/eslip_8f2a", time.Now(), status, matchedBidID, "equity-bank",
	)
}

var matchingRuleColumns = []string{
	"id", "rule_id", "created_at", "updated_at", "name", "description", "criteria",
}

func outstandingBidRow(bidID, buyer string, amount float64, eslipRef string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"bid_id", "buyer", "amount", "currency", "created_at", "eslip_reference"}).
		AddRow(bidID, buyer, amount, "KES", time.Now(), eslipRef)
}

func TestRecordInflow(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inflow, err := d.RecordInflow(context.Background(), &model.PaymentInflow{
		Amount:    184500.00,
		Currency:  "KES",
		PayerName: "Chai Traders Ltd",
		Source:    "manual",
	})
	assert.NoError(t, err)
	assert.Contains(t, inflow.InflowID, "inflow_")
	assert.Equal(t, model.InflowUnmatched, inflow.Status)
	assert.WithinDuration(t, time.Now(), inflow.Date, time.Second)

	_, err = d.RecordInflow(context.Background(), &model.PaymentInflow{Amount: 0})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "positive")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetInflow(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs("inflow_1").
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowUnmatched, nil))

	inflow, err := d.GetInflow(context.Background(), "inflow_1")
	assert.NoError(t, err)
	assert.Equal(t, "inflow_1", inflow.InflowID)
	assert.Equal(t, 184500.00, inflow.Amount)
	assert.Equal(t, "equity-bank", inflow.Source)
}

func TestSuggestMatches(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs(model.InflowUnmatched).
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowUnmatched, nil))

	mock.ExpectQuery("SELECT bid_id, buyer, amount").
		WithArgs(model.StatusPaymentMatching).
		WillReturnRows(outstandingBidRow("bid_1", "Chai Traders Ltd", 184500.00, "eslip_8f2a"))

	mock.ExpectQuery("SELECT id, rule_id, created_at").
		WillReturnRows(sqlmock.NewRows(matchingRuleColumns))

	suggestions, err := d.SuggestMatches(context.Background())
	assert.NoError(t, err)
	assert.Len(t, suggestions, 1)
	assert.Equal(t, "inflow_1", suggestions[0].InflowID)
	assert.Equal(t, "bid_1", suggestions[0].BidID)
	assert.Equal(t, 140, suggestions[0].Confidence)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// An inflow the heuristic scores below the threshold is still suggested
// when a stored matching rule holds, at the threshold confidence.
func TestSuggestMatchesAppliesStoredRules(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	// 170000 against 184500 misses the exact and approximate amount
	// signals, the payer shares nothing with the buyer and no reference
	// is quoted, so the heuristic scores the pair zero.
	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs(model.InflowUnmatched).
		WillReturnRows(sqlmock.NewRows(inflowColumns).AddRow(
			1, "inflow_1", "upload_1", 170000.00, "KES", "Tea Brokers EA",
			"", "", time.Now(), model.InflowUnmatched, nil, "equity-bank",
		))

	mock.ExpectQuery("SELECT bid_id, buyer, amount").
		WithArgs(model.StatusPaymentMatching).
		WillReturnRows(outstandingBidRow("bid_1", "Chai Traders Ltd", 184500.00, "eslip_8f2a"))

	criteria := `[{"field":"amount","operator":"equals","allowable_drift":0.1},` +
		`{"field":"currency","operator":"equals"}]`
	mock.ExpectQuery("SELECT id, rule_id, created_at").
		WillReturnRows(sqlmock.NewRows(matchingRuleColumns).AddRow(
			1, "rule_1", time.Now(), time.Now(), "tolerant settlement", "", []byte(criteria),
		))

	suggestions, err := d.SuggestMatches(context.Background())
	assert.NoError(t, err)
	assert.Len(t, suggestions, 1)
	assert.Equal(t, "inflow_1", suggestions[0].InflowID)
	assert.Equal(t, "bid_1", suggestions[0].BidID)
	assert.Equal(t, 70, suggestions[0].Confidence)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestConfirmMatch(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs("inflow_1").
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowUnmatched, nil))
	mock.ExpectQuery("SELECT id, bid_id, lot_id, buyer").
		WithArgs("bid_1").
		WillReturnRows(bidRow("bid_1", model.StatusPaymentMatching, 184500.00, map[string]string{
			"payment_details": `{"status":"pending","expected_amount":184500,"received_amount":0}`,
		}))
	mock.ExpectExec("UPDATE teaflow.bids").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE teaflow.payment_inflows").
		WithArgs("inflow_1", model.InflowMatched, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	bid, err := d.ConfirmMatch(context.Background(), "inflow_1", "bid_1")
	assert.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, bid.Payment.Status)
	assert.Equal(t, 184500.00, bid.Payment.ReceivedAmount)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestConfirmMatchRejectsMatchedInflow(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs("inflow_1").
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowMatched, "bid_1"))

	_, err = d.ConfirmMatch(context.Background(), "inflow_1", "bid_1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not unmatched")
}

func TestUnmatchInflow(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs("inflow_1").
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowMatched, "bid_1"))
	mock.ExpectQuery("SELECT id, bid_id, lot_id, buyer").
		WithArgs("bid_1").
		WillReturnRows(bidRow("bid_1", model.StatusPaymentMatching, 184500.00, map[string]string{
			"payment_details": `{"status":"paid","expected_amount":184500,"received_amount":184500}`,
		}))
	mock.ExpectExec("UPDATE teaflow.bids").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE teaflow.payment_inflows").
		WithArgs("inflow_1", model.InflowUnmatched, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	inflow, err := d.UnmatchInflow(context.Background(), "inflow_1")
	assert.NoError(t, err)
	assert.Equal(t, model.InflowUnmatched, inflow.Status)
	assert.Empty(t, inflow.MatchedBidID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUnmatchInflowRejectsUnmatched(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectQuery("SELECT id, inflow_id, upload_id").
		WithArgs("inflow_1").
		WillReturnRows(inflowRow("inflow_1", 184500.00, model.InflowUnmatched, nil))

	_, err = d.UnmatchInflow(context.Background(), "inflow_1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not matched")
}

func TestCreateMatchingRule(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectExec("INSERT INTO teaflow.matching_rules").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rule, err := d.CreateMatchingRule(context.Background(), model.MatchingRule{
		Name: "tolerant settlement",
		Criteria: []model.MatchingCriteria{
			{Field: "amount", Operator: "equals", AllowableDrift: 0.01},
		},
	})
	assert.NoError(t, err)
	assert.Contains(t, rule.RuleID, "rule_")
	assert.WithinDuration(t, time.Now(), rule.CreatedAt, time.Second)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateMatchingRuleValidation(t *testing.T) {
	datasource, _, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	cases := []struct {
		name    string
		rule    model.MatchingRule
		wantErr string
	}{
		{
			name:    "missing name",
			rule:    model.MatchingRule{Criteria: []model.MatchingCriteria{{Field: "amount", Operator: "equals"}}},
			wantErr: "rule name is required",
		},
		{
			name:    "no criteria",
			rule:    model.MatchingRule{Name: "empty"},
			wantErr: "at least one matching criteria",
		},
		{
			name: "bad operator",
			rule: model.MatchingRule{Name: "r", Criteria: []model.MatchingCriteria{
				{Field: "amount", Operator: "matches"},
			}},
			wantErr: "invalid operator",
		},
		{
			name: "bad field",
			rule: model.MatchingRule{Name: "r", Criteria: []model.MatchingCriteria{
				{Field: "buyer_phone", Operator: "equals"},
			}},
			wantErr: "invalid field",
		},
		{
			name: "amount drift out of range",
			rule: model.MatchingRule{Name: "r", Criteria: []model.MatchingCriteria{
				{Field: "amount", Operator: "equals", AllowableDrift: 1.5},
			}},
			wantErr: "between 0 and 1",
		},
		{
			name: "negative date drift",
			rule: model.MatchingRule{Name: "r", Criteria: []model.MatchingCriteria{
				{Field: "date", Operator: "equals", AllowableDrift: -60},
			}},
			wantErr: "non-negative",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.CreateMatchingRule(context.Background(), tc.rule)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestUpdateMatchingRule(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	created := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT id, rule_id, created_at").
		WithArgs("rule_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rule_id", "created_at", "updated_at", "name", "description", "criteria"}).
			AddRow(1, "rule_1", created, created, "old name", "", `[{"field":"amount","operator":"equals"}]`))
	mock.ExpectExec("UPDATE teaflow.matching_rules").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rule, err := d.UpdateMatchingRule(context.Background(), model.MatchingRule{
		RuleID: "rule_1",
		Name:   "new name",
		Criteria: []model.MatchingCriteria{
			{Field: "reference", Operator: "equals"},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "new name", rule.Name)
	assert.WithinDuration(t, created, rule.CreatedAt, time.Second)
	assert.True(t, rule.UpdatedAt.After(rule.CreatedAt))
}

func TestDeleteMatchingRule(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	mock.ExpectExec("DELETE FROM teaflow.matching_rules").
		WithArgs("rule_1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, d.DeleteMatchingRule(context.Background(), "rule_1"))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUploadBankStatementCSV(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	csvData := strings.Join([]string{
		"Amount,Date,Payer_Name,Currency,Reference",
		"184500.00,2026-08-14,Chai Traders Ltd,KES,eslip_8f2a",
		"92250.00,2026-08-15,Nandi Hills Tea Co,KES,eslip_77c1",
	}, "\n")

	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(2, 1))

	uploadID, total, err := d.UploadBankStatement(context.Background(), "equity-bank", strings.NewReader(csvData), "statement.csv")
	assert.NoError(t, err)
	assert.Contains(t, uploadID, "upload_")
	assert.Equal(t, 2, total)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUploadBankStatementJSON(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	jsonData := `[
		{"amount": 184500.00, "currency": "KES", "payer_name": "Chai Traders Ltd", "reference": "eslip_8f2a", "date": "2026-08-14T09:30:00Z"}
	]`

	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, total, err := d.UploadBankStatement(context.Background(), "kcb", strings.NewReader(jsonData), "statement.json")
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUploadBankStatementBadRows(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	if err != nil {
		t.Fatalf("Error creating test data source: %s", err)
	}

	d, err := NewTeaflow(datasource)
	if err != nil {
		t.Fatalf("Error creating Teaflow instance: %s", err)
	}

	// The middle row has a bogus amount; the upload still stores the rest.
	csvData := strings.Join([]string{
		"Amount,Date,Payer_Name",
		"184500.00,2026-08-14,Chai Traders Ltd",
		"not-a-number,2026-08-15,Nandi Hills Tea Co",
		"92250.00,2026-08-16,Kericho Gold Ltd",
	}, "\n")

	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO teaflow.payment_inflows").
		WillReturnResult(sqlmock.NewResult(2, 1))

	_, total, err := d.UploadBankStatement(context.Background(), "equity-bank", strings.NewReader(csvData), "statement.csv")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
	assert.Equal(t, 0, total)
}

func TestCreateColumnMap(t *testing.T) {
	columnMap, err := createColumnMap([]string{"Amount", " Date ", "PAYER_NAME", "Reference"})
	assert.NoError(t, err)
	assert.Equal(t, 0, columnMap["amount"])
	assert.Equal(t, 1, columnMap["date"])
	assert.Equal(t, 2, columnMap["payer_name"])

	_, err = createColumnMap([]string{"Amount", "Date"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Payer_Name")
}

func TestParseInflowRecord(t *testing.T) {
	columnMap, err := createColumnMap([]string{"Amount", "Date", "Payer_Name", "Reference"})
	assert.NoError(t, err)

	inflow, err := parseInflowRecord([]string{"184500.00", "2026-08-14", "Chai Traders Ltd", "eslip_8f2a"}, columnMap, "equity-bank")
	assert.NoError(t, err)
	assert.Equal(t, 184500.00, inflow.Amount)
	assert.Equal(t, "Chai Traders Ltd", inflow.PayerName)
	assert.Equal(t, "eslip_8f2a", inflow.Reference)
	assert.Equal(t, "equity-bank", inflow.Source)

	_, err = parseInflowRecord([]string{"-5", "2026-08-14", "x", ""}, columnMap, "equity-bank")
	assert.ErrorContains(t, err, "invalid amount")

	_, err = parseInflowRecord([]string{"10", "yesterday", "x", ""}, columnMap, "equity-bank")
	assert.ErrorContains(t, err, "invalid date")

	_, err = parseInflowRecord([]string{"10", "2026-08-14"}, columnMap, "equity-bank")
	assert.ErrorContains(t, err, "incorrect number of fields")
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, 2026, parseTime("2026-08-14T09:30:00Z").Year())
	assert.Equal(t, time.August, parseTime("2026-08-14").Month())
	assert.True(t, parseTime("14/08/2026").IsZero())
}

func TestLooksLikeCSV(t *testing.T) {
	assert.True(t, looksLikeCSV([]byte("a,b,c\n1,2,3\n4,5,6")))
	assert.False(t, looksLikeCSV([]byte("a,b,c")))
	assert.False(t, looksLikeCSV([]byte("a,b,c\n1,2")))
	assert.False(t, looksLikeCSV([]byte("alpha\nbeta")))
}
