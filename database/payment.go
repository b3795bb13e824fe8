package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/teaflowhq/teaflow/internal/apierror"
	"github.com/teaflowhq/teaflow/model"
)

// RecordInflow inserts a parsed payment inflow into the database.
func (d Datasource) RecordInflow(ctx context.Context, inflow *model.PaymentInflow) error {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Saving payment inflow to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO teaflow.payment_inflows(
			inflow_id, upload_id, amount, currency, payer_name,
			reference, bank_reference, date, status, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inflow.InflowID, inflow.UploadID, inflow.Amount, inflow.Currency, inflow.PayerName,
		inflow.Reference, inflow.BankReference, inflow.Date, inflow.Status, inflow.Source,
	)
	return err
}

// GetInflowByID retrieves a payment inflow by its public ID.
func (d Datasource) GetInflowByID(ctx context.Context, id string) (*model.PaymentInflow, error) {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Fetching payment inflow from db")
	defer span.End()

	inflow := &model.PaymentInflow{}
	var matchedBidID sql.NullString
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, inflow_id, upload_id, amount, currency, payer_name,
			reference, bank_reference, date, status, matched_bid_id, source
		FROM teaflow.payment_inflows
		WHERE inflow_id = $1
	`, id).Scan(
		&inflow.ID, &inflow.InflowID, &inflow.UploadID, &inflow.Amount,
		&inflow.Currency, &inflow.PayerName, &inflow.Reference,
		&inflow.BankReference, &inflow.Date, &inflow.Status,
		&matchedBidID, &inflow.Source,
	)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment inflow with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, err
	}
	inflow.MatchedBidID = matchedBidID.String
	return inflow, nil
}

// GetInflowsPaginated retrieves the inflows from one statement upload.
// Pages are cached briefly; statement uploads are append-only so a stale
// page only lags, never lies.
func (d Datasource) GetInflowsPaginated(ctx context.Context, uploadID string, limit int, offset int64) ([]*model.PaymentInflow, error) {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Fetching paginated inflows")
	defer span.End()

	cacheKey := fmt.Sprintf("inflows:paginated:%s:%d:%d", uploadID, limit, offset)

	var inflows []*model.PaymentInflow
	if d.Cache != nil {
		err := d.Cache.Get(ctx, cacheKey, &inflows)
		if err == nil && len(inflows) > 0 {
			return inflows, nil
		}
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, inflow_id, upload_id, amount, currency, payer_name,
			reference, bank_reference, date, status, matched_bid_id, source
		FROM teaflow.payment_inflows
		WHERE upload_id = $1
		ORDER BY date ASC, id ASC
		LIMIT $2 OFFSET $3
	`, uploadID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inflows, err = scanInflows(rows)
	if err != nil {
		return nil, err
	}

	if d.Cache != nil && len(inflows) > 0 {
		if err := d.Cache.Set(ctx, cacheKey, inflows, 5*time.Minute); err != nil {
			log.Printf("Failed to cache inflows: %v", err)
		}
	}

	return inflows, nil
}

// GetUnmatchedInflows retrieves every inflow still awaiting a match,
// oldest first so the matcher works through the backlog in order.
func (d Datasource) GetUnmatchedInflows(ctx context.Context) ([]*model.PaymentInflow, error) {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Fetching unmatched inflows")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, inflow_id, upload_id, amount, currency, payer_name,
			reference, bank_reference, date, status, matched_bid_id, source
		FROM teaflow.payment_inflows
		WHERE status = $1
		ORDER BY date ASC, id ASC
	`, model.InflowUnmatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInflows(rows)
}

func scanInflows(rows *sql.Rows) ([]*model.PaymentInflow, error) {
	var inflows []*model.PaymentInflow
	for rows.Next() {
		inflow := &model.PaymentInflow{}
		var matchedBidID sql.NullString
		err := rows.Scan(
			&inflow.ID, &inflow.InflowID, &inflow.UploadID, &inflow.Amount,
			&inflow.Currency, &inflow.PayerName, &inflow.Reference,
			&inflow.BankReference, &inflow.Date, &inflow.Status,
			&matchedBidID, &inflow.Source,
		)
		if err != nil {
			return nil, err
		}
		inflow.MatchedBidID = matchedBidID.String
		inflows = append(inflows, inflow)
	}
	return inflows, rows.Err()
}

// UpdateInflowStatus updates an inflow's matching status and, for
// matched inflows, the bid it settles.
func (d Datasource) UpdateInflowStatus(ctx context.Context, id string, status string, matchedBidID string) error {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Updating inflow status")
	defer span.End()

	bidID := sql.NullString{String: matchedBidID, Valid: matchedBidID != ""}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE teaflow.payment_inflows
		SET status = $2, matched_bid_id = $3
		WHERE inflow_id = $1
	`, id, status, bidID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment inflow with ID '%s' not found", id), nil)
	}
	return nil
}

// RecordMatchingRule inserts a new matching rule into the database.
func (d Datasource) RecordMatchingRule(ctx context.Context, rule *model.MatchingRule) error {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Saving matching rule to db")
	defer span.End()

	criteriaJSON, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO teaflow.matching_rules(
			rule_id, created_at, updated_at, name, description, criteria
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		rule.RuleID, rule.CreatedAt, rule.UpdatedAt, rule.Name, rule.Description, criteriaJSON,
	)
	return err
}

// GetMatchingRules retrieves all matching rules.
func (d Datasource) GetMatchingRules(ctx context.Context) ([]*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Fetching matching rules")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, rule_id, created_at, updated_at, name, description, criteria
		FROM teaflow.matching_rules
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*model.MatchingRule
	for rows.Next() {
		rule := &model.MatchingRule{}
		var criteriaJSON []byte
		err = rows.Scan(
			&rule.ID, &rule.RuleID, &rule.CreatedAt, &rule.UpdatedAt,
			&rule.Name, &rule.Description, &criteriaJSON,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(criteriaJSON, &rule.Criteria); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetMatchingRule retrieves a matching rule by its public ID.
func (d Datasource) GetMatchingRule(ctx context.Context, id string) (*model.MatchingRule, error) {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Fetching matching rule from db")
	defer span.End()

	rule := &model.MatchingRule{}
	var criteriaJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, rule_id, created_at, updated_at, name, description, criteria
		FROM teaflow.matching_rules
		WHERE rule_id = $1
	`, id).Scan(
		&rule.ID, &rule.RuleID, &rule.CreatedAt, &rule.UpdatedAt,
		&rule.Name, &rule.Description, &criteriaJSON,
	)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Matching rule with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteriaJSON, &rule.Criteria); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateMatchingRule updates a matching rule's name, description and
// criteria.
func (d Datasource) UpdateMatchingRule(ctx context.Context, rule *model.MatchingRule) error {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Updating matching rule")
	defer span.End()

	criteriaJSON, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE teaflow.matching_rules
		SET updated_at = $2, name = $3, description = $4, criteria = $5
		WHERE rule_id = $1
	`, rule.RuleID, time.Now(), rule.Name, rule.Description, criteriaJSON)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Matching rule with ID '%s' not found", rule.RuleID), nil)
	}
	return nil
}

// DeleteMatchingRule removes a matching rule.
func (d Datasource) DeleteMatchingRule(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("Payment").Start(ctx, "Deleting matching rule")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		DELETE FROM teaflow.matching_rules WHERE rule_id = $1
	`, id)
	return err
}
