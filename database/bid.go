package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/teaflowhq/teaflow/internal/apierror"
	"github.com/teaflowhq/teaflow/model"
)

// marshalDetail serializes an optional sub-record to a nullable JSONB
// value. A nil sub-record becomes SQL NULL, not the string "null".
func marshalDetail(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch d := v.(type) {
	case *model.PaymentDetails:
		if d == nil {
			return nil, nil
		}
	case *model.ESlipDetails:
		if d == nil {
			return nil, nil
		}
	case *model.SplitDetails:
		if d == nil {
			return nil, nil
		}
	case *model.PayoutDetails:
		if d == nil {
			return nil, nil
		}
	case *model.ReleaseDetails:
		if d == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalDetail(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// RecordBid inserts a new bid into the database.
func (d Datasource) RecordBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Saving bid to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(bid.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	paymentJSON, err := marshalDetail(bid.Payment)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payment details", err)
	}
	eslipJSON, err := marshalDetail(bid.ESlip)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal e-slip details", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO teaflow.bids(
			bid_id, lot_id, buyer, grade, quantity_kg, price_per_kg,
			amount, currency, status, created_at, meta_data,
			payment_details, eslip_details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		bid.BidID, bid.LotID, bid.Buyer, bid.Grade, bid.QuantityKg, bid.PricePerKg,
		bid.Amount, bid.Currency, bid.Status, bid.CreatedAt, metaDataJSON,
		paymentJSON, eslipJSON,
	)
	if err != nil {
		return nil, err
	}

	return bid, nil
}

// GetBidByID retrieves a bid by its public ID.
func (d Datasource) GetBidByID(ctx context.Context, id string) (*model.Bid, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Fetching bid from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, bid_id, lot_id, buyer, grade, quantity_kg, price_per_kg,
			amount, currency, status, created_at, meta_data,
			payment_details, eslip_details, split_details, payout_details, release_details
		FROM teaflow.bids
		WHERE bid_id = $1
	`, id)

	bid, err := scanBid(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bid with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, err
	}
	return bid, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBid(row rowScanner) (*model.Bid, error) {
	bid := &model.Bid{}
	var metaDataJSON, paymentJSON, eslipJSON, splitJSON, payoutJSON, releaseJSON []byte

	err := row.Scan(
		&bid.ID, &bid.BidID, &bid.LotID, &bid.Buyer, &bid.Grade,
		&bid.QuantityKg, &bid.PricePerKg, &bid.Amount, &bid.Currency,
		&bid.Status, &bid.CreatedAt, &metaDataJSON,
		&paymentJSON, &eslipJSON, &splitJSON, &payoutJSON, &releaseJSON,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalDetail(metaDataJSON, &bid.MetaData); err != nil {
		return nil, err
	}
	if len(paymentJSON) > 0 {
		bid.Payment = &model.PaymentDetails{}
		if err := unmarshalDetail(paymentJSON, bid.Payment); err != nil {
			return nil, err
		}
	}
	if len(eslipJSON) > 0 {
		bid.ESlip = &model.ESlipDetails{}
		if err := unmarshalDetail(eslipJSON, bid.ESlip); err != nil {
			return nil, err
		}
	}
	if len(splitJSON) > 0 {
		bid.Split = &model.SplitDetails{}
		if err := unmarshalDetail(splitJSON, bid.Split); err != nil {
			return nil, err
		}
	}
	if len(payoutJSON) > 0 {
		bid.Payout = &model.PayoutDetails{}
		if err := unmarshalDetail(payoutJSON, bid.Payout); err != nil {
			return nil, err
		}
	}
	if len(releaseJSON) > 0 {
		bid.Release = &model.ReleaseDetails{}
		if err := unmarshalDetail(releaseJSON, bid.Release); err != nil {
			return nil, err
		}
	}

	return bid, nil
}

// GetAllBids retrieves bids ordered by creation time, newest first.
func (d Datasource) GetAllBids(ctx context.Context, limit, offset int) ([]model.Bid, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Fetching all bids")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, bid_id, lot_id, buyer, grade, quantity_kg, price_per_kg,
			amount, currency, status, created_at, meta_data,
			payment_details, eslip_details, split_details, payout_details, release_details
		FROM teaflow.bids
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, rows.Err()
}

// GetBidsByStatus retrieves bids in a given pipeline stage.
func (d Datasource) GetBidsByStatus(ctx context.Context, status model.Status, limit, offset int) ([]*model.Bid, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Fetching bids by status")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, bid_id, lot_id, buyer, grade, quantity_kg, price_per_kg,
			amount, currency, status, created_at, meta_data,
			payment_details, eslip_details, split_details, payout_details, release_details
		FROM teaflow.bids
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*model.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// UpdateBidStatus updates the status of a bid.
func (d Datasource) UpdateBidStatus(ctx context.Context, id string, status model.Status) error {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Updating bid status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE teaflow.bids SET status = $2 WHERE bid_id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bid with ID '%s' not found", id), nil)
	}
	return nil
}

// UpdateBidDetails persists a bid's sub-records. Status is deliberately
// excluded; status only moves through UpdateBidStatus so the audit trail
// stays complete.
func (d Datasource) UpdateBidDetails(ctx context.Context, bid *model.Bid) error {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Updating bid details")
	defer span.End()

	metaDataJSON, err := json.Marshal(bid.MetaData)
	if err != nil {
		return err
	}
	paymentJSON, err := marshalDetail(bid.Payment)
	if err != nil {
		return err
	}
	eslipJSON, err := marshalDetail(bid.ESlip)
	if err != nil {
		return err
	}
	splitJSON, err := marshalDetail(bid.Split)
	if err != nil {
		return err
	}
	payoutJSON, err := marshalDetail(bid.Payout)
	if err != nil {
		return err
	}
	releaseJSON, err := marshalDetail(bid.Release)
	if err != nil {
		return err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE teaflow.bids
		SET meta_data = $2, payment_details = $3, eslip_details = $4,
			split_details = $5, payout_details = $6, release_details = $7
		WHERE bid_id = $1
	`, bid.BidID, metaDataJSON, paymentJSON, eslipJSON, splitJSON, payoutJSON, releaseJSON)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Bid with ID '%s' not found", bid.BidID), nil)
	}
	return nil
}

// GetOutstandingBids retrieves the matcher's view of every bid waiting in
// the payment-matching stage.
func (d Datasource) GetOutstandingBids(ctx context.Context) ([]*model.OutstandingBid, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Fetching outstanding bids")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT bid_id, buyer, amount, currency, created_at, COALESCE(eslip_details->>'reference', '')
		FROM teaflow.bids
		WHERE status = $1
		ORDER BY created_at ASC
	`, model.StatusPaymentMatching)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outstanding []*model.OutstandingBid
	for rows.Next() {
		ob := &model.OutstandingBid{}
		if err := rows.Scan(&ob.BidID, &ob.Buyer, &ob.Amount, &ob.Currency, &ob.CreatedAt, &ob.ESlipReference); err != nil {
			return nil, err
		}
		outstanding = append(outstanding, ob)
	}
	return outstanding, rows.Err()
}

// RecordTransitionLog appends a committed status change to the audit
// trail.
func (d Datasource) RecordTransitionLog(ctx context.Context, log *model.TransitionLog) error {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Saving transition log to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO teaflow.transition_logs(
			log_id, bid_id, from_status, to_status, actor, reverted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.LogID, log.BidID, log.FromStatus, log.ToStatus, log.Actor, log.Reverted, log.CreatedAt,
	)
	return err
}

// GetTransitionLogs retrieves a bid's status history, oldest first.
func (d Datasource) GetTransitionLogs(ctx context.Context, bidID string) ([]*model.TransitionLog, error) {
	ctx, span := otel.Tracer("Bid").Start(ctx, "Fetching transition logs")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, log_id, bid_id, from_status, to_status, actor, reverted, created_at
		FROM teaflow.transition_logs
		WHERE bid_id = $1
		ORDER BY created_at ASC
	`, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.TransitionLog
	for rows.Next() {
		entry := &model.TransitionLog{}
		err = rows.Scan(
			&entry.ID, &entry.LogID, &entry.BidID, &entry.FromStatus,
			&entry.ToStatus, &entry.Actor, &entry.Reverted, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
