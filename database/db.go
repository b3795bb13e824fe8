package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "opening database connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "pinging database")
	}
	err = createSchema(db)
	if err != nil {
		return nil, errors.Wrap(err, "creating schema")
	}
	err = createBidTable(db)
	if err != nil {
		return nil, err
	}
	err = createInflowTable(db)
	if err != nil {
		return nil, err
	}
	err = createMatchingRuleTable(db)
	if err != nil {
		return nil, err
	}
	err = createTransitionLogTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS teaflow`)
	return err
}

// createBidTable creates a PostgreSQL table for the Bid struct. The
// nested sub-records live in JSONB columns; only the fields the workflow
// engine filters on get their own columns.
func createBidTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS teaflow.bids (
			id SERIAL PRIMARY KEY,
			bid_id TEXT NOT NULL UNIQUE,
			lot_id TEXT NOT NULL,
			buyer TEXT NOT NULL,
			grade TEXT,
			quantity_kg FLOAT8,
			price_per_kg FLOAT8,
			amount FLOAT8 NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB,
			payment_details JSONB,
			eslip_details JSONB,
			split_details JSONB,
			payout_details JSONB,
			release_details JSONB
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_bids_status ON teaflow.bids(status)`)
	return err
}

// createInflowTable creates a PostgreSQL table for payment inflows
// parsed from bank statements.
func createInflowTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS teaflow.payment_inflows (
			id SERIAL PRIMARY KEY,
			inflow_id TEXT NOT NULL UNIQUE,
			upload_id TEXT,
			amount FLOAT8 NOT NULL,
			currency TEXT,
			payer_name TEXT,
			reference TEXT,
			bank_reference TEXT,
			date TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'unmatched',
			matched_bid_id TEXT,
			source TEXT
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_inflows_status ON teaflow.payment_inflows(status)`)
	return err
}

// createMatchingRuleTable creates a PostgreSQL table for operator-defined
// matching rules.
func createMatchingRuleTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS teaflow.matching_rules (
			id SERIAL PRIMARY KEY,
			rule_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			name TEXT NOT NULL,
			description TEXT,
			criteria JSONB NOT NULL
		)
	`)
	return err
}

// createTransitionLogTable creates a PostgreSQL table recording every
// committed status change, which is the audit trail payout reviewers
// read.
func createTransitionLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS teaflow.transition_logs (
			id SERIAL PRIMARY KEY,
			log_id TEXT NOT NULL UNIQUE,
			bid_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT,
			reverted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transition_logs_bid ON teaflow.transition_logs(bid_id)`)
	return err
}
