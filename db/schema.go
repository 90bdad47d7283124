package db

import (
	"github.com/jmoiron/sqlx"

	"balltickets/pubsub/outbox"
)

func InitializeDatabaseSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			ticket_id UUID PRIMARY KEY,
			owner_id UUID NOT NULL,
			holder_id UUID,
			ticket_type VARCHAR(64) NOT NULL,
			price BIGINT NOT NULL CHECK (price >= 0),
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			entered BOOLEAN NOT NULL DEFAULT FALSE,
			barcode VARCHAR(255),
			claim_code VARCHAR(255),
			claims_made INT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT tickets_barcode_key UNIQUE (barcode),
			CONSTRAINT tickets_claim_code_key UNIQUE (claim_code)
		);

		CREATE INDEX IF NOT EXISTS tickets_owner_idx ON tickets (owner_id);
		CREATE INDEX IF NOT EXISTS tickets_expires_at_idx ON tickets (expires_at) WHERE expires_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS battels (
			battels_id UUID PRIMARY KEY,
			owner_id UUID NOT NULL UNIQUE,
			external_id VARCHAR(64),
			michaelmas_charges BIGINT NOT NULL DEFAULT 0 CHECK (michaelmas_charges >= 0),
			hilary_charges BIGINT NOT NULL DEFAULT 0 CHECK (hilary_charges >= 0),
			manual BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id UUID PRIMARY KEY,
			owner_id UUID NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			postal_address TEXT,
			method VARCHAR(16) NOT NULL DEFAULT '',
			battels_id UUID REFERENCES battels (battels_id),
			battels_term VARCHAR(4),
			card JSONB,
			card_order_id VARCHAR(64),
			refund_of UUID REFERENCES transactions (transaction_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS transactions_card_order_id_key
			ON transactions (card_order_id) WHERE refund_of IS NULL;

		CREATE TABLE IF NOT EXISTS postage (
			postage_id UUID PRIMARY KEY,
			owner_id UUID NOT NULL,
			method VARCHAR(64) NOT NULL,
			price BIGINT NOT NULL CHECK (price >= 0),
			address TEXT,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			posted BOOLEAN NOT NULL DEFAULT FALSE,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS admin_fees (
			admin_fee_id UUID PRIMARY KEY,
			charged_to UUID NOT NULL,
			created_by UUID NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			reason TEXT NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transaction_items (
			item_id UUID PRIMARY KEY,
			transaction_id UUID NOT NULL REFERENCES transactions (transaction_id),
			position INT NOT NULL,
			kind VARCHAR(16) NOT NULL,
			ticket_id UUID REFERENCES tickets (ticket_id) DEFERRABLE INITIALLY DEFERRED,
			postage_id UUID REFERENCES postage (postage_id) DEFERRABLE INITIALLY DEFERRED,
			admin_fee_id UUID REFERENCES admin_fees (admin_fee_id) DEFERRABLE INITIALLY DEFERRED,
			description TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL CHECK (amount >= 0),
			is_refund BOOLEAN NOT NULL DEFAULT FALSE,
			CHECK (num_nonnulls(ticket_id, postage_id, admin_fee_id) <= 1)
		);

		CREATE INDEX IF NOT EXISTS transaction_items_transaction_idx ON transaction_items (transaction_id);
		CREATE INDEX IF NOT EXISTS transaction_items_ticket_idx ON transaction_items (ticket_id);

		CREATE TABLE IF NOT EXISTS vouchers (
			voucher_id UUID PRIMARY KEY,
			code VARCHAR(64) NOT NULL UNIQUE,
			expires_at TIMESTAMPTZ,
			kind VARCHAR(16) NOT NULL,
			value BIGINT NOT NULL,
			scope VARCHAR(16) NOT NULL,
			single_use BOOLEAN NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			used_by UUID
		);

		CREATE TABLE IF NOT EXISTS waiting_list (
			waiting_id UUID PRIMARY KEY,
			owner_id UUID NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			joined_at TIMESTAMPTZ NOT NULL,
			referrer_id UUID
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			log_id UUID PRIMARY KEY,
			actor_id UUID NOT NULL,
			action VARCHAR(64) NOT NULL,
			commentary TEXT NOT NULL,
			ticket_ids UUID[] NOT NULL DEFAULT '{}',
			transaction_id UUID,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS events (
			event_id VARCHAR(255) PRIMARY KEY,
			published_at TIMESTAMPTZ NOT NULL,
			event_name VARCHAR(255) NOT NULL,
			event_payload JSONB NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	return outbox.InitializeSchema(db.DB)
}
