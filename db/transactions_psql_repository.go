package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"balltickets/entity"
)

const transactionColumns = `transaction_id, owner_id, paid, completed, created_at, paid_at, postal_address,
	method, battels_id, battels_term, card, card_order_id, refund_of`

// cardColumn stores a card attempt as JSONB.
type cardColumn struct {
	card *entity.CardPayment
}

func (c cardColumn) Value() (driver.Value, error) {
	if c.card == nil {
		return nil, nil
	}
	return json.Marshal(c.card)
}

func (c *cardColumn) Scan(src any) error {
	if src == nil {
		c.card = nil
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unexpected card column type %T", src)
	}

	var card entity.CardPayment
	if err := json.Unmarshal(raw, &card); err != nil {
		return fmt.Errorf("could not unmarshal card payment: %w", err)
	}
	c.card = &card
	return nil
}

type transactionRow struct {
	ID            uuid.UUID  `db:"transaction_id"`
	OwnerID       uuid.UUID  `db:"owner_id"`
	Paid          bool       `db:"paid"`
	Completed     bool       `db:"completed"`
	CreatedAt     time.Time  `db:"created_at"`
	PaidAt        *time.Time `db:"paid_at"`
	PostalAddress *string    `db:"postal_address"`
	Method        string     `db:"method"`
	BattelsID     *uuid.UUID `db:"battels_id"`
	BattelsTerm   *string    `db:"battels_term"`
	Card          cardColumn `db:"card"`
	CardOrderID   *string    `db:"card_order_id"`
	RefundOf      *uuid.UUID `db:"refund_of"`
}

func toTransactionRow(tx *entity.Transaction) transactionRow {
	row := transactionRow{
		ID:            tx.ID,
		OwnerID:       tx.OwnerID,
		Paid:          tx.Paid,
		Completed:     tx.Completed,
		CreatedAt:     tx.CreatedAt,
		PaidAt:        tx.PaidAt,
		PostalAddress: tx.PostalAddress,
		Method:        string(tx.Method),
		Card:          cardColumn{card: tx.Card},
		RefundOf:      tx.RefundOf,
	}
	if tx.Battels != nil {
		id := tx.Battels.BattelsID
		term := string(tx.Battels.Term)
		row.BattelsID = &id
		row.BattelsTerm = &term
	}
	if tx.Card != nil {
		orderID := tx.Card.OrderID
		row.CardOrderID = &orderID
	}
	return row
}

func (row transactionRow) toEntity(items []entity.TransactionItem) *entity.Transaction {
	tx := &entity.Transaction{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		Paid:          row.Paid,
		Completed:     row.Completed,
		CreatedAt:     row.CreatedAt,
		PaidAt:        row.PaidAt,
		PostalAddress: row.PostalAddress,
		Method:        entity.PaymentMethod(row.Method),
		Card:          row.Card.card,
		RefundOf:      row.RefundOf,
		Items:         items,
	}
	if row.BattelsID != nil && row.BattelsTerm != nil {
		tx.Battels = &entity.BattelsPayment{
			BattelsID: *row.BattelsID,
			Term:      entity.Term(*row.BattelsTerm),
		}
	}
	return tx
}

type itemRow struct {
	entity.TransactionItem
	TransactionID uuid.UUID `db:"transaction_id"`
	Position      int       `db:"position"`
}

type TransactionsPostgresRepository struct {
	db Executor
}

func NewTransactionsPostgresRepository(db Executor) TransactionsPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return TransactionsPostgresRepository{db: db}
}

func (r TransactionsPostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Transaction, error) {
	var row transactionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound.WithMessage("transaction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get transaction %s: %w", id, err)
	}

	txs, err := r.withItems(ctx, []transactionRow{row})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (r TransactionsPostgresRepository) Add(ctx context.Context, tx *entity.Transaction) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:transaction_id, :owner_id, :paid, :completed, :created_at, :paid_at, :postal_address,
			:method, :battels_id, :battels_term, :card, :card_order_id, :refund_of)
	`, toTransactionRow(tx))
	if err != nil {
		return r.mapConstraint(err, tx)
	}

	return r.insertItems(ctx, tx)
}

func (r TransactionsPostgresRepository) Update(ctx context.Context, tx *entity.Transaction) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE transactions SET
			paid = :paid,
			completed = :completed,
			paid_at = :paid_at,
			postal_address = :postal_address,
			method = :method,
			battels_id = :battels_id,
			battels_term = :battels_term,
			card = :card,
			card_order_id = :card_order_id
		WHERE transaction_id = :transaction_id
	`, toTransactionRow(tx))
	if err != nil {
		return r.mapConstraint(err, tx)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return entity.ErrNotFound.WithMessage("transaction %s not found", tx.ID)
	}

	// items are a value of the transaction, so they are replaced as a whole
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, tx.ID); err != nil {
		return fmt.Errorf("could not clear items of transaction %s: %w", tx.ID, err)
	}
	return r.insertItems(ctx, tx)
}

func (r TransactionsPostgresRepository) mapConstraint(err error, tx *entity.Transaction) error {
	if isErrorUniqueViolation(err) && constraintOf(err) == "transactions_card_order_id_key" {
		return entity.ErrInvariantViolated.WithMessage("order id of %s is already in use", tx)
	}
	return fmt.Errorf("could not save transaction %s: %w", tx.ID, err)
}

func (r TransactionsPostgresRepository) insertItems(ctx context.Context, tx *entity.Transaction) error {
	for i, item := range tx.Items {
		_, err := r.db.NamedExecContext(ctx, `
			INSERT INTO transaction_items
				(item_id, transaction_id, position, kind, ticket_id, postage_id, admin_fee_id, description, amount, is_refund)
			VALUES
				(:item_id, :transaction_id, :position, :kind, :ticket_id, :postage_id, :admin_fee_id, :description, :amount, :is_refund)
		`, itemRow{TransactionItem: item, TransactionID: tx.ID, Position: i})
		if err != nil {
			return fmt.Errorf("could not add item %s to transaction %s: %w", item.ID, tx.ID, err)
		}
	}
	return nil
}

func (r TransactionsPostgresRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.Transaction, error) {
	var row transactionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE card_order_id = $1 AND refund_of IS NULL
		FOR UPDATE
	`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound.WithMessage("transaction for order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("could not find transaction for order %s: %w", orderID, err)
	}

	txs, err := r.withItems(ctx, []transactionRow{row})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (r TransactionsPostgresRepository) ForTicket(ctx context.Context, ticketID uuid.UUID) ([]*entity.Transaction, error) {
	var rows []transactionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE transaction_id IN (SELECT transaction_id FROM transaction_items WHERE ticket_id = $1)
		ORDER BY created_at
		FOR UPDATE
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not find transactions of ticket %s: %w", ticketID, err)
	}

	return r.withItems(ctx, rows)
}

func (r TransactionsPostgresRepository) withItems(ctx context.Context, rows []transactionRow) ([]*entity.Transaction, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := lo.Map(rows, func(row transactionRow, _ int) string { return row.ID.String() })

	var items []itemRow
	err := r.db.SelectContext(ctx, &items, `
		SELECT item_id, transaction_id, position, kind, ticket_id, postage_id, admin_fee_id, description, amount, is_refund
		FROM transaction_items
		WHERE transaction_id = ANY($1::uuid[])
		ORDER BY transaction_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("could not load transaction items: %w", err)
	}

	grouped := lo.GroupBy(items, func(item itemRow) uuid.UUID { return item.TransactionID })

	return lo.Map(rows, func(row transactionRow, _ int) *entity.Transaction {
		return row.toEntity(lo.Map(grouped[row.ID], func(item itemRow, _ int) entity.TransactionItem {
			return item.TransactionItem
		}))
	}), nil
}
