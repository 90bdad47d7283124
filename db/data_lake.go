package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"balltickets/entity"
)

// DataLake keeps a copy of every external event as published.
type DataLake struct {
	db *sqlx.DB
}

func NewDataLake(db *sqlx.DB) DataLake {
	if db == nil {
		panic("db is nil")
	}

	return DataLake{db: db}
}

func (s DataLake) StoreEvent(ctx context.Context, dataLakeEvent entity.DataLakeEvent) error {
	_, err := s.db.NamedExecContext(
		ctx,
		`
			INSERT INTO
			    events (event_id, published_at, event_name, event_payload)
			VALUES
			    (:event_id, :published_at, :event_name, :event_payload)`,
		dataLakeEvent,
	)
	if isErrorUniqueViolation(err) {
		// handling re-delivery
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not store %s event in data lake: %w", dataLakeEvent.ID, err)
	}

	return nil
}

// GetEvents returns stored events oldest first. An empty name returns all.
func (s DataLake) GetEvents(ctx context.Context, name string) ([]entity.DataLakeEvent, error) {
	var events []entity.DataLakeEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT event_id, published_at, event_name, event_payload
		FROM events
		WHERE $1 = '' OR event_name = $1
		ORDER BY published_at ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("could not get events from data lake: %w", err)
	}

	return events, nil
}
