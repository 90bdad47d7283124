package ticketing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"balltickets/entity"
)

// RegisterBattels opens a battels account for owner. Accounts are created by
// admins when the college roll is imported.
func (e *Engine) RegisterBattels(ctx context.Context, actor entity.Actor, owner uuid.UUID, externalID *string) (*entity.Battels, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	b := entity.NewBattels(owner, externalID, now)

	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Battels.Add(ctx, b); err != nil {
			return fmt.Errorf("could not add battels: %w", err)
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "battels_registered",
			fmt.Sprintf("Registered battels %s for %s", b.ID, owner), now))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
