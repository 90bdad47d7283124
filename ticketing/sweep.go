package ticketing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
	"balltickets/metrics"
	"balltickets/pkg/lock"
)

type Tier string

const (
	// TierExpiry only cancels expired reservations.
	TierExpiry Tier = "expiry"
	// TierAllocation also promotes waiting list entries.
	TierAllocation Tier = "allocation"
)

func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierExpiry, TierAllocation:
		return t, nil
	default:
		return "", fmt.Errorf("unknown sweep tier %q", s)
	}
}

const (
	sweepLockKey = "balltickets:sweep"
	sweepLockTTL = 10 * time.Minute

	expiredNote = "Cancelled: reservation expired before payment"
)

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Release, bool, error)
}

type Allocation struct {
	EntryID       uuid.UUID
	OwnerID       uuid.UUID
	TransactionID uuid.UUID
	TicketIDs     []uuid.UUID
}

type SweepReport struct {
	Tier Tier
	// Skipped is set when another sweep held the lock. Nothing was touched.
	Skipped     bool
	Cancelled   []uuid.UUID
	Allocations []Allocation
	// HaltedAt is the first waiting entry that did not fit.
	HaltedAt *uuid.UUID
}

type Sweeper struct {
	engine *Engine
	locker Locker
}

func NewSweeper(engine *Engine, locker Locker) *Sweeper {
	if engine == nil {
		panic("missing engine")
	}
	if locker == nil {
		panic("missing locker")
	}
	return &Sweeper{engine: engine, locker: locker}
}

// Run performs one sweep tick under the single-instance lock. A second
// concurrent run returns a skipped report without side effects.
func (s *Sweeper) Run(ctx context.Context, tier Tier) (SweepReport, error) {
	report := SweepReport{Tier: tier}
	logger := log.FromContext(ctx).WithField("tier", tier)

	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return report, fmt.Errorf("could not take sweep lock: %w", err)
	}
	if !ok {
		metrics.SweepRuns.WithLabelValues(string(tier), "false").Inc()
		logger.Info("Sweep already running elsewhere, skipping")
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Could not release sweep lock")
		}
	}()
	metrics.SweepRuns.WithLabelValues(string(tier), "true").Inc()

	settings := s.engine.snapshot()

	report.Cancelled, err = s.engine.CancelExpired(ctx, settings.Now)
	if err != nil {
		return report, err
	}

	if tier == TierAllocation {
		remaining, err := s.engine.CapacityRemaining(ctx, settings)
		if err != nil {
			return report, err
		}
		report.Allocations, report.HaltedAt, err = s.engine.AllocateWaiting(ctx, settings, remaining)
		if err != nil {
			return report, err
		}
	}

	logger.WithFields(logrus.Fields{
		"cancelled": len(report.Cancelled),
		"allocated": len(report.Allocations),
	}).Info("Sweep finished")

	return report, nil
}

// CancelExpired cancels every reservation whose expiry is before now, in one
// commit.
func (e *Engine) CancelExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		cancelled = nil

		expired, err := r.Tickets.FindExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("could not find expired tickets: %w", err)
		}

		for _, t := range expired {
			if !t.Expired(now) {
				continue
			}
			t.Cancel(expiredNote)
			if err := r.Tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("could not update %s: %w", t, err)
			}
			cancelled = append(cancelled, t.ID)
		}
		if len(cancelled) == 0 {
			return nil
		}

		entry := entity.NewLogEntry(entity.SystemActor, "tickets_expired", expiredNote, now).ForTickets(cancelled...)
		if err := r.AuditLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}
		return r.Events.Publish(ctx, entity.TicketsCancelled{
			Header:    entity.NewEventHeader(),
			ActorID:   entity.SystemActor.UserID.String(),
			TicketIDs: idStrings(cancelled),
			Reason:    "expired",
		})
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}

	metrics.TicketsCancelled.WithLabelValues("expired").Add(float64(len(cancelled)))
	return cancelled, nil
}

// CapacityRemaining is the configured capacity minus live tickets. A capacity
// of zero means no limit, as it does for purchases.
func (e *Engine) CapacityRemaining(ctx context.Context, s Settings) (int, error) {
	if s.Capacity <= 0 {
		return math.MaxInt, nil
	}

	var remaining int
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		live, err := r.Tickets.CountLive(ctx)
		if err != nil {
			return err
		}
		remaining = max(s.Capacity-live, 0)
		return nil
	})
	return remaining, err
}

// AllocateWaiting serves waiting entries oldest first. It stops at the first
// entry that does not fit, so later and smaller entries never jump the queue.
// Each entry commits on its own.
func (e *Engine) AllocateWaiting(ctx context.Context, s Settings, remaining int) ([]Allocation, *uuid.UUID, error) {
	tt, err := s.ticketType(s.WaitingListType)
	if err != nil {
		return nil, nil, err
	}

	var entries []*entity.WaitingEntry
	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		entries, err = r.Waiting.OldestFirst(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not list waiting entries: %w", err)
	}

	var allocations []Allocation
	for _, entry := range entries {
		if entry.Quantity > remaining {
			id := entry.ID
			log.FromContext(ctx).WithFields(logrus.Fields{
				"entry_id":  entry.ID,
				"quantity":  entry.Quantity,
				"remaining": remaining,
			}).Info("Waiting list entry does not fit, stopping allocation")
			return allocations, &id, nil
		}

		allocation, err := e.allocateEntry(ctx, s, tt, entry.ID)
		if errors.Is(err, entity.ErrNotFound) {
			// entry withdrawn since listing
			continue
		}
		if err != nil {
			return allocations, nil, e.failClosed(ctx, err)
		}

		allocations = append(allocations, allocation)
		remaining -= entry.Quantity
		metrics.WaitingListAllocations.Inc()
		metrics.TicketsReserved.WithLabelValues("waiting_list").Add(float64(entry.Quantity))

		e.notify(ctx, allocation.OwnerID, TemplateWaitingAllocated, map[string]string{
			"transaction_id": allocation.TransactionID.String(),
			"quantity":       strconv.Itoa(entry.Quantity),
			"expires_at":     s.Now.Add(s.TicketTTL).Format(time.RFC3339),
		})
	}

	return allocations, nil, nil
}

func (e *Engine) allocateEntry(ctx context.Context, s Settings, tt TicketType, entryID uuid.UUID) (Allocation, error) {
	var allocation Allocation
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		entry, err := r.Waiting.Get(ctx, entryID)
		if err != nil {
			return err
		}

		tx := entity.Open(entry.OwnerID, nil, s.Now)
		var ids []uuid.UUID
		for i := 0; i < entry.Quantity; i++ {
			t, err := entity.Reserve(entry.OwnerID, tt.Slug, tt.Price, s.Now, s.TicketTTL)
			if err != nil {
				return err
			}
			t.AddNote("Allocated from the waiting list")
			if err := r.Tickets.Add(ctx, t); err != nil {
				return fmt.Errorf("could not add %s: %w", t, err)
			}
			if err := tx.AttachItem(entity.TicketItem(t, false)); err != nil {
				return err
			}
			ids = append(ids, t.ID)
		}
		if tx.Value() == 0 {
			if err := tx.ChargeFree(); err != nil {
				return err
			}
			tx.MarkAsPaid(s.Now)
		}
		if err := r.Transactions.Add(ctx, tx); err != nil {
			return fmt.Errorf("could not add transaction: %w", err)
		}
		if err := r.Waiting.Delete(ctx, entry.ID); err != nil {
			return fmt.Errorf("could not delete waiting entry: %w", err)
		}

		logEntry := entity.NewLogEntry(entity.SystemActor, "waiting_list_allocated",
			fmt.Sprintf("Allocated %d tickets from the waiting list", entry.Quantity), s.Now).
			ForTransaction(tx.ID).
			ForTickets(ids...)
		if err := r.AuditLog.Append(ctx, logEntry); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}

		if err := r.Events.Publish(ctx, entity.WaitingListAllocated{
			Header:        entity.NewEventHeaderWithIdempotencyKey(entry.ID.String()),
			OwnerID:       entry.OwnerID.String(),
			Quantity:      entry.Quantity,
			TransactionID: tx.ID.String(),
		}); err != nil {
			return err
		}

		allocation = Allocation{
			EntryID:       entry.ID,
			OwnerID:       entry.OwnerID,
			TransactionID: tx.ID,
			TicketIDs:     ids,
		}
		return nil
	})
	return allocation, err
}
