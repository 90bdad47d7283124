package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"

	"balltickets/ticketing"
)

// runSweeps drives both sweep tiers until ctx is done. Failed sweeps are
// logged and retried on the next tick.
func (s Service) runSweeps(ctx context.Context) error {
	fast := time.NewTicker(s.fastSweepEvery)
	defer fast.Stop()

	slow := time.NewTicker(s.slowSweepEvery)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fast.C:
			s.sweep(ctx, ticketing.TierExpiry)
		case <-slow.C:
			s.sweep(ctx, ticketing.TierAllocation)
		}
	}
}

func (s Service) sweep(ctx context.Context, tier ticketing.Tier) {
	logger := log.FromContext(ctx).WithField("tier", tier)

	report, err := s.sweeper.Run(ctx, tier)
	if err != nil {
		logger.WithError(err).Error("Sweep failed")
		return
	}
	if report.Skipped {
		logger.Debug("Sweep skipped, another instance holds the lock")
		return
	}

	logger.WithFields(logrus.Fields{
		"cancelled": len(report.Cancelled),
		"allocated": len(report.Allocations),
	}).Info("Sweep finished")
}

func (s Service) reloadSettingsOnHangup(ctx context.Context) error {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hangup:
			if err := s.settings.Reload(); err != nil {
				log.FromContext(ctx).WithError(err).Error("Settings reload failed, keeping previous settings")
				continue
			}
			log.FromContext(ctx).Info("Settings reloaded")
		}
	}
}
