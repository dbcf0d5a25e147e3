package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/notify"
)

// StaleMonitor periodically reports deposits that have been pending for
// longer than age.
type StaleMonitor struct {
	deposits *DepositService
	age      time.Duration
	interval time.Duration
	limit    int
}

func NewStaleMonitor(deposits *DepositService, age, interval time.Duration) *StaleMonitor {
	return &StaleMonitor{deposits: deposits, age: age, interval: interval, limit: 100}
}

// Scan runs one pass and returns how many stale deposits it found.
func (m *StaleMonitor) Scan(ctx context.Context) (int, error) {
	entries, err := m.deposits.ListPendingOlderThan(ctx, m.age, m.limit)
	if err != nil {
		return 0, err
	}

	m.deposits.metrics.SetStaleDeposits(len(entries))
	for _, e := range entries {
		m.deposits.notifier.Notify(ctx, m.deposits.event(notify.KindDepositStale, e))
	}
	if len(entries) > 0 {
		m.deposits.log.Warn(ctx, "stale deposits pending", "count", len(entries), "older_than", m.age.String())
	}
	return len(entries), nil
}

// Run scans every interval until ctx is cancelled. A non-positive interval
// disables the monitor.
func (m *StaleMonitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		m.deposits.log.Warn(ctx, "stale deposit monitor disabled", "interval", m.interval.String())
		return nil
	}
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := m.Scan(ctx); err != nil {
				m.deposits.log.Error(ctx, "stale deposit scan failed", "error", err)
			}
		}
	}
}
