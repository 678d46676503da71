package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/catalogsync/catalogsync/internal/core/engine"
)

// MonitorChecker derives health from the request monitor: warnings degrade,
// errors fail the check.
type MonitorChecker struct {
	Monitor *engine.Monitor
}

func (c MonitorChecker) CheckHealth(ctx context.Context) error {
	if c.Monitor == nil {
		return nil
	}
	report := c.Monitor.Health()
	switch report.Status {
	case engine.HealthError:
		return fmt.Errorf("marketplace health: %s", alertMessages(report.Alerts))
	case engine.HealthWarning:
		return fmt.Errorf("%w: %s", ErrDegraded, alertMessages(report.Alerts))
	default:
		return nil
	}
}

// BreakerChecker degrades health while any circuit is not closed.
type BreakerChecker struct {
	Breakers *engine.BreakerRegistry
}

func (c BreakerChecker) CheckHealth(ctx context.Context) error {
	if c.Breakers == nil {
		return nil
	}
	var tripped []string
	for _, snap := range c.Breakers.Snapshots() {
		if snap.State != engine.StateClosed {
			tripped = append(tripped, snap.Name+"="+string(snap.State))
		}
	}
	if len(tripped) > 0 {
		return fmt.Errorf("%w: circuits %s", ErrDegraded, strings.Join(tripped, ", "))
	}
	return nil
}

// Pinger is satisfied by the item store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker fails when the database does not answer.
type StoreChecker struct {
	Store Pinger
}

func (c StoreChecker) CheckHealth(ctx context.Context) error {
	if c.Store == nil {
		return fmt.Errorf("store not configured")
	}
	return c.Store.Ping(ctx)
}

func alertMessages(alerts []engine.Alert) string {
	msgs := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		msgs = append(msgs, alert.Message)
	}
	return strings.Join(msgs, "; ")
}
