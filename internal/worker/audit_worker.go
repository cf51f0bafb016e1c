// Package worker consumes top-up events published by the engine and keeps a
// running audit of them.
package worker

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"topup/internal/amqp"
	"topup/internal/cache"
	tlog "topup/internal/log"
)

const (
	DefaultSeenSize = 10_000
	DefaultSeenTTL  = 24 * time.Hour
)

// AlertFunc is called for inconsistency events. A non-nil error leaves the
// event unacknowledged so that it is delivered again.
type AlertFunc func(ctx context.Context, evt *amqp.TopUpEvent) error

// Stats is a snapshot of everything the worker has audited.
type Stats struct {
	Completed       int
	Rejected        int
	Inconsistencies int
	Duplicates      int
	Unknown         int
	ByReason        map[string]int
	ToppedUp        map[string]decimal.Decimal // by nickname
	Charges         decimal.Decimal
}

type AuditWorker struct {
	logger *tlog.Logger
	seen   *cache.LRU[struct{}]
	alert  AlertFunc

	mu    sync.Mutex
	stats Stats
}

// NewAuditWorker builds a worker deduplicating on event IDs through seen.
// seen and alert may be nil.
func NewAuditWorker(logger *tlog.Logger, seen *cache.LRU[struct{}], alert AlertFunc) *AuditWorker {
	if logger == nil {
		logger = tlog.Discard()
	}
	if seen == nil {
		seen = cache.NewLRU[struct{}](DefaultSeenSize, DefaultSeenTTL, nil)
	}
	return &AuditWorker{
		logger: logger.WithComponent(tlog.ComponentAMQP),
		seen:   seen,
		alert:  alert,
		stats: Stats{
			ByReason: make(map[string]int),
			ToppedUp: make(map[string]decimal.Decimal),
		},
	}
}

// HandleTopUpEvent audits one event. Events without an ID and redeliveries
// of an ID already seen are acknowledged without effect.
func (w *AuditWorker) HandleTopUpEvent(ctx context.Context, evt *amqp.TopUpEvent) error {
	if evt == nil || evt.ID == "" {
		w.logger.WarnContext(ctx, "Dropping top-up event without an ID")
		return nil
	}
	if !w.seen.Add(evt.ID, struct{}{}) {
		w.mu.Lock()
		w.stats.Duplicates++
		w.mu.Unlock()
		w.logger.DebugContext(ctx, "Skipping duplicate top-up event", "event_id", evt.ID)
		return nil
	}

	fields := tlog.NewFields().
		WithTopUp(evt.Nickname, evt.Amount, evt.Charge).
		WithReason(evt.Reason)
	fields["event_id"] = evt.ID
	if evt.TransactionID != "" {
		fields[tlog.FieldTransactionID] = evt.TransactionID
	}
	if evt.Balance != nil {
		fields.WithBalance(*evt.Balance)
	}

	switch evt.Type {
	case amqp.EventCompleted:
		w.mu.Lock()
		w.stats.Completed++
		w.stats.ToppedUp[evt.Nickname] = w.stats.ToppedUp[evt.Nickname].Add(evt.Amount)
		w.stats.Charges = w.stats.Charges.Add(evt.Charge)
		w.mu.Unlock()
		w.logger.InfoContext(ctx, "Audited completed top-up", fields.ToSlice()...)

	case amqp.EventRejected:
		w.mu.Lock()
		w.stats.Rejected++
		w.stats.ByReason[evt.Reason]++
		w.mu.Unlock()
		w.logger.InfoContext(ctx, "Audited rejected top-up", fields.ToSlice()...)

	case amqp.EventInconsistency:
		w.logger.ErrorContext(ctx, "Balance debited without a recorded transaction", fields.ToSlice()...)
		if w.alert != nil {
			if err := w.alert(ctx, evt); err != nil {
				w.seen.Delete(evt.ID)
				return fmt.Errorf("alert on event %s: %w", evt.ID, err)
			}
		}
		w.mu.Lock()
		w.stats.Inconsistencies++
		w.stats.ByReason[evt.Reason]++
		w.mu.Unlock()

	default:
		w.mu.Lock()
		w.stats.Unknown++
		w.mu.Unlock()
		w.logger.WarnContext(ctx, "Unknown top-up event type", append(fields.ToSlice(), "type", string(evt.Type))...)
	}
	return nil
}

// Stats returns a copy of the running totals.
func (w *AuditWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.ByReason = maps.Clone(w.stats.ByReason)
	s.ToppedUp = maps.Clone(w.stats.ToppedUp)
	return s
}
