// Package checker evaluates invariants and routes violations to a Recorder.
package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/config"
	"github.com/smallbiznis/billingguard/internal/invariant/domain"
	"go.uber.org/fx"
)

// Checker evaluates invariant conditions. In strict mode CheckInvariant
// returns the violation; in permissive mode it only records it. Guards that
// protect a write always return the violation regardless of mode.
type Checker struct {
	mode     domain.Mode
	recorder Recorder
	clock    clock.Clock
}

type CheckerParam struct {
	fx.In

	Config   config.Config
	Recorder Recorder
	Clock    clock.Clock
}

func NewChecker(p CheckerParam) *Checker {
	return New(domain.ParseMode(p.Config.InvariantMode), p.Recorder, p.Clock)
}

func New(mode domain.Mode, recorder Recorder, clk clock.Clock) *Checker {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Checker{mode: mode, recorder: recorder, clock: clk}
}

func (c *Checker) Mode() domain.Mode { return c.mode }

// Evaluate records and returns a violation when condition is false, and
// returns nil otherwise. It never consults the mode.
func (c *Checker) Evaluate(ctx context.Context, condition bool, name domain.Name, message func() string, fields map[string]any) *domain.Violation {
	if condition {
		return nil
	}
	msg := string(name)
	if message != nil {
		msg = message()
	}
	v := &domain.Violation{
		Invariant:  name,
		Severity:   domain.SeverityOf(name),
		Message:    msg,
		Context:    fields,
		DetectedAt: c.clock.Now().UTC(),
	}
	c.recorder.Record(ctx, v)
	return v
}

// CheckInvariant is the mode-sensitive assertion used inline by callers.
func (c *Checker) CheckInvariant(ctx context.Context, condition bool, name domain.Name, message func() string, fields map[string]any) error {
	v := c.Evaluate(ctx, condition, name, message, fields)
	if v == nil || c.mode == domain.ModePermissive {
		return nil
	}
	return v
}

// AssertAggregationMutable rejects writes to a finalized aggregation.
func (c *Checker) AssertAggregationMutable(ctx context.Context, aggregationID string, isFinalized bool, finalizedAt *time.Time) error {
	fields := map[string]any{"aggregation_id": aggregationID}
	if finalizedAt != nil {
		fields["finalized_at"] = finalizedAt.UTC().Format(time.RFC3339Nano)
	}
	if v := c.Evaluate(ctx, !isFinalized, domain.AggregationFinalized, func() string {
		return fmt.Sprintf("aggregation %s is finalized and cannot be mutated", aggregationID)
	}, fields); v != nil {
		return v
	}
	return nil
}

// AssertInvoicePayable rejects a payment for an invoice whose usage snapshot
// is missing or not finalized.
func (c *Checker) AssertInvoicePayable(ctx context.Context, invoiceID, aggregationSnapshotID string, finalized bool) error {
	fields := map[string]any{
		"invoice_id":              invoiceID,
		"aggregation_snapshot_id": aggregationSnapshotID,
	}
	if v := c.Evaluate(ctx, aggregationSnapshotID != "" && finalized, domain.InvoiceUsageImmutable, func() string {
		if aggregationSnapshotID == "" {
			return fmt.Sprintf("invoice %s does not reference a usage aggregation", invoiceID)
		}
		return fmt.Sprintf("invoice %s references non-finalized aggregation %s", invoiceID, aggregationSnapshotID)
	}, fields); v != nil {
		return v
	}
	return nil
}

// Fail records an unconditional violation and returns it.
func (c *Checker) Fail(ctx context.Context, name domain.Name, message string, fields map[string]any) error {
	return c.Evaluate(ctx, false, name, func() string { return message }, fields)
}
