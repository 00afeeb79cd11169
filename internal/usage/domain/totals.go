package domain

import (
	"github.com/shopspring/decimal"
)

var bytesPerGiB = decimal.NewFromInt(1 << 30)

// Totals is the recomputation of a set of events.
type Totals struct {
	TrafficGB        decimal.Decimal `json:"traffic_gb"`
	StorageGB        decimal.Decimal `json:"storage_gb"`
	StorageAverageGB decimal.Decimal `json:"storage_average_gb"`
	ComputeUnits     decimal.Decimal `json:"compute_units"`
	EventCount       int             `json:"event_count"`
}

// ComputeTotals sums traffic and storage bytes into GiB and compute into
// weighted units, falling back to raw units when no weight was recorded.
func ComputeTotals(events []*UsageEvent) Totals {
	var (
		traffic, storage, compute = decimal.Zero, decimal.Zero, decimal.Zero
		storageSamples            int64
		count                     int
	)
	for _, e := range events {
		if e == nil {
			continue
		}
		count++
		switch e.ResourceType {
		case ResourceTraffic:
			traffic = traffic.Add(decimal.NewFromFloat(e.Units))
		case ResourceStorage:
			storage = storage.Add(decimal.NewFromFloat(e.Units))
			storageSamples++
		case ResourceCompute:
			compute = compute.Add(decimal.NewFromFloat(ComputeValue(e)))
		}
	}

	totals := Totals{
		TrafficGB:        traffic.Div(bytesPerGiB),
		StorageGB:        storage.Div(bytesPerGiB),
		StorageAverageGB: decimal.Zero,
		ComputeUnits:     compute,
		EventCount:       count,
	}
	if storageSamples > 0 {
		totals.StorageAverageGB = totals.StorageGB.Div(decimal.NewFromInt(storageSamples))
	}
	return totals
}

// ComputeValue is the billable value of a compute event.
func ComputeValue(e *UsageEvent) float64 {
	if e.WeightedUnits != nil {
		return *e.WeightedUnits
	}
	return e.Units
}

// Of returns the alertable total for a resource type.
func (t Totals) Of(resource ResourceType) decimal.Decimal {
	switch resource {
	case ResourceTraffic:
		return t.TrafficGB
	case ResourceStorage:
		return t.StorageGB
	case ResourceCompute:
		return t.ComputeUnits
	default:
		return decimal.Zero
	}
}

// WithinTolerance reports whether recomputed differs from stored by no more
// than stored*tolerance.
func WithinTolerance(stored, recomputed decimal.Decimal, tolerance float64) bool {
	maxDiff := stored.Abs().Mul(decimal.NewFromFloat(tolerance))
	return stored.Sub(recomputed).Abs().LessThanOrEqual(maxDiff)
}

// Apply copies the totals onto an aggregation.
func (t Totals) Apply(agg *UsageAggregation) {
	agg.TrafficTotalGB = t.TrafficGB.InexactFloat64()
	agg.StorageTotalGB = t.StorageGB.InexactFloat64()
	agg.StorageAverageGB = t.StorageAverageGB.InexactFloat64()
	agg.ComputeTotalUnits = t.ComputeUnits.InexactFloat64()
	agg.EventCount = t.EventCount
}

// Fields renders the totals as an update field map.
func (t Totals) Fields() map[string]any {
	return map[string]any{
		"traffic_total_gb":    t.TrafficGB.InexactFloat64(),
		"storage_total_gb":    t.StorageGB.InexactFloat64(),
		"storage_average_gb":  t.StorageAverageGB.InexactFloat64(),
		"compute_total_units": t.ComputeUnits.InexactFloat64(),
		"event_count":         t.EventCount,
	}
}
