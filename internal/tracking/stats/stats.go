// Package stats derives summary figures from a store snapshot.
package stats

import (
	"math"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
)

// Aggregate recomputes the summary over every record in the snapshot.
// Revenue is summed across currencies without conversion.
func Aggregate(snapshot trackingdomain.Snapshot) trackingdomain.Stats {
	out := trackingdomain.Stats{
		TotalClicks:      len(snapshot.Clicks),
		TotalConversions: len(snapshot.Conversions),
	}

	var revenue float64
	for _, conversion := range snapshot.Conversions {
		revenue += conversion.Revenue
		if conversion.Attributed {
			out.AttributedConversions++
		}
	}
	out.TotalRevenue = round2(revenue)

	if out.TotalClicks > 0 {
		out.ConversionRate = round2(float64(out.TotalConversions) / float64(out.TotalClicks) * 100)
	}

	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
