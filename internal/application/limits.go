// Package application contains use-case orchestration services.
package application

import "time"

// Vendor quota and admission limits.
const (
	// HardDailyCap is the vendor-imposed maximum number of calls per
	// credential per day.
	HardDailyCap = 500

	// RotateThreshold is the usage level (98% of the cap) at which the active
	// credential is re-evaluated for rotation.
	RotateThreshold = 490

	// LowUsageMax bounds the preferred "low usage" band: rotation picks a
	// credential below this level before considering anything else.
	LowUsageMax = 300

	// MaxScanEntries is the largest entry list a single scan accepts.
	MaxScanEntries = 450
)

// Trigger discipline timings.
const (
	debounceWindow = 500 * time.Millisecond
	cooldownPeriod = 5 * time.Second
)
