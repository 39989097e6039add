// Package model defines the domain types shared across ports and adapters.
package model

import "strings"

// EntryKind selects which vendor endpoint screens a candidate entry.
type EntryKind string

const (
	EntryKindAddress EntryKind = "address" // IP address lookups
	EntryKindName    EntryKind = "name"    // domain name lookups
)

// Valid reports whether k is a member of the closed entry-kind set.
func (k EntryKind) Valid() bool {
	return k == EntryKindAddress || k == EntryKindName
}

// ScanStatus represents the state of a scan job. The three terminal states are
// all normal outcomes; a job never ends in a hard failure.
type ScanStatus string

const (
	ScanStatusRunning        ScanStatus = "running"
	ScanStatusCompleted      ScanStatus = "completed"
	ScanStatusCancelled      ScanStatus = "cancelled"
	ScanStatusQuotaExhausted ScanStatus = "quota_exhausted"
)

// Finding is an entry whose lookup reported a non-zero malicious signal count.
// Entries with zero or unavailable signal never become findings.
type Finding struct {
	Entry       string
	SignalCount int
}

// Progress is a point-in-time view of how far a scan job has advanced.
type Progress struct {
	Processed int
	Total     int
}

// ParseEntries splits raw text into trimmed candidate entries, excluding blank
// lines and preserving input order.
func ParseEntries(raw string) []string {
	var entries []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries
}
