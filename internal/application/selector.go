package application

import "github.com/repscreen/repscreen/internal/domain/model"

// NeedsRotation reports whether the active credential's usage has reached the
// level at which the pool should be re-evaluated.
func NeedsRotation(usage int) bool {
	return usage >= RotateThreshold
}

// SelectCredential picks the credential a future job should use, spreading
// load so no single credential hits the daily hard cap. It is a pure function
// of the pool and its usage counts, keyed by secret value.
//
// Preference order: any credential in the low-usage band (< LowUsageMax)
// first; failing that, any credential still under the rotation threshold,
// including the current one. If neither band has a member, selection fails
// with ErrNoAvailableCredential and the operator must provision a new
// credential.
//
// Pool order breaks ties, so selection is deterministic for a given input.
func SelectCredential(pool []model.Credential, usage map[string]int) (string, error) {
	for _, cred := range pool {
		if usage[cred.Value] < LowUsageMax {
			return cred.Value, nil
		}
	}

	for _, cred := range pool {
		if usage[cred.Value] < RotateThreshold {
			return cred.Value, nil
		}
	}

	return "", ErrNoAvailableCredential
}
