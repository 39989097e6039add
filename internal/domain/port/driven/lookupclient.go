package driven

import (
	"context"

	"github.com/repscreen/repscreen/internal/domain/model"
)

// LookupClient is the driven port for single reputation queries against the
// external vendor. Implementations are stateless, safe for concurrent use,
// and carry no retry logic; a failed lookup is the caller's decision to skip
// or surface.
type LookupClient interface {
	// Lookup screens one entry with one credential and returns the vendor's
	// malicious signal count (>= 0). An entry the vendor has no record of is
	// a zero-signal result, not an error.
	Lookup(ctx context.Context, kind model.EntryKind, entry, credential string) (int, error)
}
