package license

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable store of license records, keyed by the derived
// license key. Every mutation is atomic with respect to concurrent calls for
// the same key: implementations must apply each operation as a single
// conditional update (or an equivalent per-key critical section), never as a
// fetch, modify in memory, write back sequence.
type Repository interface {
	Create(ctx context.Context, lic *License) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*License, error)
	FindByKey(ctx context.Context, storedKey string) (*License, error)
	List(ctx context.Context, params ListParams) ([]*License, int64, error)

	// IncrementIfEligible re-checks eligibility and consumes one use in a
	// single atomic step: increments use_counts, stamps last_used_at, and
	// sets is_used when the incremented count reaches the limit. Returns
	// ierr.ErrNotEligible when the record exists but is blocked, expired or
	// exhausted, and ierr.ErrNotFound when there is no such key.
	IncrementIfEligible(ctx context.Context, storedKey string, now time.Time) (*License, error)

	// SetBlocked flips the block flag. Returns ierr.ErrNoChange without
	// writing when the flag already has the requested value.
	SetBlocked(ctx context.Context, storedKey string, blocked bool) (*License, error)

	// ResetUsage zeroes use_counts and clears is_used in one statement, so
	// the is_used == (use_counts >= use_limit) invariant holds throughout.
	ResetUsage(ctx context.Context, storedKey string) (*License, error)

	// AdjustLimit moves use_limit by delta (negative to decrease) and
	// recomputes is_used in the same statement. A delta that would take the
	// limit below 1 returns ierr.ErrInvalidLimit and writes nothing.
	AdjustLimit(ctx context.Context, storedKey string, delta int) (*License, error)

	ApplyPatch(ctx context.Context, id uuid.UUID, patch *Patch) (*License, error)

	Summarize(ctx context.Context, now time.Time) (*Summary, error)
}
