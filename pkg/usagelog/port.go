package usagelog

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// Repository persists UsageLog rows. Daily quota is a time-filtered count
// against this store, not a counter that gets reset (spec.md glossary).
type Repository interface {
	Write(ctx context.Context, entry UsageLog) error
	// CountSince returns how many successful (2xx) requests a user has made
	// at or after since, the quota-rollover boundary.
	CountSince(ctx context.Context, userID kernel.UserID, since time.Time) (int, error)
	// CountSinceByGroup is CountSince narrowed to requests for models in
	// group, used by the no-credential quota branch (spec.md §4.5), which
	// caps each model group independently rather than sharing one budget.
	CountSinceByGroup(ctx context.Context, userID kernel.UserID, since time.Time, group credential.ModelGroup) (int, error)
}
