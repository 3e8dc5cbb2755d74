// Package storage keeps the snapshots produced by collection cycles.
package storage

import (
	"context"
	"errors"

	"github.com/and161185/racknerd-exporter/model"
)

// ErrNoSnapshot is returned before the first cycle has been stored.
var ErrNoSnapshot = errors.New("no snapshot collected yet")

// Storage holds the latest snapshot. Implementations must be safe for concurrent use.
type Storage interface {
	Save(ctx context.Context, snap model.Snapshot) error
	Latest(ctx context.Context) (model.Snapshot, error)
}
