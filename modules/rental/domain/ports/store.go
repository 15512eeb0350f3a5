// Package ports declares the persistence boundaries of the rental
// domain.
package ports

import (
	"context"

	"github.com/agentlease/leaseguard/modules/rental/domain/types"
)

// EntityStore persists rentable entities. Get returns found=false for
// unknown ids; Update replaces the stored record wholesale.
type EntityStore interface {
	Create(ctx context.Context, e types.Entity) error
	Get(ctx context.Context, id types.EntityID) (types.Entity, bool, error)
	Update(ctx context.Context, e types.Entity) error
}
