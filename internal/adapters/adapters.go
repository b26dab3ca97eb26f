// internal/adapters/adapters.go

// Package adapters contains the backend implementations of the provider
// contract. Every adapter converts its client library's errors into
// adapter errors at the boundary and never panics across it.
package adapters

import (
	"time"

	"github.com/starforge/hyperdrive/internal/core"
)

// markDeleted stamps a soft-deletion timestamp on the entity. Returns
// false when the entity kind is unknown.
func markDeleted(e core.Entity, now time.Time) bool {
	switch v := e.(type) {
	case *core.Avatar:
		v.DeletedDate = &now
		v.ModifiedDate = now
	case *core.Holon:
		v.DeletedDate = &now
		v.ModifiedDate = now
	default:
		return false
	}
	return true
}

// applyLimit caps search results at the query limit when one is set.
func applyLimit(entities []core.Entity, limit int) []core.Entity {
	if limit > 0 && len(entities) > limit {
		return entities[:limit]
	}
	return entities
}
