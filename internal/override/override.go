// Package override implements the categorized, stacking, TTL-expiring
// override store: a match-plus-override data shape with per-key state
// map bookkeeping for TTL expiry and versioning.
package override

import (
	"sort"
	"time"

	"github.com/hearthctl/hearthctl/internal/device"
)

// Category is the ordered override precedence tag, ascending priority.
type Category string

const (
	CategoryManual      Category = "MANUAL"
	CategoryScheduled   Category = "SCHEDULED"
	CategoryMaintenance Category = "MAINTENANCE"
	CategoryEmergency   Category = "EMERGENCY"
)

var categoryRank = map[Category]int{
	CategoryManual:      0,
	CategoryScheduled:   1,
	CategoryMaintenance: 2,
	CategoryEmergency:   3,
}

// Rank returns the category's position in the total order, or -1 for an
// unrecognized category.
func (c Category) Rank() int {
	r, ok := categoryRank[c]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	_, ok := categoryRank[c]
	return ok
}

// Scope identifies whether an override targets a single device or every
// member of a functional system.
type Scope string

const (
	ScopeDevice Scope = "DEVICE"
	ScopeSystem Scope = "SYSTEM"
)

// Override is an (optionally expiring) assertion of a value at a given
// precedence category that shadows user intent.
type Override struct {
	ID        string
	TargetID  string
	Scope     Scope
	Category  Category
	Value     device.Value
	Reason    string
	ExpiresAt *time.Time
	CreatedAt time.Time
	CreatedBy string
	Version   uint64
}

// Key returns the (targetId, category) composite primary key.
func (o Override) Key() string {
	return o.TargetID + ":" + string(o.Category)
}

// Expired reports whether the override's TTL, if any, has elapsed as of now.
func (o Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// byCategoryDescending sorts overrides by category rank, highest first, so
// index 0 is always the effective override for a target.
func byCategoryDescending(overrides []Override) {
	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].Category.Rank() > overrides[j].Category.Rank()
	})
}
