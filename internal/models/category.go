package models

// Category groups stored blobs, e.g. message kinds, route paths or asset
// types. A category must exist before any blob can reference it.
type Category struct {
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description" yaml:"description"`
}

// CategoryDeletePolicy decides what happens to records that reference a
// category being deleted.
type CategoryDeletePolicy string

const (
	// DeleteRestrict refuses to delete a category that is still referenced.
	DeleteRestrict CategoryDeletePolicy = "restrict"
	// DeleteCascade removes referencing records and their blob files.
	DeleteCascade CategoryDeletePolicy = "cascade"
	// DeleteOrphan keeps referencing records with no category.
	DeleteOrphan CategoryDeletePolicy = "orphan"
)

// Valid reports whether p is a known policy.
func (p CategoryDeletePolicy) Valid() bool {
	switch p {
	case DeleteRestrict, DeleteCascade, DeleteOrphan:
		return true
	default:
		return false
	}
}
