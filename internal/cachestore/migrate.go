package cachestore

// CurrentVersion is the on-disk layout written by this build.
//
// Version history:
//
//	1: entries keyed by view and range; multi-day entries
//	2: per-day entries, keys missed the query shape
//	3: per-day, per-segment entries keyed by query shape
//	4: per-entry row counts for volume statistics
const CurrentVersion = 4

// FirstTrustedVersion is the oldest layout whose entries are known to be correct.
const FirstTrustedVersion = 3

// MigrationAction is what Open must do to bring a store to CurrentVersion.
type MigrationAction int

const (
	MigrationNone MigrationAction = iota
	// MigrationCreate initialises an empty store.
	MigrationCreate
	// MigrationInPlace keeps entries and only updates derived data.
	MigrationInPlace
	// MigrationWipe drops every entry before use.
	MigrationWipe
)

func (a MigrationAction) String() string {
	switch a {
	case MigrationNone:
		return "none"
	case MigrationCreate:
		return "create"
	case MigrationInPlace:
		return "migrate-in-place"
	case MigrationWipe:
		return "wipe"
	}
	return "unknown"
}

// PlanMigration decides how to move from version old to current. An old
// version of 0 means the store has never been initialised.
func PlanMigration(old, current int) MigrationAction {
	switch {
	case old == current:
		return MigrationNone
	case old == 0:
		return MigrationCreate
	case old < FirstTrustedVersion, old > current:
		return MigrationWipe
	default:
		return MigrationInPlace
	}
}
