package record

import "fmt"

// VersionKind discriminates the version variants.
type VersionKind uint8

// Version variants.
const (
	// Tracked versions participate in MVCC checks.
	Tracked VersionKind = iota
	// Untracked versions bypass MVCC entirely.
	Untracked
	// Tombstone versions mark a deleted record whose slot is kept.
	Tombstone
)

// Wire encodings of the non-tracked variants.
const (
	wireUntracked int32 = -1
	wireTombstone int32 = -2
)

// A Version is the MVCC counter attached to every stored record. It is
// either a tracked monotonically increasing counter, the untracked
// marker, or the tombstone marker.
type Version struct {
	Kind    VersionKind
	Counter int32
}

// TrackedVersion returns a tracked version with the given counter.
func TrackedVersion(counter int32) Version {
	return Version{Kind: Tracked, Counter: counter}
}

// UntrackedVersion returns the marker that bypasses MVCC.
func UntrackedVersion() Version {
	return Version{Kind: Untracked}
}

// TombstoneVersion returns the deletion marker carrying the counter the
// record died with.
func TombstoneVersion(counter int32) Version {
	return Version{Kind: Tombstone, Counter: counter}
}

// IsUntracked reports whether MVCC checks are bypassed.
func (v Version) IsUntracked() bool {
	return v.Kind == Untracked
}

// IsTombstone reports whether the version marks a deleted record.
func (v Version) IsTombstone() bool {
	return v.Kind == Tombstone
}

// Next returns the tracked version following v.
func (v Version) Next() Version {
	return Version{Kind: Tracked, Counter: v.Counter + 1}
}

// Encode renders the version as its wire integer.
func (v Version) Encode() int32 {
	switch v.Kind {
	case Untracked:
		return wireUntracked
	case Tombstone:
		return wireTombstone
	default:
		return v.Counter
	}
}

// DecodeVersion parses a wire integer back into a version. Counters
// below the tombstone marker are rejected.
func DecodeVersion(wire int32) (Version, error) {
	switch {
	case wire >= 0:
		return TrackedVersion(wire), nil
	case wire == wireUntracked:
		return UntrackedVersion(), nil
	case wire == wireTombstone:
		return Version{Kind: Tombstone}, nil
	default:
		return Version{}, fmt.Errorf("invalid record version %d", wire)
	}
}

func (v Version) String() string {
	switch v.Kind {
	case Untracked:
		return "untracked"
	case Tombstone:
		return fmt.Sprintf("tombstone(%d)", v.Counter)
	default:
		return fmt.Sprintf("v%d", v.Counter)
	}
}
