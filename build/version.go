package build

import (
	"fmt"

	"golang.org/x/xerrors"
)

// CurrentCommit is set with -ldflags "-X .../build.CurrentCommit=+git.<sha>".
var CurrentCommit string

// BuildVersion is the release version of the node.
const BuildVersion = "0.4.0"

// UserVersion is the version reported to operators.
func UserVersion() string {
	return BuildVersion + CurrentCommit
}

// Version is a semver triple packed as 0x00MMmmpp.
type Version uint32

func newVer(major, minor, patch uint8) Version {
	return Version(uint32(major)<<16 | uint32(minor)<<8 | uint32(patch))
}

func (v Version) Major() uint8 { return uint8(v >> 16) }
func (v Version) Minor() uint8 { return uint8(v >> 8) }
func (v Version) Patch() uint8 { return uint8(v) }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// Compatible reports whether peers speaking v and o can talk: the major
// versions must match and, before 1.0, so must the minor ones.
func (v Version) Compatible(o Version) bool {
	if v.Major() != o.Major() {
		return false
	}
	return v.Major() > 0 || v.Minor() == o.Minor()
}

type APIType int

const (
	APIUnknown APIType = iota

	APINode
	APILedger
)

// semver versions of the apis exposed
var (
	NodeAPIVersion   = newVer(0, 4, 0)
	LedgerAPIVersion = newVer(0, 2, 0)
)

func VersionForAPI(t APIType) (Version, error) {
	switch t {
	case APINode:
		return NodeAPIVersion, nil
	case APILedger:
		return LedgerAPIVersion, nil
	default:
		return 0, xerrors.Errorf("unknown api type %d", t)
	}
}
