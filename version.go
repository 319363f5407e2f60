package cablehs

import (
	"fmt"
)

// Version is a protocol version. Versions with the same major number are
// compatible.
type Version struct {
	Major uint8
	Minor uint8
}

// DefaultVersion is the protocol version used when Config.Version is zero.
var DefaultVersion = Version{1, 0}

// versionSize is the size of the version message.
const versionSize = 2

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsZero returns whether v is the zero value.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compatible returns whether remote can be talked to by v.
func (v Version) Compatible(remote Version) bool {
	return v.Major == remote.Major
}

// Bytes returns the version message, the major followed by minor number.
func (v Version) Bytes() []byte {
	return []byte{v.Major, v.Minor}
}

func parseVersion(buf []byte) Version {
	return Version{buf[0], buf[1]}
}
