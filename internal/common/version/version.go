// Package version holds the daemon version.
package version

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the current daemon version.
// The version follows semantic versioning (MAJOR.MINOR.PATCH).
const Version = "0.2.0"

var versionConstraint *semver.Constraints

func init() {
	var err error
	versionConstraint, err = semver.NewConstraint("=" + Version)
	if err != nil {
		panic(err)
	}
}

// IsCompatible reports whether the given version string matches the daemon
// version. Returns false for invalid version strings.
func IsCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return versionConstraint.Check(v)
}
