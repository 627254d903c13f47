package versions

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// IsNewerVersion reports whether newVersion is strictly greater than
// oldVersion. Non-semver strings compare lexicographically.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)
	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}
	return newSemver.GreaterThan(oldSemver)
}

// Outdated reports whether a worker that reported version is behind current.
// Unreported versions and development builds are never outdated, since they
// cannot be ordered against a release.
func Outdated(reported, current string) bool {
	if !isRelease(reported) || !isRelease(current) {
		return false
	}
	return IsNewerVersion(current, reported)
}

func isRelease(v string) bool {
	if v == "" || v == unknownStr || strings.HasPrefix(v, "build-") {
		return false
	}
	_, err := semver.NewVersion(v)
	return err == nil
}
