package skills

import (
	"github.com/Masterminds/semver/v3"
)

// Bump selects which component of a skill's version is incremented on Save.
type Bump int

const (
	BumpPatch Bump = iota
	BumpMinor
	BumpMajor
)

// apply returns the next version given the skill's existing versions
// (oldest first, as returned by listVersions). A skill with no existing
// versions starts at 0.1.0 for BumpPatch/BumpMinor or 1.0.0 for BumpMajor.
func (b Bump) apply(versions []*semver.Version) (semver.Version, error) {
	if len(versions) == 0 {
		switch b {
		case BumpMajor:
			return *semver.MustParse("1.0.0"), nil
		default:
			return *semver.MustParse("0.1.0"), nil
		}
	}
	latest := versions[len(versions)-1]
	switch b {
	case BumpMajor:
		return latest.IncMajor(), nil
	case BumpMinor:
		return latest.IncMinor(), nil
	default:
		return latest.IncPatch(), nil
	}
}
