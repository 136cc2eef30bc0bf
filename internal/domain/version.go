package domain

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// BundleVersion is an immutable semantic version of a bundle. The empty
// value means "no version" and is only valid for a rollout's previous
// version.
type BundleVersion string

// ParseBundleVersion validates raw as a semantic version.
func ParseBundleVersion(raw string) (BundleVersion, error) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return "", fmt.Errorf("%w: bundle version %q: %v", ErrInvalidArgument, raw, err)
	}
	return BundleVersion(v.Original()), nil
}

// Compare returns -1, 0 or +1 depending on whether v orders before, equal
// to, or after other.
func (v BundleVersion) Compare(other BundleVersion) (int, error) {
	a, err := semver.NewVersion(string(v))
	if err != nil {
		return 0, fmt.Errorf("%w: bundle version %q: %v", ErrInvalidArgument, v, err)
	}
	b, err := semver.NewVersion(string(other))
	if err != nil {
		return 0, fmt.Errorf("%w: bundle version %q: %v", ErrInvalidArgument, other, err)
	}
	return a.Compare(b), nil
}

func (v BundleVersion) String() string { return string(v) }
