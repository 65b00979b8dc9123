// Package versioning holds the ordering and bump rules for form schema versions.
//
// Two version schemes are in use: dotted triples (MAJOR.MINOR.PATCH) assigned by the
// admin "new version" path, and UTC timestamps (YYYYMMDD_HHMMSS) assigned when a
// caller creates a version without naming it.
package versioning

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// InitialVersion is assigned to the first admin-created version of a form.
	InitialVersion = "1.0.0"

	timestampLayout = "20060102_150405"
)

// Triple is a parsed MAJOR.MINOR.PATCH version.
type Triple struct {
	Major int
	Minor int
	Patch int
}

func (t Triple) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// ParseTriple accepts exactly three dot-separated, all-digit components.
func ParseTriple(version string) (Triple, bool) {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return Triple{}, false
	}

	var nums [3]int
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Triple{}, false
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Triple{}, false
		}
		nums[i] = n
	}

	return Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}, true
}

// Compare orders two versions. Pairs of triples compare numerically; anything
// else compares as plain strings, which orders timestamp versions correctly.
func Compare(a, b string) int {
	ta, okA := ParseTriple(a)
	tb, okB := ParseTriple(b)
	if okA && okB {
		switch {
		case ta.Major != tb.Major:
			return compareInt(ta.Major, tb.Major)
		case ta.Minor != tb.Minor:
			return compareInt(ta.Minor, tb.Minor)
		default:
			return compareInt(ta.Patch, tb.Patch)
		}
	}
	return strings.Compare(a, b)
}

// Latest returns the highest version, or false for an empty list.
func Latest(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest, true
}

// Next computes the version assigned by the admin "new version" path.
//
// A named base gets a patch bump (or ".1" appended when it is not a triple).
// Without a base the form's latest version gets a minor bump (or ".1" appended),
// a component that cannot be incremented also gets ".1" appended,
// and a form with no versions starts at 1.0.0.
func Next(baseVersion string, latest string, hasLatest bool) string {
	if baseVersion != "" {
		if t, ok := ParseTriple(baseVersion); ok && t.Patch < math.MaxInt {
			t.Patch++
			return t.String()
		}
		return baseVersion + ".1"
	}

	if !hasLatest {
		return InitialVersion
	}

	if t, ok := ParseTriple(latest); ok && t.Minor < math.MaxInt {
		return Triple{Major: t.Major, Minor: t.Minor + 1}.String()
	}
	return latest + ".1"
}

// Timestamp is the version assigned when a caller creates a version without naming one.
func Timestamp(now time.Time) string {
	return now.UTC().Format(timestampLayout)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
