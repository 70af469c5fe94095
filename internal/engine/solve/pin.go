package solve

import (
	"sort"

	"go.trai.ch/kiln/internal/core/domain"
)

// orderCandidates sorts feasible candidates into preference order: newest
// version first, then highest build number, then lexically greatest build
// string. A pin strategy with a previously locked record narrows the
// preference by putting candidates inside the pin window first; it never
// removes candidates, so a constraint that forces an upgrade out of the
// window still solves.
func orderCandidates(cands []*domain.PackageRecord, prev *domain.PackageRecord, pin domain.PinStrategy) []*domain.PackageRecord {
	out := append([]*domain.PackageRecord(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool { return preferOver(out[i], out[j]) })

	if prev == nil || pin == domain.PinLatestUp || pin == domain.PinNone || pin == "" {
		return out
	}

	window := make([]*domain.PackageRecord, 0, len(out))
	rest := make([]*domain.PackageRecord, 0, len(out))
	for _, cand := range out {
		if inPinWindow(prev.Version, cand.Version, pin) {
			window = append(window, cand)
		} else {
			rest = append(rest, cand)
		}
	}
	return append(window, rest...)
}

func preferOver(a, b *domain.PackageRecord) bool {
	if c := a.Version.Compare(b.Version); c != 0 {
		return c > 0
	}
	if a.BuildNumber != b.BuildNumber {
		return a.BuildNumber > b.BuildNumber
	}
	return a.Build > b.Build
}

// inPinWindow reports whether candidate v is an acceptable upgrade from the
// previously locked version under the pin strategy.
func inPinWindow(prev, v domain.Version, pin domain.PinStrategy) bool {
	switch pin {
	case domain.PinExactVersion:
		return v.Compare(prev) == 0
	case domain.PinMajor:
		return v.NumericSegment(0) == prev.NumericSegment(0)
	case domain.PinMinor:
		return v.NumericSegment(0) == prev.NumericSegment(0) &&
			v.NumericSegment(1) == prev.NumericSegment(1)
	case domain.PinSemver:
		if prev.NumericSegment(0) == 0 {
			// Pre-1.0 versions treat the minor position as breaking.
			return v.NumericSegment(0) == 0 &&
				v.NumericSegment(1) == prev.NumericSegment(1)
		}
		return v.NumericSegment(0) == prev.NumericSegment(0)
	default:
		return true
	}
}
