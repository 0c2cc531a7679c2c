// Package eligibility decides whether a volume should get a new snapshot.
package eligibility

import (
	"fmt"
	"time"

	"github.com/yairfalse/snapwarden/types"
)

// Verdict is the outcome of evaluating a single volume
type Verdict string

const (
	Proceed       Verdict = "proceed"
	SkipPending   Verdict = "skip_pending"
	SkipTooRecent Verdict = "skip_too_recent"
)

// Day is the unit of the minimum age threshold on the command line
const Day = 24 * time.Hour

// MinAgeFromDays converts a day count into a threshold. Zero or negative disables the check.
func MinAgeFromDays(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * Day
}

// Evaluate looks only at the most recent snapshot of the volume.
// A pending snapshot always skips, whatever the threshold. A completed one
// younger than minAge skips when minAge is set. Anything else proceeds.
func Evaluate(v types.Volume, minAge time.Duration, now time.Time) Verdict {
	latest := v.Latest()
	if latest == nil {
		return Proceed
	}

	if latest.State == types.SnapshotPending {
		return SkipPending
	}

	if minAge > 0 && latest.State == types.SnapshotCompleted && now.Sub(latest.StartTime) < minAge {
		return SkipTooRecent
	}

	return Proceed
}

// Reason renders a human readable skip reason for a verdict
func Reason(v types.Volume, verdict Verdict, minAge time.Duration) string {
	switch verdict {
	case SkipPending:
		return fmt.Sprintf("snapshot %s already in progress", latestID(v))
	case SkipTooRecent:
		return fmt.Sprintf("snapshot %s is younger than %s", latestID(v), formatAge(minAge))
	default:
		return ""
	}
}

// AnyProceeds reports whether at least one volume of the instance is eligible
func AnyProceeds(inst types.Instance, minAge time.Duration, now time.Time) bool {
	for _, v := range inst.Volumes {
		if v.Err != nil {
			continue
		}
		if Evaluate(v, minAge, now) == Proceed {
			return true
		}
	}
	return false
}

func latestID(v types.Volume) string {
	if s := v.Latest(); s != nil {
		return s.ID
	}
	return ""
}

func formatAge(d time.Duration) string {
	if d%Day == 0 {
		days := int(d / Day)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
