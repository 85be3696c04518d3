// README: Dispatch candidate ranking and matcher errors.
package dispatch

import (
	"errors"
	"sort"

	"dishpatch/internal/modules/driver"
)

var (
	// ErrNoDriverAvailable means zero eligible candidates remained. The
	// order stays ready; retrying is the caller's (re-scan loop's) job.
	ErrNoDriverAvailable = errors.New("no driver available")
	// ErrOrderTaken means the order was assigned or cancelled concurrently.
	ErrOrderTaken = errors.New("order no longer dispatchable")
	ErrRestaurantClosed = errors.New("restaurant not accepting orders")
)

// rank orders candidates by ascending distance, breaking ties in favour of
// the most recently heard-from driver.
func rank(cands []driver.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].UpdatedAt.After(cands[j].UpdatedAt)
	})
}
