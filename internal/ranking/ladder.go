// Package ranking manages submittal priority ordering: a two-tier scheme of
// fractional urgent slots on the fixed tenth ladder 0.1..0.9 and integer
// regular positions from 1. All slot math runs on integer tenths so float
// comparison never decides placement.
package ranking

import (
	"errors"
	"math"
)

const (
	minUrgentTenth = 1
	maxUrgentTenth = 9

	// UrgentCapacity is the number of slots in the urgent tier.
	UrgentCapacity = 9
)

// ErrOffLadder reports an urgent value that does not snap onto 0.1..0.9.
var ErrOffLadder = errors.New("ranking: urgent value must snap to one of 0.1 through 0.9")

// SnapToTenth snaps a fractional order value to the nearest tenth and
// validates it against the ladder.
func SnapToTenth(value float64) (int, error) {
	tenth := int(math.Round(value * 10))
	if tenth < minUrgentTenth || tenth > maxUrgentTenth {
		return 0, ErrOffLadder
	}
	return tenth, nil
}

// TenthValue converts an integer tenth back to its stored order value.
func TenthValue(tenth int) float64 {
	return float64(tenth) / 10
}

// IsUrgentValue reports whether an order value denotes an urgent slot.
func IsUrgentValue(value float64) bool {
	return value > 0 && value < 1
}

// tenthOf classifies a stored urgent value onto the ladder. Stored values are
// always exact tenths; rounding only absorbs float representation noise.
func tenthOf(value float64) int {
	return int(math.Round(value * 10))
}

// compactTenths assigns count items, ordered least to most urgent, to the
// contiguous slot suffix ending at 0.9.
func compactTenths(count int) []int {
	if count <= 0 {
		return nil
	}
	if count > UrgentCapacity {
		count = UrgentCapacity
	}
	tenths := make([]int, count)
	for index := range tenths {
		tenths[index] = maxUrgentTenth - count + 1 + index
	}
	return tenths
}

// promotionShifts computes the per-slot moves that free 0.9 for a new
// entrant. Every occupied slot above the nearest free slot below 0.9 moves
// down one tenth. ok is false when the tier is saturated.
func promotionShifts(occupied map[int]bool) (map[int]int, bool) {
	if len(occupied) >= UrgentCapacity {
		return nil, false
	}
	if !occupied[maxUrgentTenth] {
		return map[int]int{}, true
	}

	nearestFree := 0
	for tenth := maxUrgentTenth - 1; tenth >= minUrgentTenth; tenth-- {
		if !occupied[tenth] {
			nearestFree = tenth
			break
		}
	}

	shifts := make(map[int]int)
	for tenth := nearestFree + 1; tenth <= maxUrgentTenth; tenth++ {
		shifts[tenth] = tenth - 1
	}
	return shifts, true
}
