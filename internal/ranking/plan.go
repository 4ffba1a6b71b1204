package ranking

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrUnknownSubmittal reports an operation on a submittal outside the group.
	ErrUnknownSubmittal = errors.New("ranking: unknown submittal")
	// ErrInvalidOrder reports a target value that is neither null, a ladder
	// tenth, nor a positive integer position.
	ErrInvalidOrder = errors.New("ranking: order value must be null, a ladder tenth, or a position from 1")
)

// OrderChange reports one item's movement from a ranking operation. A nil
// order means unranked.
type OrderChange struct {
	SubmittalID string
	BoardCardID string
	OldOrder    *float64
	NewOrder    *float64
}

// rankedItem is the in-memory snapshot planning works on.
type rankedItem struct {
	id     string
	cardID string
	order  *float64
}

type buckets struct {
	urgent  []rankedItem // ascending by tenth: least urgent first
	regular []rankedItem // ascending by position
}

func splitBuckets(items []rankedItem) buckets {
	var b buckets
	for _, item := range items {
		switch {
		case item.order == nil:
		case IsUrgentValue(*item.order):
			b.urgent = append(b.urgent, item)
		default:
			b.regular = append(b.regular, item)
		}
	}
	sort.SliceStable(b.urgent, func(i, j int) bool {
		return tenthOf(*b.urgent[i].order) < tenthOf(*b.urgent[j].order)
	})
	sort.SliceStable(b.regular, func(i, j int) bool {
		return *b.regular[i].order < *b.regular[j].order
	})
	return b
}

func findItem(items []rankedItem, id string) (rankedItem, bool) {
	for _, item := range items {
		if item.id == id {
			return item, true
		}
	}
	return rankedItem{}, false
}

func exclude(items []rankedItem, id string) []rankedItem {
	rest := make([]rankedItem, 0, len(items))
	for _, item := range items {
		if item.id != id {
			rest = append(rest, item)
		}
	}
	return rest
}

func orderValue(value float64) *float64 {
	return &value
}

func sameOrder(a *float64, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 1e-9
}

// diffChanges renders the final assignment against the snapshot, in snapshot
// order. Items without a final entry are untouched.
func diffChanges(items []rankedItem, final map[string]*float64) []OrderChange {
	changes := make([]OrderChange, 0, len(final))
	for _, item := range items {
		target, planned := final[item.id]
		if !planned || sameOrder(item.order, target) {
			continue
		}
		changes = append(changes, OrderChange{
			SubmittalID: item.id,
			BoardCardID: item.cardID,
			OldOrder:    item.order,
			NewOrder:    target,
		})
	}
	return changes
}

func isRegularValue(order *float64) bool {
	return order != nil && *order >= 1
}

// planSetOrder computes the movements for an explicit order assignment.
//
// A null value unranks the item. An urgent value snaps to its tenth for
// validation, then the item enters the tier as its most recent member and the
// whole tier re-slots, order preserved, onto the contiguous suffix ending at
// 0.9, so the acted-on item always lands on top. A value >= 1 is a target
// regular position: the item slots in there and the regular tier renumbers
// 1..N. Regular ranks stay dense through every branch; a slot freed in the
// urgent tier stays open until the next tier entry re-slots it.
func planSetOrder(items []rankedItem, targetID string, newValue *float64) ([]OrderChange, error) {
	target, ok := findItem(items, targetID)
	if !ok {
		return nil, ErrUnknownSubmittal
	}

	final := make(map[string]*float64)
	rest := splitBuckets(exclude(items, targetID))

	switch {
	case newValue == nil:
		final[target.id] = nil
		if isRegularValue(target.order) {
			renumberRegulars(final, rest.regular, 1)
		}

	case IsUrgentValue(*newValue):
		if _, err := SnapToTenth(*newValue); err != nil {
			return nil, err
		}
		ordered := append(append([]rankedItem{}, rest.urgent...), target)
		demoted := enterUrgentTier(final, ordered)
		if len(demoted) > 0 || isRegularValue(target.order) {
			start := renumberRegulars(final, demoted, 1)
			renumberRegulars(final, rest.regular, start)
		}

	case *newValue >= 1:
		position := int(*newValue)
		if position < 1 {
			return nil, ErrInvalidOrder
		}
		if position > len(rest.regular)+1 {
			position = len(rest.regular) + 1
		}
		ordered := make([]rankedItem, 0, len(rest.regular)+1)
		ordered = append(ordered, rest.regular[:position-1]...)
		ordered = append(ordered, target)
		ordered = append(ordered, rest.regular[position-1:]...)
		for index, item := range ordered {
			final[item.id] = orderValue(float64(index + 1))
		}

	default:
		return nil, ErrInvalidOrder
	}

	return diffChanges(items, final), nil
}

// enterUrgentTier assigns ordered items, least to most urgent, onto the
// compacted slot suffix, demoting the least urgent overflow. It returns the
// demoted items in their queue order.
func enterUrgentTier(final map[string]*float64, ordered []rankedItem) []rankedItem {
	var demoted []rankedItem
	for len(ordered) > UrgentCapacity {
		demoted = append(demoted, ordered[0])
		ordered = ordered[1:]
	}
	tenths := compactTenths(len(ordered))
	for index, item := range ordered {
		final[item.id] = orderValue(TenthValue(tenths[index]))
	}
	return demoted
}

// renumberRegulars assigns sequential positions from start and returns the
// next free position.
func renumberRegulars(final map[string]*float64, items []rankedItem, start int) int {
	for _, item := range items {
		final[item.id] = orderValue(float64(start))
		start++
	}
	return start
}

// planPromote computes the movements that put the target into the 0.9 slot.
//
// When 0.9 is taken, occupants above the nearest free slot shift down one
// tenth to open it. When the tier is saturated, the 0.1 occupant demotes to
// regular position 1 (regulars renumber behind it) and the remaining urgent
// items re-slot one tenth down. Promoting an already-urgent item is a no-op.
func planPromote(items []rankedItem, targetID string) ([]OrderChange, error) {
	target, ok := findItem(items, targetID)
	if !ok {
		return nil, ErrUnknownSubmittal
	}
	if target.order != nil && IsUrgentValue(*target.order) {
		return nil, nil
	}

	final := make(map[string]*float64)
	rest := splitBuckets(exclude(items, targetID))

	if len(rest.urgent) >= UrgentCapacity {
		ordered := append(append([]rankedItem{}, rest.urgent...), target)
		demoted := enterUrgentTier(final, ordered)
		start := renumberRegulars(final, demoted, 1)
		renumberRegulars(final, rest.regular, start)
		return diffChanges(items, final), nil
	}

	occupied := make(map[int]bool, len(rest.urgent))
	for _, item := range rest.urgent {
		occupied[tenthOf(*item.order)] = true
	}
	shifts, _ := promotionShifts(occupied)
	for _, item := range rest.urgent {
		if to, shifted := shifts[tenthOf(*item.order)]; shifted {
			final[item.id] = orderValue(TenthValue(to))
		}
	}
	final[target.id] = orderValue(TenthValue(maxUrgentTenth))
	if isRegularValue(target.order) {
		renumberRegulars(final, rest.regular, 1)
	}

	return diffChanges(items, final), nil
}

// planNormalize renumbers the regular tier 1..N preserving order. Urgent and
// unranked items are untouched.
func planNormalize(items []rankedItem) []OrderChange {
	rest := splitBuckets(items)
	final := make(map[string]*float64, len(rest.regular))
	for index, item := range rest.regular {
		final[item.id] = orderValue(float64(index + 1))
	}
	return diffChanges(items, final)
}
