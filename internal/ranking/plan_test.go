package ranking

import (
	"errors"
	"math"
	"testing"
)

func ord(value float64) *float64 {
	return &value
}

func ranked(id string, order *float64) rankedItem {
	return rankedItem{id: id, cardID: "card-" + id, order: order}
}

func changeFor(t *testing.T, changes []OrderChange, id string) OrderChange {
	t.Helper()
	for _, change := range changes {
		if change.SubmittalID == id {
			return change
		}
	}
	t.Fatalf("expected a change for %s, got %v", id, changes)
	return OrderChange{}
}

func assertUntouched(t *testing.T, changes []OrderChange, id string) {
	t.Helper()
	for _, change := range changes {
		if change.SubmittalID == id {
			t.Fatalf("expected no change for %s, got %+v", id, change)
		}
	}
}

func assertOrder(t *testing.T, change OrderChange, expected float64) {
	t.Helper()
	if change.NewOrder == nil {
		t.Fatalf("expected order %v for %s, got nil", expected, change.SubmittalID)
	}
	if math.Abs(*change.NewOrder-expected) > 1e-9 {
		t.Fatalf("expected order %v for %s, got %v", expected, change.SubmittalID, *change.NewOrder)
	}
}

func TestPlanSetOrderSoleUrgentTakesTopSlot(t *testing.T) {
	items := []rankedItem{
		ranked("alpha", ord(1)),
		ranked("bravo", ord(2)),
	}

	changes, err := planSetOrder(items, "bravo", ord(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %v", changes)
	}
	assertOrder(t, changeFor(t, changes, "bravo"), 0.9)
	assertUntouched(t, changes, "alpha")
}

func TestPlanSetOrderNewestUrgentTakesTopSlot(t *testing.T) {
	items := []rankedItem{
		ranked("top", ord(0.9)),
		ranked("joiner", ord(1)),
	}

	changes, err := planSetOrder(items, "joiner", ord(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, changeFor(t, changes, "joiner"), 0.9)
	assertOrder(t, changeFor(t, changes, "top"), 0.8)
}

func TestPlanSetOrderRegularToUrgentRenumbersRegulars(t *testing.T) {
	items := []rankedItem{
		ranked("r1", ord(1)),
		ranked("r2", ord(2)),
		ranked("mover", ord(3)),
		ranked("r4", ord(4)),
		ranked("r5", ord(5)),
	}

	changes, err := planSetOrder(items, "mover", ord(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, changeFor(t, changes, "mover"), 0.9)
	assertOrder(t, changeFor(t, changes, "r4"), 3)
	assertOrder(t, changeFor(t, changes, "r5"), 4)
	assertUntouched(t, changes, "r1")
	assertUntouched(t, changes, "r2")
}

func TestPlanSetOrderUrgentOverflowDemotesOldest(t *testing.T) {
	items := make([]rankedItem, 0, 11)
	for tenth := 1; tenth <= 9; tenth++ {
		items = append(items, ranked("u"+string(rune('0'+tenth)), ord(TenthValue(tenth))))
	}
	items = append(items, ranked("r1", ord(1)))
	items = append(items, ranked("joiner", nil))

	changes, err := planSetOrder(items, "joiner", ord(0.3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, changeFor(t, changes, "joiner"), 0.9)
	assertOrder(t, changeFor(t, changes, "u1"), 1)
	assertOrder(t, changeFor(t, changes, "r1"), 2)
	for tenth := 2; tenth <= 9; tenth++ {
		assertOrder(t, changeFor(t, changes, "u"+string(rune('0'+tenth))), TenthValue(tenth-1))
	}
}

func TestPlanSetOrderActedItemWinsSlotTie(t *testing.T) {
	items := []rankedItem{
		ranked("incumbent", ord(0.5)),
		ranked("claimant", nil),
	}

	changes, err := planSetOrder(items, "claimant", ord(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, changeFor(t, changes, "claimant"), 0.9)
	assertOrder(t, changeFor(t, changes, "incumbent"), 0.8)
}

func TestPlanSetOrderRegularInsertShiftsFollowers(t *testing.T) {
	items := []rankedItem{
		ranked("first", ord(1)),
		ranked("second", ord(2)),
		ranked("third", ord(3)),
		ranked("joiner", nil),
	}

	changes, err := planSetOrder(items, "joiner", ord(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, changeFor(t, changes, "joiner"), 2)
	assertOrder(t, changeFor(t, changes, "second"), 3)
	assertOrder(t, changeFor(t, changes, "third"), 4)
	assertUntouched(t, changes, "first")
}

func TestPlanSetOrderRegularPositionClamps(t *testing.T) {
	items := []rankedItem{
		ranked("first", ord(1)),
		ranked("second", ord(2)),
		ranked("joiner", nil),
	}

	changes, err := planSetOrder(items, "joiner", ord(40))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %v", changes)
	}
	assertOrder(t, changeFor(t, changes, "joiner"), 3)
}

func TestPlanSetOrderNullUnranksAndClosesGap(t *testing.T) {
	items := []rankedItem{
		ranked("first", ord(1)),
		ranked("second", ord(2)),
		ranked("third", ord(3)),
	}

	changes, err := planSetOrder(items, "second", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected two changes, got %v", changes)
	}
	change := changeFor(t, changes, "second")
	if change.NewOrder != nil {
		t.Fatalf("expected nil order, got %v", *change.NewOrder)
	}
	if change.OldOrder == nil || *change.OldOrder != 2 {
		t.Fatalf("expected old order 2, got %v", change.OldOrder)
	}
	assertOrder(t, changeFor(t, changes, "third"), 2)
	assertUntouched(t, changes, "first")
}

func TestPlanSetOrderNullFromUrgentLeavesRegularsAlone(t *testing.T) {
	items := []rankedItem{
		ranked("urgent", ord(0.9)),
		ranked("first", ord(1)),
		ranked("second", ord(2)),
	}

	changes, err := planSetOrder(items, "urgent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %v", changes)
	}
	if change := changeFor(t, changes, "urgent"); change.NewOrder != nil {
		t.Fatalf("expected nil order, got %v", *change.NewOrder)
	}
}

func TestPlanSetOrderSameValueProducesNoChanges(t *testing.T) {
	items := []rankedItem{
		ranked("first", ord(1)),
		ranked("second", ord(2)),
	}

	changes, err := planSetOrder(items, "second", ord(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

func TestPlanSetOrderRejectsInvalidValues(t *testing.T) {
	items := []rankedItem{ranked("only", nil)}

	if _, err := planSetOrder(items, "only", ord(0)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for zero, got %v", err)
	}
	if _, err := planSetOrder(items, "only", ord(-2)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for negative, got %v", err)
	}
	if _, err := planSetOrder(items, "only", ord(0.04)); !errors.Is(err, ErrOffLadder) {
		t.Fatalf("expected ErrOffLadder for off-ladder fraction, got %v", err)
	}
	if _, err := planSetOrder(items, "missing", ord(1)); !errors.Is(err, ErrUnknownSubmittal) {
		t.Fatalf("expected ErrUnknownSubmittal, got %v", err)
	}
}

func TestPlanPromoteIntoEmptyTier(t *testing.T) {
	items := []rankedItem{
		ranked("stays", ord(1)),
		ranked("rises", ord(2)),
	}

	changes, err := planPromote(items, "rises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %v", changes)
	}
	assertOrder(t, changeFor(t, changes, "rises"), 0.9)
}

func TestPlanPromoteAlreadyUrgentIsNoOp(t *testing.T) {
	items := []rankedItem{
		ranked("urgent", ord(0.7)),
		ranked("regular", ord(1)),
	}

	changes, err := planPromote(items, "urgent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

func TestPlanPromoteShiftsStopAtFirstGap(t *testing.T) {
	items := []rankedItem{
		ranked("top", ord(0.9)),
		ranked("middle", ord(0.5)),
		ranked("rises", nil),
	}

	changes, err := planPromote(items, "rises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertOrder(t, changeFor(t, changes, "rises"), 0.9)
	assertOrder(t, changeFor(t, changes, "top"), 0.8)
	assertUntouched(t, changes, "middle")
}

func TestPlanPromoteSaturatedDemotesLeastUrgent(t *testing.T) {
	items := []rankedItem{
		ranked("u1", ord(0.1)),
		ranked("u2", ord(0.2)),
		ranked("u3", ord(0.3)),
		ranked("u4", ord(0.4)),
		ranked("u5", ord(0.5)),
		ranked("u6", ord(0.6)),
		ranked("u7", ord(0.7)),
		ranked("u8", ord(0.8)),
		ranked("u9", ord(0.9)),
		ranked("r1", ord(1)),
		ranked("r2", ord(2)),
		ranked("rises", ord(3)),
	}

	changes, err := planPromote(items, "rises")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertOrder(t, changeFor(t, changes, "rises"), 0.9)
	assertOrder(t, changeFor(t, changes, "u1"), 1)
	for tenth := 2; tenth <= 9; tenth++ {
		id := "u" + string(rune('0'+tenth))
		assertOrder(t, changeFor(t, changes, id), TenthValue(tenth-1))
	}
	assertOrder(t, changeFor(t, changes, "r1"), 2)
	assertOrder(t, changeFor(t, changes, "r2"), 3)
}

func TestPlanNormalizeClosesRegularGaps(t *testing.T) {
	items := []rankedItem{
		ranked("urgent", ord(0.5)),
		ranked("first", ord(2)),
		ranked("second", ord(5)),
		ranked("third", ord(9)),
		ranked("unranked", nil),
	}

	changes := planNormalize(items)
	assertOrder(t, changeFor(t, changes, "first"), 1)
	assertOrder(t, changeFor(t, changes, "second"), 2)
	assertOrder(t, changeFor(t, changes, "third"), 3)
	assertUntouched(t, changes, "urgent")
	assertUntouched(t, changes, "unranked")
}

func TestPlanNormalizeCleanSequenceProducesNoChanges(t *testing.T) {
	items := []rankedItem{
		ranked("first", ord(1)),
		ranked("second", ord(2)),
	}

	if changes := planNormalize(items); len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

// applyPlan folds a plan back into the snapshot, mimicking persistence.
func applyPlan(items []rankedItem, changes []OrderChange) []rankedItem {
	next := make([]rankedItem, len(items))
	copy(next, items)
	for _, change := range changes {
		for index := range next {
			if next[index].id == change.SubmittalID {
				next[index].order = change.NewOrder
			}
		}
	}
	return next
}

func assertLadderInvariant(t *testing.T, items []rankedItem, step string) {
	t.Helper()
	seen := make(map[int]string)
	for _, item := range items {
		if item.order == nil || !IsUrgentValue(*item.order) {
			continue
		}
		tenth, err := SnapToTenth(*item.order)
		if err != nil {
			t.Fatalf("after %s: %s holds off-ladder value %v", step, item.id, *item.order)
		}
		if math.Abs(*item.order-TenthValue(tenth)) > 1e-9 {
			t.Fatalf("after %s: %s holds unsnapped value %v", step, item.id, *item.order)
		}
		if holder, taken := seen[tenth]; taken {
			t.Fatalf("after %s: slot %v held by both %s and %s", step, TenthValue(tenth), holder, item.id)
		}
		seen[tenth] = item.id
	}
}

func TestPlanSequencesKeepLadderSlotsUnique(t *testing.T) {
	items := []rankedItem{
		ranked("a", ord(1)),
		ranked("b", ord(2)),
		ranked("c", ord(3)),
		ranked("d", ord(4)),
		ranked("e", nil),
		ranked("f", nil),
		ranked("g", ord(5)),
		ranked("h", ord(6)),
		ranked("i", ord(7)),
		ranked("j", ord(8)),
		ranked("k", ord(9)),
		ranked("l", ord(10)),
	}

	steps := []struct {
		name string
		run  func([]rankedItem) ([]OrderChange, error)
	}{
		{name: "set a urgent", run: func(s []rankedItem) ([]OrderChange, error) { return planSetOrder(s, "a", ord(0.5)) }},
		{name: "promote b", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "b") }},
		{name: "set c onto taken slot", run: func(s []rankedItem) ([]OrderChange, error) { return planSetOrder(s, "c", ord(0.9)) }},
		{name: "promote d", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "d") }},
		{name: "set e urgent low", run: func(s []rankedItem) ([]OrderChange, error) { return planSetOrder(s, "e", ord(0.1)) }},
		{name: "promote f", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "f") }},
		{name: "promote g", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "g") }},
		{name: "promote h", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "h") }},
		{name: "promote i", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "i") }},
		{name: "promote j overflows tier", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "j") }},
		{name: "unrank c", run: func(s []rankedItem) ([]OrderChange, error) { return planSetOrder(s, "c", nil) }},
		{name: "set k regular front", run: func(s []rankedItem) ([]OrderChange, error) { return planSetOrder(s, "k", ord(1)) }},
		{name: "promote l", run: func(s []rankedItem) ([]OrderChange, error) { return planPromote(s, "l") }},
		{name: "normalize", run: func(s []rankedItem) ([]OrderChange, error) { return planNormalize(s), nil }},
	}

	state := items
	for _, step := range steps {
		changes, err := step.run(state)
		if err != nil {
			t.Fatalf("step %q failed: %v", step.name, err)
		}
		state = applyPlan(state, changes)
		assertLadderInvariant(t, state, step.name)
	}
}
