package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:events_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&DomainEvent{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func stageEvent(key string, from string, to string) NewEvent {
	return NewEvent{
		EntityType: "job",
		EntityKey:  key,
		Action:     ActionStageChanged,
		Source:     "Board - J. Doe",
		Payload:    Transition{From: from, To: to},
	}
}

func TestCreateRecordsEventOnce(t *testing.T) {
	created := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	service, db := newTestService(t, func() time.Time { return created })
	ctx := context.Background()

	first, err := service.Create(ctx, stageEvent("4512-001", "Fabrication", "Paint"))
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first write must not be a duplicate")
	}

	second, err := service.Create(ctx, stageEvent("4512-001", "Fabrication", "Paint"))
	if err != nil {
		t.Fatalf("failed to create duplicate event: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("identical transition must be reported as duplicate")
	}
	if second.EventID != first.EventID {
		t.Fatalf("duplicate must resolve to the original row: %d vs %d", second.EventID, first.EventID)
	}

	var count int64
	if err := db.Model(&DomainEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", count)
	}

	var stored DomainEvent
	if err := db.Where("event_id = ?", first.EventID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload event: %v", err)
	}
	if stored.CreatedAtSeconds != created.Unix() {
		t.Fatalf("unexpected creation stamp %d", stored.CreatedAtSeconds)
	}
	if stored.Applied() {
		t.Fatal("fresh event must not be applied")
	}
}

func TestCreateDistinguishesDifferentTransitions(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, stageEvent("4512-001", "Fabrication", "Paint")); err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	if _, err := service.Create(ctx, stageEvent("4512-001", "Paint", "Ship")); err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	if _, err := service.Create(ctx, stageEvent("4512-002", "Fabrication", "Paint")); err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	var count int64
	if err := db.Model(&DomainEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected three distinct rows, got %d", count)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, NewEvent{Action: ActionStageChanged}); err == nil {
		t.Fatal("expected missing entity to be rejected")
	}
	if _, err := service.Create(ctx, NewEvent{EntityType: "job", EntityKey: "4512-001"}); err == nil {
		t.Fatal("expected missing action to be rejected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	first := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	current := first
	service, db := newTestService(t, func() time.Time { return current })
	ctx := context.Background()

	outcome, err := service.Create(ctx, stageEvent("4512-001", "Fabrication", "Paint"))
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	if err := service.Close(ctx, outcome.EventID); err != nil {
		t.Fatalf("failed to close event: %v", err)
	}

	current = first.Add(time.Hour)
	if err := service.Close(ctx, outcome.EventID); err != nil {
		t.Fatalf("repeated close must not fail: %v", err)
	}

	var stored DomainEvent
	if err := db.Where("event_id = ?", outcome.EventID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload event: %v", err)
	}
	if stored.AppliedAtSeconds == nil || *stored.AppliedAtSeconds != first.Unix() {
		t.Fatalf("expected first applied stamp to survive, got %+v", stored.AppliedAtSeconds)
	}
}

func TestGetReturnsStoredEvent(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	outcome, err := service.Create(ctx, stageEvent("4512-001", "Fabrication", "Paint"))
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	event, err := service.Get(ctx, outcome.EventID)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if event.EntityKey != "4512-001" || event.Action != ActionStageChanged {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := service.Get(ctx, 9999); err == nil {
		t.Fatal("expected missing event lookup to fail")
	}
}

func TestListFiltersBySourceAndEntity(t *testing.T) {
	base := time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)
	current := base
	service, _ := newTestService(t, func() time.Time { return current })
	ctx := context.Background()

	seed := []NewEvent{
		{EntityType: "job", EntityKey: "4512-001", Action: ActionStageChanged, Source: "Board - J. Doe", Payload: Transition{From: "A", To: "B"}},
		{EntityType: "job", EntityKey: "4512-002", Action: ActionNotesChanged, Source: "Sheet", Payload: Transition{From: "", To: "note"}},
		{EntityType: "submittal", EntityKey: "sub-1", Action: ActionOrderChanged, Source: "Internal - planner", Payload: Transition{From: 1.0, To: 0.9}},
	}
	for index, input := range seed {
		current = base.Add(time.Duration(index) * time.Minute)
		if _, err := service.Create(ctx, input); err != nil {
			t.Fatalf("failed to seed event %d: %v", index, err)
		}
	}

	bySource, err := service.List(ctx, Filter{Source: "Sheet"})
	if err != nil {
		t.Fatalf("failed to list by source: %v", err)
	}
	if len(bySource) != 1 || bySource[0].EntityKey != "4512-002" {
		t.Fatalf("unexpected source filter result %+v", bySource)
	}

	byEntity, err := service.List(ctx, Filter{EntityType: "submittal"})
	if err != nil {
		t.Fatalf("failed to list by entity type: %v", err)
	}
	if len(byEntity) != 1 || byEntity[0].EntityKey != "sub-1" {
		t.Fatalf("unexpected entity filter result %+v", byEntity)
	}

	windowed, err := service.List(ctx, Filter{From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("failed to list by window: %v", err)
	}
	if len(windowed) != 1 || windowed[0].EntityKey != "4512-002" {
		t.Fatalf("unexpected window filter result %+v", windowed)
	}

	all, err := service.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("failed to list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected three events, got %d", len(all))
	}
	if all[0].EntityKey != "sub-1" {
		t.Fatalf("expected newest first, got %s", all[0].EntityKey)
	}
}
