package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/records"
)

// runBoardPass drives one completed board pass so the audit surfaces have
// something to return.
func (f *serverFixture) runBoardPass(t *testing.T) {
	t.Helper()
	f.seedJob(t, records.Job{
		JobNumber: "4512", Release: "001",
		Customer: "Meridian Fabrication", Stage: "Fabrication",
		BoardCardID: "card-4512",
		StageSource: records.SystemSheet, StageUpdatedAtSeconds: f.now.Add(-time.Hour).Unix(),
	})
	body := gin.H{
		"card_id":     "card-4512",
		"observed_at": f.now.Add(-time.Minute).Format(time.RFC3339),
		"actor":       gin.H{"id": "usr-9", "display_name": "Dana Reeve"},
		"fields":      gin.H{"stage": "Paint"},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/board", body, true)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("trigger rejected: %d %s", recorder.Code, recorder.Body.String())
	}
	summary := f.awaitPass(t)
	if summary.Status != oplog.StatusCompleted {
		t.Fatalf("expected a completed pass, got %+v", summary)
	}
}

func TestAuditOperationsListsCompletedPass(t *testing.T) {
	f := newServerFixture(t)
	f.runBoardPass(t)

	recorder := f.do(t, http.MethodGet, "/audit/operations", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var listing struct {
		Operations []operationPayload `json:"operations"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Operations) != 1 {
		t.Fatalf("expected one operation, got %d", len(listing.Operations))
	}
	operation := listing.Operations[0]
	if operation.Token != "pass-001" || operation.Type != "board_sync" || operation.Status != "COMPLETED" {
		t.Fatalf("unexpected operation: %+v", operation)
	}
	if operation.SourceSystem != records.SystemBoard || operation.SourceID != "card-4512" {
		t.Fatalf("unexpected operation source: %+v", operation)
	}
	if operation.RecordsProcessed != 1 || operation.RecordsUpdated != 1 {
		t.Fatalf("unexpected operation counts: %+v", operation)
	}
	if operation.CompletedAtSeconds == nil {
		t.Fatalf("expected a completion stamp")
	}

	recorder = f.do(t, http.MethodGet, "/audit/operations?type=sheet_sync", nil, true)
	decodeBody(t, recorder, &listing)
	if len(listing.Operations) != 0 {
		t.Fatalf("expected no sheet operations, got %d", len(listing.Operations))
	}

	from := f.now.Add(time.Hour).Format(time.RFC3339)
	recorder = f.do(t, http.MethodGet, "/audit/operations?from="+from, nil, true)
	decodeBody(t, recorder, &listing)
	if len(listing.Operations) != 0 {
		t.Fatalf("expected the window filter to exclude the pass, got %d", len(listing.Operations))
	}
}

func TestAuditOperationsRejectsBadTimeFilter(t *testing.T) {
	f := newServerFixture(t)

	recorder := f.do(t, http.MethodGet, "/audit/operations?from=notatime", nil, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", failure.Error)
	}
}

func TestAuditOperationLogsReturnPassTrail(t *testing.T) {
	f := newServerFixture(t)
	f.runBoardPass(t)

	recorder := f.do(t, http.MethodGet, "/audit/operations/pass-001/logs", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var listing struct {
		Logs []logEntryPayload `json:"logs"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Logs) == 0 {
		t.Fatalf("expected log entries for the pass")
	}

	var applied *logEntryPayload
	for index := range listing.Logs {
		if listing.Logs[index].Message == "job group applied" {
			applied = &listing.Logs[index]
			break
		}
	}
	if applied == nil {
		t.Fatalf("expected a job group applied entry, got %+v", listing.Logs)
	}
	if applied.Level != "info" || applied.JobKey != "4512-001" {
		t.Fatalf("unexpected log entry: %+v", applied)
	}
	var details map[string]any
	if err := json.Unmarshal(applied.Details, &details); err != nil {
		t.Fatalf("failed to decode details: %v", err)
	}
	if details["source"] != "Board - Dana Reeve" {
		t.Fatalf("unexpected detail source: %v", details["source"])
	}
}

func TestAuditEventsFilterByEntity(t *testing.T) {
	f := newServerFixture(t)
	f.runBoardPass(t)

	recorder := f.do(t, http.MethodGet, "/audit/events?entity_type=job", nil, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var listing struct {
		Events []eventPayload `json:"events"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Events) != 1 {
		t.Fatalf("expected one job event, got %d", len(listing.Events))
	}
	event := listing.Events[0]
	if event.Action != "stage_changed" || event.EntityKey != "4512-001" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Source != "Board - Dana Reeve" {
		t.Fatalf("unexpected event source: %q", event.Source)
	}
	if event.AppliedAtSeconds == nil {
		t.Fatalf("expected the delivered event to read applied")
	}

	recorder = f.do(t, http.MethodGet, "/audit/events?entity_type=submittal", nil, true)
	decodeBody(t, recorder, &listing)
	if len(listing.Events) != 0 {
		t.Fatalf("expected no submittal events, got %d", len(listing.Events))
	}
}
