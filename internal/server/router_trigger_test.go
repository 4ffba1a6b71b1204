package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/records"
	"github.com/steelhaus/shopsync/internal/syncer"
)

func TestBoardTriggerAcceptsAndRunsPass(t *testing.T) {
	f := newServerFixture(t)
	f.seedJob(t, records.Job{
		JobNumber: "4512", Release: "001",
		Customer: "Meridian Fabrication", Stage: "Fabrication",
		BoardCardID: "card-4512",
		StageSource: records.SystemSheet, StageUpdatedAtSeconds: f.now.Add(-time.Hour).Unix(),
	})

	body := gin.H{
		"card_id":     "card-4512",
		"change_type": "card_moved",
		"observed_at": f.now.Add(-time.Minute).Format(time.RFC3339),
		"actor":       gin.H{"id": "usr-9", "display_name": "Dana Reeve"},
		"fields":      gin.H{"stage": "Paint"},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/board", body, true)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var accepted acceptedPayload
	decodeBody(t, recorder, &accepted)
	if accepted.Operation != "pass-001" {
		t.Fatalf("expected operation pass-001, got %q", accepted.Operation)
	}

	summary := f.awaitPass(t)
	if summary.Token != accepted.Operation || summary.Status != oplog.StatusCompleted {
		t.Fatalf("unexpected pass summary: %+v", summary)
	}
	job := f.loadJob(t, "4512", "001")
	if job.Stage != "Paint" || job.StageSource != records.SystemBoard {
		t.Fatalf("expected board stage to land, got %+v", job)
	}
	if len(f.deliverer.deliveries) != 1 {
		t.Fatalf("expected one sheet delivery, got %d", len(f.deliverer.deliveries))
	}
}

func TestBoardTriggerRejectsBadTimestamp(t *testing.T) {
	f := newServerFixture(t)

	body := gin.H{
		"card_id":     "card-1",
		"observed_at": "yesterday around noon",
		"fields":      gin.H{"stage": "Paint"},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/board", body, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "invalid_trigger" {
		t.Fatalf("expected invalid_trigger, got %q", failure.Error)
	}
}

func TestBoardTriggerRejectsEmptyFields(t *testing.T) {
	f := newServerFixture(t)

	body := gin.H{
		"card_id":     "card-1",
		"observed_at": f.now.Format(time.RFC3339),
		"fields":      gin.H{},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/board", body, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "invalid_trigger" {
		t.Fatalf("expected invalid_trigger, got %q", failure.Error)
	}
}

func TestTriggerWhileLockHeldReturnsRetryAfter(t *testing.T) {
	f := newServerFixture(t)
	scope, err := f.lock.Acquire(context.Background(), "maintenance", 0)
	if err != nil {
		t.Fatalf("failed to hold lock: %v", err)
	}
	defer scope.Release()

	body := gin.H{
		"card_id":     "card-1",
		"observed_at": f.now.Format(time.RFC3339),
		"fields":      gin.H{"stage": "Paint"},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/board", body, true)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if header := recorder.Header().Get("Retry-After"); header != "30" {
		t.Fatalf("expected Retry-After 30, got %q", header)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "busy" || failure.RetryAfterSeconds != 30 {
		t.Fatalf("unexpected busy payload: %+v", failure)
	}
}

func TestSheetTriggerCreatesJob(t *testing.T) {
	f := newServerFixture(t)

	body := gin.H{
		"last_modified_time": f.now.Add(-time.Minute).Format(time.RFC3339),
		"rows": []gin.H{{
			"job": "7733", "release": "002",
			"customer": "Harbor Steel", "description": "Mezzanine stairs",
			"stage": "Detailing", "start_date": "2026-03-16", "due_date": "2026-05-01",
			"row_ref": "rows/18",
		}},
	}
	recorder := f.do(t, http.MethodPost, "/triggers/sheet", body, true)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	summary := f.awaitPass(t)
	if summary.Status != oplog.StatusCompleted || summary.Counts.Created != 1 {
		t.Fatalf("unexpected pass summary: %+v", summary)
	}
	job := f.loadJob(t, "7733", "002")
	if job.Customer != "Harbor Steel" || job.Stage != "Detailing" {
		t.Fatalf("unexpected created job: %+v", job)
	}
}

func TestSheetTriggerRejectsBadTimestamp(t *testing.T) {
	f := newServerFixture(t)

	body := gin.H{"last_modified_time": "last tuesday", "rows": []gin.H{}}
	recorder := f.do(t, http.MethodPost, "/triggers/sheet", body, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "invalid_trigger" {
		t.Fatalf("expected invalid_trigger, got %q", failure.Error)
	}
}

func TestTriggerBodyMustBeObject(t *testing.T) {
	f := newServerFixture(t)

	recorder := f.do(t, http.MethodPost, "/triggers/board", "not a trigger", true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", failure.Error)
	}
}

func TestWriteTriggerRejectionMapsQueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.writeTriggerRejection(ctx, syncer.ErrQueueFull)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	var failure errorPayload
	decodeBody(t, recorder, &failure)
	if failure.Error != "queue_full" {
		t.Fatalf("expected queue_full, got %q", failure.Error)
	}
}
