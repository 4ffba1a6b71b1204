package outbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDelivererPostsToDestinationRoute(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.URL+"/", "connector-token", 5*time.Second)
	err := deliverer.Deliver(context.Background(), Delivery{
		Destination: DestinationBoard,
		Action:      ActionMove,
		EntityType:  "job",
		EntityKey:   "4512-001",
		Payload:     map[string]any{"stage": "Paint"},
	})
	if err != nil {
		t.Fatalf("delivery failed: %v", err)
	}

	if gotPath != "/board/move" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer connector-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["entity_key"] != "4512-001" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	payload, ok := gotBody["payload"].(map[string]any)
	if !ok || payload["stage"] != "Paint" {
		t.Fatalf("unexpected payload %+v", gotBody["payload"])
	}
}

func TestHTTPDelivererReportsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.URL, "", 5*time.Second)
	err := deliverer.Deliver(context.Background(), Delivery{
		Destination: DestinationSheet,
		Action:      ActionCellWrite,
		EntityType:  "job",
		EntityKey:   "4512-001",
	})
	if err == nil {
		t.Fatal("expected non-2xx response to surface as an error")
	}
}
