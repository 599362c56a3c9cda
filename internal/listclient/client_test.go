package listclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mfeltner/basket/internal/backup"
	"github.com/mfeltner/basket/internal/database"
	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/server"
	"github.com/mfeltner/basket/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/lists/abc" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(model.ShoppingList{
			ID:       "abc",
			Items:    []model.ShoppingItem{{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 1}},
			Revision: 4,
		})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	list, err := c.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if list.Revision != 4 {
		t.Errorf("revision = %d, want 4", list.Revision)
	}
	if len(list.Items) != 1 || list.Items[0].Name != "Milk" {
		t.Errorf("items = %+v", list.Items)
	}
}

func TestFetchMissingListIsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "list not found"})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	list, err := c.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if list != nil {
		t.Errorf("expected nil for missing list, got %+v", list)
	}
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "database exploded"})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	_, err := c.Fetch(context.Background(), "abc")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database exploded") {
		t.Errorf("error should carry the server message, got %v", err)
	}
}

func TestInsertIfAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewEncoder(w).Encode(model.ShoppingList{ID: "abc", Items: []model.ShoppingItem{}, Revision: 1})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	list, err := c.InsertIfAbsent(context.Background(), "abc")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if list.ID != "abc" || list.Revision != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestReplaceItemsSendsOrigin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		var req replaceItemsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Origin != "session-1" {
			t.Errorf("origin = %q, want session-1", req.Origin)
		}
		if len(req.Items) != 1 {
			t.Errorf("items = %d, want 1", len(req.Items))
		}
		json.NewEncoder(w).Encode(replaceItemsResponse{ID: "abc", Revision: 5})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	items := []model.ShoppingItem{{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 1}}
	list, err := c.ReplaceItems(context.Background(), "abc", items, "session-1")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if list.Revision != 5 {
		t.Errorf("revision = %d, want 5", list.Revision)
	}
	if len(list.Items) != 1 {
		t.Errorf("items = %d, want 1", len(list.Items))
	}
}

func TestReplaceItemsNilBecomesEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req replaceItemsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Items == nil {
			t.Error("items should marshal as [], not null")
		}
		json.NewEncoder(w).Encode(replaceItemsResponse{ID: "abc", Revision: 2})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	if _, err := c.ReplaceItems(context.Background(), "abc", nil, "s"); err != nil {
		t.Fatalf("replace: %v", err)
	}
}

func TestDeleteList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	if err := c.Delete(context.Background(), "abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestSaveToHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			t.Errorf("path = %s, want /api/history", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.SavedList{ID: 1, Name: "Shop", Total: 3.50})
	}))
	defer server.Close()

	c := New(server.URL, testLogger())
	saved, err := c.SaveToHistory(context.Background(), "Shop", []model.ShoppingItem{
		{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != 1 || saved.Total != 3.50 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestFeedURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws?list_id=abc"},
		{"https://basket.example.com", "wss://basket.example.com/ws?list_id=abc"},
	}
	for _, tc := range cases {
		c := New(tc.base, testLogger())
		if got := c.feedURL("abc"); got != tc.want {
			t.Errorf("feedURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := server.New(db, backup.Config{}, testLogger())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	const listID = "550e8400-e29b-41d4-a716-446655440000"
	c := New(ts.URL, testLogger())
	if _, err := c.InsertIfAbsent(context.Background(), listID); err != nil {
		t.Fatalf("insert list: %v", err)
	}

	snaps := make(chan websocket.Snapshot, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Subscribe(ctx, listID, func(s websocket.Snapshot) { snaps <- s })
	waitForSubscribers(t, srv, listID, 1)

	items := []model.ShoppingItem{{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 2}}
	if _, err := c.ReplaceItems(context.Background(), listID, items, "other-session"); err != nil {
		t.Fatalf("replace items: %v", err)
	}

	select {
	case snap := <-snaps:
		if snap.Revision != 2 {
			t.Errorf("revision = %d, want 2", snap.Revision)
		}
		if snap.Origin != "other-session" {
			t.Errorf("origin = %q, want %q", snap.Origin, "other-session")
		}
		if len(snap.Items) != 1 || snap.Items[0].Name != "Milk" {
			t.Errorf("items = %+v", snap.Items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	// Cancelling the subscription must stop delivery, not just the dial loop.
	cancel()
	waitForSubscribers(t, srv, listID, 0)

	items[0].Quantity = 3
	if _, err := c.ReplaceItems(context.Background(), listID, items, "other-session"); err != nil {
		t.Fatalf("replace items: %v", err)
	}

	select {
	case snap := <-snaps:
		t.Fatalf("received snapshot after cancel: %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}

func waitForSubscribers(t *testing.T, srv *server.Server, listID string, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for srv.Hub().SubscriberCount(listID) != want {
		select {
		case <-deadline:
			t.Fatalf("subscriber count never reached %d", want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
