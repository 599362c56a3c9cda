package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/mfeltner/basket/internal/database"
	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/store"
	"github.com/mfeltner/basket/internal/websocket"
)

const testListID = "550e8400-e29b-41d4-a716-446655440000"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupListHandler(t *testing.T) (*ListHandler, *store.ListStore, *websocket.Hub) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ls := store.NewListStore(db)
	hub := websocket.NewHub(testLogger())
	return NewListHandler(ls, hub, testLogger()), ls, hub
}

func newListRequest(method, target, id string, body []byte) *http.Request {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.SetPathValue("id", id)
	return req
}

func TestGetList(t *testing.T) {
	h, ls, _ := setupListHandler(t)
	ls.InsertIfAbsent(testListID)

	rec := httptest.NewRecorder()
	h.Get(rec, newListRequest("GET", "/api/lists/"+testListID, testListID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list model.ShoppingList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.ID != testListID {
		t.Errorf("id = %q, want %q", list.ID, testListID)
	}
	if list.Revision != 1 {
		t.Errorf("revision = %d, want 1", list.Revision)
	}
}

func TestGetListNotFound(t *testing.T) {
	h, _, _ := setupListHandler(t)

	rec := httptest.NewRecorder()
	h.Get(rec, newListRequest("GET", "/api/lists/"+testListID, testListID, nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetListInvalidID(t *testing.T) {
	h, _, _ := setupListHandler(t)

	rec := httptest.NewRecorder()
	h.Get(rec, newListRequest("GET", "/api/lists/not-a-uuid", "not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreateListIdempotent(t *testing.T) {
	h, _, _ := setupListHandler(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.Create(rec, newListRequest("POST", "/api/lists/"+testListID, testListID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("create %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}

func TestReplaceItemsBroadcastsSnapshot(t *testing.T) {
	h, _, hub := setupListHandler(t)

	createRec := httptest.NewRecorder()
	h.Create(createRec, newListRequest("POST", "/api/lists/"+testListID, testListID, nil))

	// Subscribe over a real WebSocket so the broadcast path is exercised
	// end to end.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", websocket.HandleWebSocket(hub))
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?list_id=" + testListID
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	waitForSubscriber(t, hub, testListID)

	body, _ := json.Marshal(replaceItemsRequest{
		Items: []model.ShoppingItem{
			{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 1},
		},
		Origin: "session-1",
	})
	rec := httptest.NewRecorder()
	h.ReplaceItems(rec, newListRequest("PUT", "/api/lists/"+testListID+"/items", testListID, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp replaceItemsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Revision != 2 {
		t.Errorf("revision = %d, want 2", resp.Revision)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap websocket.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Revision != 2 {
		t.Errorf("snapshot revision = %d, want 2", snap.Revision)
	}
	if snap.Origin != "session-1" {
		t.Errorf("snapshot origin = %q, want session-1", snap.Origin)
	}
	if len(snap.Items) != 1 || snap.Items[0].Name != "Milk" {
		t.Errorf("snapshot items = %+v", snap.Items)
	}
}

func waitForSubscriber(t *testing.T, hub *websocket.Hub, listID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(listID) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for subscriber registration")
}

func TestReplaceItemsValidation(t *testing.T) {
	h, _, _ := setupListHandler(t)
	createRec := httptest.NewRecorder()
	h.Create(createRec, newListRequest("POST", "/api/lists/"+testListID, testListID, nil))

	cases := []struct {
		name  string
		items []model.ShoppingItem
	}{
		{"missing id", []model.ShoppingItem{{Name: "Milk", Price: 1, Quantity: 1}}},
		{"duplicate id", []model.ShoppingItem{
			{ID: "i1", Name: "Milk", Price: 1, Quantity: 1},
			{ID: "i1", Name: "Eggs", Price: 1, Quantity: 1},
		}},
		{"empty name", []model.ShoppingItem{{ID: "i1", Name: " ", Price: 1, Quantity: 1}}},
		{"negative price", []model.ShoppingItem{{ID: "i1", Name: "Milk", Price: -1, Quantity: 1}}},
		{"zero quantity", []model.ShoppingItem{{ID: "i1", Name: "Milk", Price: 1, Quantity: 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(replaceItemsRequest{Items: tc.items})
			rec := httptest.NewRecorder()
			h.ReplaceItems(rec, newListRequest("PUT", "/api/lists/"+testListID+"/items", testListID, body))
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
			}
		})
	}
}

func TestReplaceItemsMissingListHandler(t *testing.T) {
	h, _, _ := setupListHandler(t)

	body, _ := json.Marshal(replaceItemsRequest{Items: []model.ShoppingItem{}})
	rec := httptest.NewRecorder()
	h.ReplaceItems(rec, newListRequest("PUT", "/api/lists/"+testListID+"/items", testListID, body))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestDeleteListHandler(t *testing.T) {
	h, ls, _ := setupListHandler(t)
	ls.InsertIfAbsent(testListID)

	rec := httptest.NewRecorder()
	h.Delete(rec, newListRequest("DELETE", "/api/lists/"+testListID, testListID, nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	list, _ := ls.Fetch(testListID)
	if list != nil {
		t.Error("list should be deleted")
	}
}

func TestShareCreatesMissingList(t *testing.T) {
	h, ls, _ := setupListHandler(t)

	rec := httptest.NewRecorder()
	h.Share(rec, newListRequest("GET", "/list/"+testListID, testListID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	list, _ := ls.Fetch(testListID)
	if list == nil {
		t.Fatal("share should have created the list")
	}
	if len(list.Items) != 0 {
		t.Errorf("new shared list items = %d, want 0", len(list.Items))
	}
}
