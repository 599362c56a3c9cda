package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mfeltner/basket/internal/backup"
	"github.com/mfeltner/basket/internal/database"
	"github.com/mfeltner/basket/internal/model"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, backup.Config{}, logger).Router()
}

func TestHealthEndpoint(t *testing.T) {
	router := setupServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestListRoundTripThroughRouter(t *testing.T) {
	router := setupServer(t)
	id := "550e8400-e29b-41d4-a716-446655440000"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/lists/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d, want %d", rec.Code, http.StatusOK)
	}

	body, _ := json.Marshal(map[string]any{
		"items": []model.ShoppingItem{
			{ID: "i1", Name: "Milk", Price: 3.50, Quantity: 1},
		},
		"origin": "session-1",
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/lists/"+id+"/items", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("replace: status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/lists/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list model.ShoppingList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Revision != 2 {
		t.Errorf("revision = %d, want 2", list.Revision)
	}
	if list.Total() != 3.50 {
		t.Errorf("total = %.2f, want 3.50", list.Total())
	}
}

func TestShareRouteCreatesList(t *testing.T) {
	router := setupServer(t)
	id := "650e8400-e29b-41d4-a716-446655440000"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/list/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("share: status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/lists/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get after share: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebSocketRequiresListID(t *testing.T) {
	router := setupServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
