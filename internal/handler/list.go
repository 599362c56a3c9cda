package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/store"
	"github.com/mfeltner/basket/internal/websocket"
)

type ListHandler struct {
	listStore *store.ListStore
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewListHandler(ls *store.ListStore, hub *websocket.Hub, logger *slog.Logger) *ListHandler {
	return &ListHandler{listStore: ls, hub: hub, logger: logger}
}

type replaceItemsRequest struct {
	Items  []model.ShoppingItem `json:"items"`
	Origin string               `json:"origin"`
}

type replaceItemsResponse struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *ListHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseListID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid list id"})
		return
	}

	list, err := h.listStore.Fetch(id)
	if err != nil {
		h.logger.Error("fetch list", "list_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch list"})
		return
	}
	if list == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "list not found"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ListHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := parseListID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid list id"})
		return
	}

	list, err := h.listStore.InsertIfAbsent(id)
	if err != nil {
		h.logger.Error("create list", "list_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create list"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ListHandler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	id, err := parseListID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid list id"})
		return
	}

	var req replaceItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if msg := validateItems(req.Items); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}

	list, err := h.listStore.ReplaceItems(id, req.Items)
	if err != nil {
		h.logger.Error("replace items", "list_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to replace items"})
		return
	}
	if list == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "list not found"})
		return
	}

	h.hub.Broadcast(websocket.Snapshot{
		ListID:    list.ID,
		Items:     list.Items,
		Revision:  list.Revision,
		UpdatedAt: list.UpdatedAt,
		Origin:    req.Origin,
	})

	writeJSON(w, http.StatusOK, replaceItemsResponse{
		ID:        list.ID,
		Revision:  list.Revision,
		UpdatedAt: list.UpdatedAt,
	})
}

func (h *ListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseListID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid list id"})
		return
	}

	if err := h.listStore.Delete(id); err != nil {
		h.logger.Error("delete list", "list_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete list"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Share resolves a share URL: fetch the list, inserting an empty one under
// the requested id when absent, so loading /list/{id} always succeeds.
func (h *ListHandler) Share(w http.ResponseWriter, r *http.Request) {
	id, err := parseListID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid list id"})
		return
	}

	list, err := h.listStore.Fetch(id)
	if err != nil {
		h.logger.Error("fetch shared list", "list_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch list"})
		return
	}
	if list == nil {
		list, err = h.listStore.InsertIfAbsent(id)
		if err != nil {
			h.logger.Error("create shared list", "list_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create list"})
			return
		}
	}
	writeJSON(w, http.StatusOK, list)
}

// validateItems rejects malformed items before anything is written. Returns
// an empty string when the collection is valid.
func validateItems(items []model.ShoppingItem) string {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return "item id is required"
		}
		if _, dup := seen[it.ID]; dup {
			return "duplicate item id " + strconv.Quote(it.ID)
		}
		seen[it.ID] = struct{}{}
		if strings.TrimSpace(it.Name) == "" {
			return "item name is required"
		}
		if it.Price < 0 {
			return "item price must not be negative"
		}
		if it.Quantity < 1 {
			return "item quantity must be at least 1"
		}
	}
	return ""
}

func parseListID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", err
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
