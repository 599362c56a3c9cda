package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/store"
)

type HistoryHandler struct {
	historyStore *store.HistoryStore
	logger       *slog.Logger
}

func NewHistoryHandler(hs *store.HistoryStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{historyStore: hs, logger: logger}
}

type saveListRequest struct {
	Name  string               `json:"name"`
	Items []model.ShoppingItem `json:"items"`
}

func (h *HistoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if msg := validateItems(req.Items); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}

	saved, err := h.historyStore.Save(req.Name, req.Items)
	if err != nil {
		h.logger.Error("save list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save list"})
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	saved, err := h.historyStore.List()
	if err != nil {
		h.logger.Error("list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list history"})
		return
	}
	if saved == nil {
		saved = []model.SavedList{}
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.historyStore.Delete(id); err != nil {
		h.logger.Error("delete saved list", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete saved list"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
