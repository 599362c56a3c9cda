package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mfeltner/basket/internal/backup"
	"github.com/mfeltner/basket/internal/handler"
	"github.com/mfeltner/basket/internal/middleware"
	"github.com/mfeltner/basket/internal/store"
	ws "github.com/mfeltner/basket/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	listH         *handler.ListHandler
	historyH      *handler.HistoryHandler
	backupH       *handler.BackupHandler
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, backupCfg backup.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	listStore := store.NewListStore(db)
	historyStore := store.NewHistoryStore(db)
	settingsStore := store.NewSettingsStore(db)
	backupStore := store.NewBackupStore(db)

	backupMgr := backup.NewManager(backupCfg, db, backupStore, settingsStore, logger.With("component", "backup"))

	return &Server{
		db:            db,
		hub:           hub,
		listH:         handler.NewListHandler(listStore, hub, logger.With("component", "list")),
		historyH:      handler.NewHistoryHandler(historyStore, logger.With("component", "history")),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup")),
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupMgr,
		logger:        logger,
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// BackupManager returns the backup manager for startup and shutdown.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Remote list store operations
	mux.HandleFunc("GET /api/lists/{id}", s.listH.Get)
	mux.HandleFunc("POST /api/lists/{id}", s.rateLimited(s.listH.Create))
	mux.HandleFunc("PUT /api/lists/{id}/items", s.rateLimited(s.listH.ReplaceItems))
	mux.HandleFunc("DELETE /api/lists/{id}", s.rateLimited(s.listH.Delete))

	// Share URL: loading a shared link creates the list when absent
	mux.HandleFunc("GET /list/{id}", s.listH.Share)

	// Saved-list history
	mux.HandleFunc("GET /api/history", s.historyH.List)
	mux.HandleFunc("POST /api/history", s.rateLimited(s.historyH.Save))
	mux.HandleFunc("DELETE /api/history/{id}", s.rateLimited(s.historyH.Delete))

	// Backup administration
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("GET /api/backups/status", s.backupH.Status)
	mux.HandleFunc("POST /api/backups", s.rateLimited(s.backupH.RunNow))
	mux.HandleFunc("POST /api/backups/{id}/restore", s.rateLimited(s.backupH.Restore))

	// Change feed
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	mux.HandleFunc("GET /health", s.healthHandler)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 60, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
