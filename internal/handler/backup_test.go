package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mfeltner/basket/internal/backup"
	"github.com/mfeltner/basket/internal/database"
	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/store"
)

func setupBackupHandler(t *testing.T) (*BackupHandler, *store.BackupStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bs := store.NewBackupStore(db)
	ss := store.NewSettingsStore(db)
	m := backup.NewManager(backup.Config{}, db, bs, ss, testLogger())
	return NewBackupHandler(m, bs, testLogger()), bs
}

func TestBackupListEmpty(t *testing.T) {
	h, _ := setupBackupHandler(t)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/api/backups", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestBackupList(t *testing.T) {
	h, bs := setupBackupHandler(t)

	if _, err := bs.Create("backup-a.db.enc", "backup-a.db.enc"); err != nil {
		t.Fatalf("create record: %v", err)
	}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/api/backups", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var backups []model.Backup
	if err := json.NewDecoder(rec.Body).Decode(&backups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(backups) != 1 || backups[0].Filename != "backup-a.db.enc" {
		t.Errorf("backups = %+v, want one record for backup-a.db.enc", backups)
	}
}

func TestBackupStatus(t *testing.T) {
	h, _ := setupBackupHandler(t)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/api/backups/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var status backup.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != backup.StateDisabled {
		t.Errorf("state = %q, want %q", status.State, backup.StateDisabled)
	}
}

func TestBackupRunNowValidation(t *testing.T) {
	h, _ := setupBackupHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing passphrase", `{}`, http.StatusBadRequest},
		{"unconfigured manager", `{"passphrase":"secret"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.RunNow(rec, httptest.NewRequest("POST", "/api/backups", bytes.NewReader([]byte(tt.body))))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestBackupRestoreValidation(t *testing.T) {
	h, _ := setupBackupHandler(t)

	req := httptest.NewRequest("POST", "/api/backups/abc/restore", strings.NewReader(`{"passphrase":"x"}`))
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest("POST", "/api/backups/1/restore", strings.NewReader(`{}`))
	req.SetPathValue("id", "1")
	rec = httptest.NewRecorder()
	h.Restore(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing passphrase: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
